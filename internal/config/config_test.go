package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "trading_mode: dry-run\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Rate.PerSecond != 5 || c.Rate.DailyLimit != 10000 {
		t.Errorf("rate defaults = %v/%v, want 5/10000", c.Rate.PerSecond, c.Rate.DailyLimit)
	}
	if c.Retry.MaxAttempts != 3 || c.Retry.BackoffBaseMs != 500 {
		t.Errorf("retry defaults = %d/%d, want 3/500", c.Retry.MaxAttempts, c.Retry.BackoffBaseMs)
	}
	if c.Retry.TimeoutMs != 30000 {
		t.Errorf("timeout default = %d, want 30000", c.Retry.TimeoutMs)
	}
	if c.Timezone != "Asia/Seoul" {
		t.Errorf("timezone default = %q", c.Timezone)
	}
	if c.Ledger.RetentionHours != 24 {
		t.Errorf("retention default = %d, want 24", c.Ledger.RetentionHours)
	}
	if c.MetricsAddr != "127.0.0.1:8099" {
		t.Errorf("metrics addr default = %q, want 127.0.0.1:8099", c.MetricsAddr)
	}
	if c.Broker.TimeoutMs != 10000 {
		t.Errorf("broker timeout default = %d, want 10000", c.Broker.TimeoutMs)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
trading_mode: live
metrics_addr: 0.0.0.0:9100
broker:
  base_url: https://openapi.example.com
rate:
  per_second: 2
  burst: 2
  daily_limit: 100
risk:
  daily_loss_limit: 42
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.TradingMode != "live" {
		t.Errorf("TradingMode = %q", c.TradingMode)
	}
	if c.Rate.PerSecond != 2 || c.Rate.DailyLimit != 100 {
		t.Errorf("rate = %v/%v, want 2/100", c.Rate.PerSecond, c.Rate.DailyLimit)
	}
	if c.Risk.DailyLossLimit != 42 {
		t.Errorf("DailyLossLimit = %d, want 42", c.Risk.DailyLossLimit)
	}
	if c.MetricsAddr != "0.0.0.0:9100" {
		t.Errorf("MetricsAddr = %q, want 0.0.0.0:9100", c.MetricsAddr)
	}
	if c.Broker.BaseURL != "https://openapi.example.com" {
		t.Errorf("Broker.BaseURL = %q", c.Broker.BaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown_mode", "trading_mode: paper\n"},
		{"burst_over_daily", "rate:\n  burst: 50\n  daily_limit: 10\n"},
		{"live_without_broker_url", "trading_mode: live\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.TradingMode != "dry-run" {
		t.Errorf("TradingMode = %q, want dry-run", c.TradingMode)
	}
	if c.Breaker.FailureThreshold == 0 || c.Poll.IntervalMs == 0 {
		t.Error("defaults must fill every section")
	}
}

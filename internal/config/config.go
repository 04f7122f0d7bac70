package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Rate struct {
	PerSecond  float64 `yaml:"per_second"`
	Burst      int     `yaml:"burst"`
	DailyLimit int     `yaml:"daily_limit"`
}

type Breaker struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownMs       int `yaml:"cooldown_ms"`
	MaxCooldownMs    int `yaml:"max_cooldown_ms"`
}

type Risk struct {
	DailyLossLimit    int64  `yaml:"daily_loss_limit"`
	PositionLossLimit int64  `yaml:"position_loss_limit"`
	LossStreakCutoff  int    `yaml:"loss_streak_cutoff"`
	DailyOrderCap     int    `yaml:"daily_order_cap"`
	SevereLossLimit   int64  `yaml:"severe_loss_limit"`
	SnapshotPath      string `yaml:"snapshot_path"`
}

type Retry struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffMaxMs  int `yaml:"backoff_max_ms"`
	TimeoutMs     int `yaml:"timeout_ms"`
}

type Ledger struct {
	JournalPath    string `yaml:"journal_path"`
	RetentionHours int    `yaml:"retention_hours"`
}

type Sim struct {
	LatencyMsMin   int `yaml:"latency_ms_min"`
	LatencyMsMax   int `yaml:"latency_ms_max"`
	SlippageBpsMin int `yaml:"slippage_bps_min"`
	SlippageBpsMax int `yaml:"slippage_bps_max"`
}

type Broker struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Poll struct {
	IntervalMs int `yaml:"interval_ms"`
	TimeoutMs  int `yaml:"timeout_ms"`
}

type Root struct {
	TradingMode string  `yaml:"trading_mode"` // dry-run | live
	GlobalPause bool    `yaml:"global_pause"`
	Timezone    string  `yaml:"timezone"`
	MetricsAddr string  `yaml:"metrics_addr"`
	Rate        Rate    `yaml:"rate"`
	Breaker     Breaker `yaml:"breaker"`
	Risk        Risk    `yaml:"risk"`
	Retry       Retry   `yaml:"retry"`
	Ledger      Ledger  `yaml:"ledger"`
	Sim         Sim     `yaml:"sim"`
	Broker      Broker  `yaml:"broker"`
	Poll        Poll    `yaml:"poll"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns the configuration used when no file is supplied.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.TradingMode == "" {
		c.TradingMode = "dry-run"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:8099"
	}

	// Broker API allows 5 calls/sec and 10,000 calls/day.
	if c.Rate.PerSecond == 0 {
		c.Rate.PerSecond = 5
	}
	if c.Rate.Burst == 0 {
		c.Rate.Burst = 5
	}
	if c.Rate.DailyLimit == 0 {
		c.Rate.DailyLimit = 10000
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.CooldownMs == 0 {
		c.Breaker.CooldownMs = 30000
	}
	if c.Breaker.MaxCooldownMs == 0 {
		c.Breaker.MaxCooldownMs = 300000
	}

	if c.Risk.DailyLossLimit == 0 {
		c.Risk.DailyLossLimit = 500000
	}
	if c.Risk.PositionLossLimit == 0 {
		c.Risk.PositionLossLimit = 200000
	}
	if c.Risk.LossStreakCutoff == 0 {
		c.Risk.LossStreakCutoff = 3
	}
	if c.Risk.DailyOrderCap == 0 {
		c.Risk.DailyOrderCap = 20
	}
	if c.Risk.SevereLossLimit == 0 {
		c.Risk.SevereLossLimit = 300000
	}
	if c.Risk.SnapshotPath == "" {
		c.Risk.SnapshotPath = "data/risk_state.json"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffBaseMs == 0 {
		c.Retry.BackoffBaseMs = 500
	}
	if c.Retry.BackoffMaxMs == 0 {
		c.Retry.BackoffMaxMs = 8000
	}
	if c.Retry.TimeoutMs == 0 {
		c.Retry.TimeoutMs = 30000
	}

	if c.Ledger.JournalPath == "" {
		c.Ledger.JournalPath = "data/ledger.jsonl"
	}
	if c.Ledger.RetentionHours == 0 {
		c.Ledger.RetentionHours = 24
	}

	if c.Sim.LatencyMsMin == 0 {
		c.Sim.LatencyMsMin = 100
	}
	if c.Sim.LatencyMsMax == 0 {
		c.Sim.LatencyMsMax = 2000
	}
	if c.Sim.SlippageBpsMin == 0 {
		c.Sim.SlippageBpsMin = 1
	}
	if c.Sim.SlippageBpsMax == 0 {
		c.Sim.SlippageBpsMax = 5
	}

	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000
	}

	if c.Poll.IntervalMs == 0 {
		c.Poll.IntervalMs = 1000
	}
	if c.Poll.TimeoutMs == 0 {
		c.Poll.TimeoutMs = 60000
	}
}

func validate(c Root) error {
	switch c.TradingMode {
	case "dry-run", "live":
	default:
		return fmt.Errorf("config: trading_mode %q must be dry-run or live", c.TradingMode)
	}
	if c.Rate.Burst > c.Rate.DailyLimit {
		return fmt.Errorf("config: rate burst %d exceeds daily_limit %d", c.Rate.Burst, c.Rate.DailyLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry max_attempts must be at least 1")
	}
	if c.TradingMode == "live" && c.Broker.BaseURL == "" {
		return fmt.Errorf("config: live mode requires broker base_url")
	}
	return nil
}

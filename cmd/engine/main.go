package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/kyuwon-dev/dart-exec/internal/breaker"
	"github.com/kyuwon-dev/dart-exec/internal/broker"
	"github.com/kyuwon-dev/dart-exec/internal/config"
	"github.com/kyuwon-dev/dart-exec/internal/engine"
	"github.com/kyuwon-dev/dart-exec/internal/ledger"
	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
	"github.com/kyuwon-dev/dart-exec/internal/ratelimit"
	"github.com/kyuwon-dev/dart-exec/internal/risk"
)

type intentsFile struct {
	Intents []struct {
		Instrument string `json:"instrument"`
		Side       string `json:"side"`
		Qty        int64  `json:"qty"`
		PriceMode  string `json:"price_mode"`
		LimitPrice int64  `json:"limit_price"`
		Key        string `json:"key"`
	} `json:"intents"`
}

func main() {
	_ = godotenv.Load()

	var (
		cfgPath     string
		intentsPath string
		serve       bool
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&intentsPath, "intents", "fixtures/intents.json", "order intents fixture path")
	flag.BoolVar(&serve, "serve", false, "keep the /metrics server running after intents finish")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			log.Fatalf("load config: %v", err)
		}
	}

	// Env overrides win over the file.
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.TradingMode = v
	}
	if v := os.Getenv("GLOBAL_PAUSE"); v != "" {
		cfg.GlobalPause = v == "true"
	}

	if cfg.GlobalPause {
		observ.Log("global_pause", map[string]any{"note": "no intents will be submitted"})
		return
	}

	clock := market.RealClock{}
	cal, err := market.NewKRXCalendar()
	if err != nil {
		log.Fatalf("calendar: %v", err)
	}

	limiter := ratelimit.New(cfg.Rate.PerSecond, cfg.Rate.Burst, cfg.Rate.DailyLimit, cal, clock)
	brk := breaker.New("brokerage",
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.CooldownMs)*time.Millisecond,
		time.Duration(cfg.Breaker.MaxCooldownMs)*time.Millisecond,
		clock)

	guard := risk.New(risk.Limits{
		DailyLossLimit:    cfg.Risk.DailyLossLimit,
		PositionLossLimit: cfg.Risk.PositionLossLimit,
		LossStreakCutoff:  cfg.Risk.LossStreakCutoff,
		DailyOrderCap:     cfg.Risk.DailyOrderCap,
		SevereLossLimit:   cfg.Risk.SevereLossLimit,
	}, cfg.TradingMode == "live", brk.FailingFast, cal, clock)
	if err := guard.Restore(risk.NewStore(cfg.Risk.SnapshotPath)); err != nil {
		log.Fatalf("risk snapshot: %v", err)
	}

	led, err := ledger.NewPersistent(cfg.Ledger.JournalPath,
		time.Duration(cfg.Ledger.RetentionHours)*time.Hour, clock)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	sim := broker.NewSimTransport(cfg.Sim.LatencyMsMin, cfg.Sim.LatencyMsMax,
		cfg.Sim.SlippageBpsMin, cfg.Sim.SlippageBpsMax, 70000)

	var live broker.Transport
	if cfg.TradingMode == "live" {
		live, err = broker.NewRESTTransport(broker.RESTConfig{
			BaseURL: cfg.Broker.BaseURL,
			APIKey:  cfg.Broker.APIKey,
			Timeout: time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			log.Fatalf("broker: %v", err)
		}
	}

	mgr, err := engine.NewManager(engine.Options{
		LiveMode:     cfg.TradingMode == "live",
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Retry.BackoffBaseMs) * time.Millisecond,
		BackoffMax:   time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		CallTimeout:  time.Duration(cfg.Retry.TimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Poll.IntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(cfg.Poll.TimeoutMs) * time.Millisecond,
	}, engine.Deps{
		Guard:    guard,
		Ledger:   led,
		Limiter:  limiter,
		Breaker:  brk,
		Live:     live,
		Sim:      sim,
		Calendar: cal,
		Clock:    clock,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	observ.Log("engine_start", map[string]any{
		"trading_mode": cfg.TradingMode,
		"rate_daily":   cfg.Rate.DailyLimit,
	})

	if serve {
		go func() {
			http.Handle("/metrics", observ.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	intents := loadIntents(intentsPath)
	var wg sync.WaitGroup
	for _, it := range intents.Intents {
		wg.Add(1)
		go func(in engine.OrderIntent) {
			defer wg.Done()
			res, pending, err := mgr.Submit(context.Background(), in)
			if err != nil {
				log.Printf("submit %s: %v", in.IdempotencyKey, err)
				return
			}
			if pending != nil {
				res, err = pending.Await(context.Background())
				if err != nil {
					log.Printf("await %s: %v", in.IdempotencyKey, err)
					return
				}
			}
			fmt.Printf("%s %s %s qty=%d phase=%s reason=%s\n",
				in.IdempotencyKey, in.Instrument, in.Side, in.Quantity, res.Phase, res.Reason)
		}(engine.OrderIntent{
			Instrument:     it.Instrument,
			Side:           broker.Side(it.Side),
			Quantity:       it.Qty,
			PriceMode:      broker.PriceMode(it.PriceMode),
			LimitPrice:     it.LimitPrice,
			IdempotencyKey: it.Key,
		})
	}
	wg.Wait()

	if serve {
		select {}
	}
}

func loadIntents(path string) intentsFile {
	var f intentsFile
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(b, &f); err != nil {
		log.Fatalf("json %s: %v", path, err)
	}
	return f
}

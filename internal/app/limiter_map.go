package app

import (
	"fmt"
	"strings"
	"time"

	"jobthrottle/internal/task/limiter"
	"jobthrottle/internal/task/scheduler"
	logx "jobthrottle/pkg/logx"
)

const defaultStopTimeout = 10 * time.Second

// stopPolicy is how App.Stop treats the limiter.
type stopPolicy struct {
	wait    bool
	timeout time.Duration
}

func mapLimiterConfig(cfg *Config) (limiter.Settings, stopPolicy, error) {
	if cfg == nil {
		return limiter.DefaultSettings(), stopPolicy{timeout: defaultStopTimeout}, nil
	}
	lc := cfg.Limiter
	if lc.Concurrency < 0 {
		return limiter.Settings{}, stopPolicy{}, fmt.Errorf("limiter.concurrency must be >= 0")
	}
	minTime, err := parseDurationField("limiter.min_time", lc.MinTime)
	if err != nil {
		return limiter.Settings{}, stopPolicy{}, err
	}
	strategy, err := limiter.ParseStrategy(lc.Strategy)
	if err != nil {
		return limiter.Settings{}, stopPolicy{}, fmt.Errorf("limiter.strategy: %w", err)
	}
	highWater := -1
	if lc.HighWater != nil {
		if *lc.HighWater < 0 {
			return limiter.Settings{}, stopPolicy{}, fmt.Errorf("limiter.high_water must be >= 0 (omit it for no limit)")
		}
		highWater = *lc.HighWater
	}
	stopTimeout, err := parseDurationOrDefault("limiter.stop_timeout", lc.StopTimeout, defaultStopTimeout)
	if err != nil {
		return limiter.Settings{}, stopPolicy{}, err
	}

	return limiter.Settings{
		Concurrency:  lc.Concurrency,
		MinTime:      minTime,
		HighWater:    highWater,
		Strategy:     strategy,
		RejectOnDrop: lc.RejectOnDrop,
	}, stopPolicy{wait: lc.StopWait, timeout: stopTimeout}, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

func mapLoggingConfig(cfg *Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Limiter shapes how jobs are admitted and dispatched.
	Limiter LimiterConfig `json:"limiter"`

	// Scheduler controls trigger behavior (cron/interval).
	Scheduler SchedulerConfig `json:"scheduler"`

	Jobs []JobConfig `json:"jobs,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Admin is an optional HTTP endpoint for status, manual runs and pprof.
	Admin AdminConfig `json:"admin"`
}

// LimiterConfig controls the job limiter.
//
// All durations are Go duration strings (e.g. "250ms", "1s").
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 0 (unbounded)
//   - min_time: "0s" (no spacing)
//   - high_water: omitted (no queue limit)
//   - strategy: "leak"
//   - stop_wait: false (queued jobs are dropped, running jobs are not awaited)
//   - stop_timeout: "10s"
type LimiterConfig struct {
	Concurrency int    `json:"concurrency,omitempty"`
	MinTime     string `json:"min_time,omitempty"`

	// HighWater is a pointer so an explicit 0 ("never queue") is distinguishable
	// from an omitted limit.
	HighWater    *int   `json:"high_water,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	RejectOnDrop bool   `json:"reject_on_drop,omitempty"`

	// StopWait makes shutdown wait for running jobs, bounded by StopTimeout.
	StopWait    bool   `json:"stop_wait,omitempty"`
	StopTimeout string `json:"stop_timeout,omitempty"`
}

// JobConfig declares one external command run through the limiter.
//
// Example:
//
//	{ "name": "backup", "schedule": "@every 1h", "priority": 3,
//	  "command": "/usr/local/bin/backup.sh", "args": ["--quick"], "timeout": "5m" }
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Priority is 0 (most important) to 9. Omitted means 5.
	Priority *int `json:"priority,omitempty"`

	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// Timeout is a Go duration string. "0s" or omitted disables it.
	Timeout string `json:"timeout,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

// UnmarshalJSON disallows unknown fields so a typo inside a job entry is
// caught during reload instead of silently ignored.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t plain
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*j = JobConfig(t)
	return nil
}

// StorageConfig controls the optional outcome journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./throttled.db", "max_rows": 10000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxRows     int    `json:"max_rows,omitempty"`     // 0 keeps everything
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mirrors warn+ lines to stderr at a bounded rate.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone.
	Timezone string `json:"timezone,omitempty"`
}

// AdminConfig controls the optional admin HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

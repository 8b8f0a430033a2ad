package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobthrottle/internal/config"
	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/observability/admin"
	"jobthrottle/internal/storage"
	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

func intPtr(v int) *int { return &v }

func job(name, schedule, command string, priority *int) config.JobConfig {
	return config.JobConfig{Name: name, Schedule: schedule, Command: command, Priority: priority}
}

func TestMapLimiterConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      Config
		want    limiter.Settings
		stop    stopPolicy
		wantErr string
	}{
		{
			name: "defaults",
			want: limiter.Settings{HighWater: -1, Strategy: limiter.StrategyLeak},
			stop: stopPolicy{timeout: defaultStopTimeout},
		},
		{
			name: "full",
			in: Config{Limiter: config.LimiterConfig{
				Concurrency:  2,
				MinTime:      "250ms",
				HighWater:    intPtr(0),
				Strategy:     "overflow-priority",
				RejectOnDrop: true,
				StopWait:     true,
				StopTimeout:  "3s",
			}},
			want: limiter.Settings{
				Concurrency:  2,
				MinTime:      250 * time.Millisecond,
				HighWater:    0,
				Strategy:     limiter.StrategyOverflowPriority,
				RejectOnDrop: true,
			},
			stop: stopPolicy{wait: true, timeout: 3 * time.Second},
		},
		{name: "negative concurrency", in: Config{Limiter: config.LimiterConfig{Concurrency: -1}}, wantErr: "limiter.concurrency"},
		{name: "negative high water", in: Config{Limiter: config.LimiterConfig{HighWater: intPtr(-2)}}, wantErr: "limiter.high_water"},
		{name: "bad strategy", in: Config{Limiter: config.LimiterConfig{Strategy: "fifo"}}, wantErr: "limiter.strategy"},
		{name: "bad min time", in: Config{Limiter: config.LimiterConfig{MinTime: "soon"}}, wantErr: "limiter.min_time"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, stop, err := mapLimiterConfig(&tt.in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapLimiterConfig: %v", err)
			}
			if got != tt.want {
				t.Fatalf("settings = %+v, want %+v", got, tt.want)
			}
			if stop != tt.stop {
				t.Fatalf("stop = %+v, want %+v", stop, tt.stop)
			}
		})
	}
}

func TestMapJobs(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Jobs = append(cfg.Jobs,
		job("a", "5m", "/bin/true", nil),
		job("b", "@hourly", "/bin/true", intPtr(1)),
	)
	off := job("c", "1h", "/bin/true", nil)
	off.Disabled = true
	cfg.Jobs = append(cfg.Jobs, off)

	triggers, err := mapJobs(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("mapJobs: %v", err)
	}
	if len(triggers) != 2 {
		t.Fatalf("triggers = %d, want 2 (disabled skipped)", len(triggers))
	}
	if triggers[0].Priority != limiter.DefaultPriority || triggers[1].Priority != 1 {
		t.Fatalf("priorities = %d,%d, want %d,1", triggers[0].Priority, triggers[1].Priority, limiter.DefaultPriority)
	}

	bad := &Config{}
	bad.Jobs = append(bad.Jobs,
		job("", "5m", "/bin/true", nil),
		job("dup", "5m", "/bin/true", nil),
		job("dup", "5m", "/bin/true", nil),
		job("nocmd", "5m", "", nil),
		job("cron", "61 * * * *", "/bin/true", nil),
		job("prio", "5m", "/bin/true", intPtr(10)),
	)
	_, err = mapJobs(bad, logx.Nop())
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"jobs[0].name", "jobs[dup]: duplicate", "jobs[nocmd].command", "jobs[cron].schedule", "jobs[prio].priority"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err = %v, missing %q", err, want)
		}
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "x"}, enabled: true, driver: "file"},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "nope"}, wantErr: true},
		{name: "negative rows", in: &config.StorageConfig{Driver: "file", Path: "x", MaxRows: -1}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver {
				t.Fatalf("got (%q, %v), want (%q, %v)", sc.Driver, enabled, tt.driver, tt.enabled)
			}
		})
	}
}

func TestOutcomeFromEvent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	o, ok := outcomeFromEvent(eventbus.Event{Type: eventbus.TypeJobDropped, Time: now, Data: limiter.JobEvent{
		Limiter: "main", ID: 7, Name: "backup", Priority: 3, Reason: "leak",
	}})
	if !ok {
		t.Fatal("expected job event to convert")
	}
	if o.State != "dropped" || o.JobID != 7 || o.Reason != "leak" || !o.At.Equal(now) {
		t.Fatalf("outcome = %+v", o)
	}
	if _, ok := outcomeFromEvent(eventbus.Event{Type: eventbus.TypeJobFinished, Data: "x"}); ok {
		t.Fatal("non job event converted")
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

const testConfig = `
logging:
  level: error
limiter:
  concurrency: 1
  strategy: overflow
scheduler:
  enabled: false
jobs:
  - name: hello
    schedule: 1h
    priority: 2
    command: /bin/sh
    args: ["-c", "echo hi"]
storage:
  driver: file
  path: %DIR%/journal
`

func TestAppRunsJobsAndJournals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "throttled.yaml")
	writeConfig(t, path, strings.ReplaceAll(testConfig, "%DIR%", dir))

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f, err := a.Scheduler().RunNow("hello")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	v, err := f.Wait(ctx)
	if err != nil || v != "hi\n" {
		t.Fatalf("job = (%q, %v), want (hi, nil)", v, err)
	}

	// Live reload of limiter settings.
	writeConfig(t, path, strings.ReplaceAll(strings.Replace(testConfig, "concurrency: 1", "concurrency: 3", 1), "%DIR%", dir))
	if _, err := a.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for a.Limiter().Settings().Concurrency != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("concurrency = %d, want 3 after reload", a.Limiter().Settings().Concurrency)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A bad reload is rejected and leaves settings alone.
	writeConfig(t, path, strings.ReplaceAll(strings.Replace(testConfig, "overflow", "fifo", 1), "%DIR%", dir))
	if _, err := a.Reload(ctx); err == nil {
		t.Fatal("expected bad strategy to be rejected")
	}
	if got := a.Limiter().Settings().Strategy; got != limiter.StrategyOverflow {
		t.Fatalf("strategy = %v, want overflow", got)
	}

	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !a.Limiter().Stopped() {
		t.Fatal("limiter not stopped")
	}

	outs, err := History(ctx, path, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outs))
	}
	if o := outs[0]; o.Name != "hello" || o.State != "finished" || o.Priority != 2 || o.RunID == "" {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	writeConfig(t, path, `{"limiter": {"concurrency": 1}}`)
	if _, err := History(context.Background(), path, 5); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestMapAdminConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.AdminConfig
		addr    string
		wantErr string
	}{
		{name: "disabled defaults", addr: admin.DefaultAddr},
		{name: "loopback", in: config.AdminConfig{Enabled: true, Addr: "127.0.0.1:7070"}, addr: "127.0.0.1:7070"},
		{name: "public with token", in: config.AdminConfig{Enabled: true, Addr: "0.0.0.0:7070", Token: "s"}, addr: "0.0.0.0:7070"},
		{name: "public without token", in: config.AdminConfig{Enabled: true, Addr: "0.0.0.0:7070"}, wantErr: "non-loopback"},
		{name: "bad addr", in: config.AdminConfig{Enabled: true, Addr: "localhost"}, wantErr: "admin.addr"},
		{name: "bad timeout", in: config.AdminConfig{ReadTimeout: "later"}, wantErr: "admin.read_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapAdminConfig(&Config{Admin: tt.in})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapAdminConfig: %v", err)
			}
			if got.Addr != tt.addr || got.ReadTimeout != 5*time.Second || got.IdleTimeout != 120*time.Second {
				t.Fatalf("config = %+v", got)
			}
		})
	}
}

func TestAdminBackend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.yaml")
	writeConfig(t, path, "logging:\n  level: error\nlimiter:\n  concurrency: 1\njobs:\n  - name: ok\n    schedule: 1h\n    command: /bin/true\n")
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	b := adminBackend{a: a}
	if _, err := b.RunNow("nope"); !errors.Is(err, admin.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
	res, err := b.RunNow("ok")
	if err != nil || res.Dropped || res.Name != "ok" {
		t.Fatalf("RunNow = (%+v, %v)", res, err)
	}
	st := b.Status().(Status)
	if st.Limiter.Settings.Concurrency != 1 || len(st.Scheduler.Schedules) != 1 {
		t.Fatalf("status = %+v", st)
	}
}

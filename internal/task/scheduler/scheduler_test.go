package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "CRON: 0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 02:30", kind: SpecInterval, source: "hhmm", duration: 150 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "cron:", "interval:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

// fakeSubmitter records submissions and resolves them through a real limiter.
type fakeSubmitter struct {
	mu    sync.Mutex
	names []string
	prios []int
	l     *limiter.Limiter
}

func (f *fakeSubmitter) SchedulePriority(ctx context.Context, priority int, work limiter.Work, args ...any) *limiter.Future {
	f.mu.Lock()
	f.names = append(f.names, limiter.JobName(ctx))
	f.prios = append(f.prios, priority)
	f.mu.Unlock()
	return f.l.SchedulePriority(ctx, priority, work, args...)
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names)
}

func noop(ctx context.Context, args ...any) (any, error) { return "ok", nil }

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSubmitter{l: limiter.New(limiter.DefaultSettings())}, logx.Nop(), nil)

	if err := s.Add(Trigger{Schedule: "1m", Work: noop}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
	if err := s.Add(Trigger{Name: "a", Schedule: "1m"}); !errors.Is(err, ErrNoWork) {
		t.Fatalf("err = %v, want ErrNoWork", err)
	}
	if err := s.Add(Trigger{Name: "a", Schedule: "61 * * * *", Work: noop}); err == nil {
		t.Fatal("expected cron validation error")
	}
	if err := s.Add(Trigger{Name: "a", Schedule: "5m", Work: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := s.Snapshot().Schedules[0].Spec; got != "@every 5m0s" {
		t.Fatalf("Spec = %q, want @every 5m0s", got)
	}
}

func TestReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeSubmitter{l: limiter.New(limiter.DefaultSettings())}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for _, name := range []string{"a", "b", "c"} {
		if err := s.Add(Trigger{Name: name, Schedule: "@hourly", Work: noop}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	// Re-adding replaces rather than duplicates.
	if err := s.Add(Trigger{Name: "a", Schedule: "@daily", Priority: 2, Work: noop}); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if n := len(s.Snapshot().Schedules); n != 3 {
		t.Fatalf("schedules = %d, want 3", n)
	}

	err := s.Replace([]Trigger{
		{Name: "a", Schedule: "@daily", Priority: 2, Work: noop},
		{Name: "d", Schedule: "30s", Work: noop},
		{Name: "bad", Schedule: "whenever", Work: noop},
	})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("Replace err = %v, want error naming the bad trigger", err)
	}

	var names []string
	for _, si := range s.Snapshot().Schedules {
		names = append(names, si.Name)
		if si.Next.IsZero() {
			t.Fatalf("schedule %s has no next run while started", si.Name)
		}
	}
	if got := strings.Join(names, ","); got != "a,d" {
		t.Fatalf("schedules = %s, want a,d", got)
	}

	if !s.Remove("d") || s.Remove("d") {
		t.Fatal("Remove should report true once, then false")
	}
}

func TestRunNowSubmitsWithNameAndPriority(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	fired, unsub := bus.Subscribe(4, eventbus.TypeTriggerFired)
	defer unsub()

	sub := &fakeSubmitter{l: limiter.New(limiter.DefaultSettings())}
	s := New(Config{}, sub, logx.Nop(), bus)
	if err := s.Add(Trigger{Name: "report", Schedule: "@daily", Priority: 1, Work: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := s.RunNow("missing"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("RunNow(missing) err = %v, want ErrUnknown", err)
	}
	f, err := s.RunNow("report")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	v, err := f.Wait(context.Background())
	if err != nil || v != "ok" {
		t.Fatalf("job = (%v, %v), want (ok, nil)", v, err)
	}
	if sub.names[0] != "report" || sub.prios[0] != 1 {
		t.Fatalf("submitted (%q, %d), want (report, 1)", sub.names[0], sub.prios[0])
	}

	select {
	case e := <-fired:
		ev := e.Data.(FiredEvent)
		if ev.Name != "report" || !ev.Manual || ev.Dropped {
			t.Fatalf("fired event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no trigger.fired event")
	}
}

func TestFireReportsDrop(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	fired, unsub := bus.Subscribe(4, eventbus.TypeTriggerFired)
	defer unsub()

	l := limiter.New(limiter.Settings{Concurrency: 1, HighWater: 0, Strategy: limiter.StrategyOverflow})
	release := make(chan struct{})
	defer close(release)
	l.Schedule(context.Background(), func(ctx context.Context, args ...any) (any, error) {
		<-release
		return nil, nil
	})

	s := New(Config{}, &fakeSubmitter{l: l}, logx.Nop(), bus)
	_ = s.Add(Trigger{Name: "busy", Schedule: "1h", Work: noop})
	f, _ := s.RunNow("busy")
	if r, ok := f.Result(); !ok || !r.Dropped {
		t.Fatalf("result = %+v (ok=%v), want dropped", r, ok)
	}
	ev := (<-fired).Data.(FiredEvent)
	if !ev.Dropped {
		t.Fatalf("fired event = %+v, want Dropped", ev)
	}
}

func TestCronFiresIntoLimiter(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{l: limiter.New(limiter.DefaultSettings())}
	s := New(Config{Enabled: true, Timezone: "UTC"}, sub, logx.Nop(), nil)
	if err := s.Add(Trigger{Name: "tick", Schedule: "* * * * * *", Work: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for sub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cron trigger never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := s.Snapshot().Timezone; got != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", got)
	}
}

func TestIntervalSpread(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(10*time.Second, now, "x")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter = %v, want [0, 10s)", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Second + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	if second := sched.Next(first); second.Sub(first) != 10*time.Second {
		t.Fatalf("second run %v after first, want 10s", second.Sub(first))
	}
}

package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

var (
	ErrNameRequired = errors.New("trigger name required")
	ErrNoWork       = errors.New("trigger has no work")
	ErrUnknown      = errors.New("unknown trigger")
)

// Add registers t, replacing any trigger with the same name.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "0 */10 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) Add(t Trigger) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return ErrNameRequired
	}
	if t.Work == nil {
		return ErrNoWork
	}
	spec, err := normalizeSpec(s.parser, t.Schedule)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", t.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t.Name)
	s.defs = append(s.defs, scheduleDef{trig: t, spec: spec})
	if s.c == nil {
		// Registered with cron when Start runs.
		return nil
	}

	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return fmt.Errorf("trigger %s: %w", t.Name, err)
	}
	fields := []logx.Field{logx.String("name", t.Name), logx.String("spec", spec), logx.Int("priority", t.Priority)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return nil
}

// Replace makes the registered set equal to ts. Triggers not in ts are removed.
// Invalid triggers are skipped and reported together in the returned error.
func (s *Service) Replace(ts []Trigger) error {
	keep := make(map[string]struct{}, len(ts))
	var errs []error
	for _, t := range ts {
		if err := s.Add(t); err != nil {
			errs = append(errs, err)
			continue
		}
		keep[strings.TrimSpace(t.Name)] = struct{}{}
	}

	s.mu.Lock()
	var stale []string
	for _, d := range s.defs {
		if _, ok := keep[d.trig.Name]; !ok {
			stale = append(stale, d.trig.Name)
		}
	}
	for _, name := range stale {
		s.removeLocked(name)
	}
	s.mu.Unlock()

	if len(stale) > 0 {
		s.log.Debug("schedules removed", logx.Any("names", stale))
	}
	return errors.Join(errs...)
}

// Remove unschedules the trigger with the given name. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// RunNow fires the named trigger immediately, outside its schedule. It works
// whether or not the scheduler is started.
func (s *Service) RunNow(name string) (*limiter.Future, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	var d *scheduleDef
	for i := range s.defs {
		if s.defs[i].trig.Name == name {
			cp := s.defs[i]
			d = &cp
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return s.fire(d, true), nil
}

// removeLocked drops every def named name and unregisters it from cron.
func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.trig.Name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = scheduleDef{}
	}
	s.defs = s.defs[:n]
	return removed
}

// ValidateSchedule reports whether Add would accept raw as a schedule.
func ValidateSchedule(raw string) error {
	_, err := normalizeSpec(cronParser, raw)
	return err
}

// normalizeSpec turns a schedule string into something cron accepts and
// validates cron expressions up front.
func normalizeSpec(p cron.Parser, raw string) (string, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecInterval:
		return "@every " + ps.Every.String(), nil
	case SpecCron:
		if _, err := p.Parse(ps.Cron); err != nil {
			return "", fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
		return ps.Cron, nil
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() { s.fire(&def, false) })

	// Interval schedules get a random first delay so triggers registered
	// together do not all fire in the same instant.
	if strings.HasPrefix(d.spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(loc), d.trig.Name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// fire submits one run of d to the limiter. Admission drops and stopped
// limiters resolve the future before SchedulePriority returns, so they are
// visible here without waiting for the job.
func (s *Service) fire(d *scheduleDef, manual bool) *limiter.Future {
	s.mu.Lock()
	base := s.jobCtx
	s.mu.Unlock()

	t := d.trig
	ctx := limiter.WithJobName(base, t.Name)
	f := s.sub.SchedulePriority(ctx, t.Priority, t.Work, t.Args...)

	ev := FiredEvent{Name: t.Name, Spec: d.spec, Priority: t.Priority, Manual: manual}
	if r, ok := f.Result(); ok {
		ev.Dropped = r.Dropped
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		if r.Dropped || errors.Is(r.Err, limiter.ErrStopped) {
			s.reportSubmitError(t.Name, r)
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFired, Time: time.Now(), Data: ev})
	}
	return f
}

func (s *Service) reportSubmitError(name string, r limiter.Result) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()

	if r.Dropped {
		s.log.Warn("trigger dropped by limiter", logx.String("trigger", name), logx.Err(r.Err))
		return
	}
	s.log.Warn("trigger refused by limiter", logx.String("trigger", name), logx.Err(r.Err))
}

// previewNextRunsLocked returns the next n run times of spec for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if n <= 0 || !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

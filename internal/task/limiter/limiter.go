package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobthrottle/internal/eventbus"
	logx "jobthrottle/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Limiter schedules jobs under a concurrency cap and a minimum start spacing.
// All methods are safe for concurrent use.
type Limiter struct {
	name string
	log  logx.Logger
	bus  eventbus.Bus

	// warnEvery throttles drop warnings; drops can arrive in bursts.
	warnEvery *rate.Limiter

	listeners listenerSet

	mu       sync.Mutex
	settings Settings
	queue    priorityQueue
	gate     gate
	stopped  bool
	idle     bool
	seq      uint64

	timer      *time.Timer
	timerGen   uint64
	nextWakeAt time.Time

	stopWaiters []*completion
	stats       counters
}

type counters struct {
	submitted uint64
	started   uint64
	completed uint64
	failed    uint64
	dropped   uint64
	rejected  uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger. The zero logx.Logger discards everything.
func WithLogger(log logx.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithBus mirrors job and limiter events onto bus.
func WithBus(bus eventbus.Bus) Option {
	return func(l *Limiter) { l.bus = bus }
}

// WithName labels log lines and bus events.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// New returns a running limiter.
func New(s Settings, opts ...Option) *Limiter {
	l := &Limiter{
		name:      "default",
		settings:  s.normalized(),
		idle:      true,
		warnEvery: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("limiter", l.name))
	return l
}

// Name returns the limiter label.
func (l *Limiter) Name() string { return l.name }

func (l *Limiter) submit(priority int, name string, args []any, run runner, done *completion) {
	now := time.Now()

	l.mu.Lock()
	if l.stopped {
		l.stats.rejected++
		l.mu.Unlock()
		if l.bus != nil {
			l.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRejected, Time: now, Data: JobEvent{
				Limiter:  l.name,
				Name:     name,
				Priority: clampPriority(priority),
				State:    StateRejected.String(),
				Error:    ErrStopped.Error(),
			}})
		}
		done.resolve(Result{Err: ErrStopped})
		return
	}

	l.seq++
	j := &job{
		id:         l.seq,
		name:       name,
		priority:   clampPriority(priority),
		args:       args,
		run:        run,
		done:       done,
		state:      StateQueued,
		enqueuedAt: now,
	}
	l.stats.submitted++

	var out outbox
	if l.admitLocked(j, now, &out) {
		l.queue.push(j)
		l.idle = false
		out.publish(eventbus.TypeJobQueued, now, j.event(l.name, StateQueued))
		l.dispatchLocked(now, &out)
	}
	l.mu.Unlock()

	l.flush(&out)
}

// Queued returns the number of waiting jobs. With a priority argument it
// counts only jobs queued at exactly that level.
func (l *Limiter) Queued(priority ...int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(priority) > 0 {
		return l.queue.countAt(priority[0])
	}
	return l.queue.count()
}

// Running returns the number of jobs currently executing.
func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.running
}

// Check reports whether a job submitted now would start immediately.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.queue.count() > 0 {
		return false
	}
	ok, _ := l.gate.check(time.Now(), l.settings)
	return ok
}

// Settings returns the current settings.
func (l *Limiter) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// ChangeSettings applies a partial update and re-runs dispatch. Raising
// Concurrency or lowering MinTime can start queued jobs immediately.
func (l *Limiter) ChangeSettings(u SettingsUpdate) {
	if u.IsZero() {
		return
	}
	now := time.Now()

	l.mu.Lock()
	prev := l.settings
	l.settings = prev.apply(u)
	next := l.settings
	var out outbox
	out.publish(eventbus.TypeLimiterChanged, now, next)
	l.dispatchLocked(now, &out)
	l.mu.Unlock()

	l.log.Info("limiter settings changed",
		logx.Int("concurrency", next.Concurrency),
		logx.Duration("min_time", next.MinTime),
		logx.Int("high_water", next.HighWater),
		logx.String("strategy", next.Strategy.String()),
		logx.Bool("reject_on_drop", next.RejectOnDrop),
	)
	l.flush(&out)
}

// Snapshot returns a consistent view of queue, gate and counters.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Limiter) snapshotLocked() Snapshot {
	s := Snapshot{
		Name:           l.name,
		Settings:       l.settings,
		Stopped:        l.stopped,
		Queued:         l.queue.count(),
		Running:        l.gate.running,
		LastDispatchAt: l.gate.lastDispatchAt,
		NextDispatchAt: l.nextWakeAt,
		Submitted:      l.stats.submitted,
		Started:        l.stats.started,
		Completed:      l.stats.completed,
		Failed:         l.stats.failed,
		Dropped:        l.stats.dropped,
		Rejected:       l.stats.rejected,
	}
	for p := range s.QueuedByPriority {
		s.QueuedByPriority[p] = l.queue.countAt(p)
	}
	return s
}

func (l *Limiter) droppedTotal() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.dropped
}

package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 5

	numPriorities = MaxPriority - MinPriority + 1
)

// clampPriority maps out-of-range priorities onto the nearest valid level.
func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Strategy selects what happens when a submission finds the queue at HighWater.
type Strategy int

const (
	// StrategyLeak evicts the least important, oldest queued job to make room.
	StrategyLeak Strategy = iota
	// StrategyOverflow drops the incoming job.
	StrategyOverflow
	// StrategyOverflowPriority evicts a queued job only if the incoming one is
	// strictly more important; otherwise the incoming job is dropped.
	StrategyOverflowPriority
	// StrategyBlock refuses the incoming job.
	StrategyBlock
)

func (s Strategy) String() string {
	switch s {
	case StrategyLeak:
		return "leak"
	case StrategyOverflow:
		return "overflow"
	case StrategyOverflowPriority:
		return "overflow_priority"
	case StrategyBlock:
		return "block"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStrategy parses the config spelling of a strategy. Empty means leak.
func ParseStrategy(raw string) (Strategy, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "", "leak":
		return StrategyLeak, nil
	case "overflow":
		return StrategyOverflow, nil
	case "overflow_priority":
		return StrategyOverflowPriority, nil
	case "block":
		return StrategyBlock, nil
	default:
		return StrategyLeak, fmt.Errorf("unknown strategy %q (use leak, overflow, overflow_priority or block)", raw)
	}
}

// Settings controls admission and dispatch.
//
// Invalid values are clamped, never rejected:
//   - Concurrency <= 0 means unbounded.
//   - MinTime < 0 is treated as 0.
//   - HighWater < 0 disables admission control.
type Settings struct {
	Concurrency  int
	MinTime      time.Duration
	HighWater    int
	Strategy     Strategy
	RejectOnDrop bool
}

// DefaultSettings returns an unbounded limiter with no queue limit.
func DefaultSettings() Settings {
	return Settings{HighWater: -1}
}

func (s Settings) normalized() Settings {
	if s.Concurrency < 0 {
		s.Concurrency = 0
	}
	if s.MinTime < 0 {
		s.MinTime = 0
	}
	if s.HighWater < 0 {
		s.HighWater = -1
	}
	switch s.Strategy {
	case StrategyLeak, StrategyOverflow, StrategyOverflowPriority, StrategyBlock:
	default:
		s.Strategy = StrategyLeak
	}
	return s
}

// SettingsUpdate is a partial settings change. Nil fields are left unchanged.
type SettingsUpdate struct {
	Concurrency  *int
	MinTime      *time.Duration
	HighWater    *int
	Strategy     *Strategy
	RejectOnDrop *bool
}

// IsZero reports whether the update changes nothing.
func (u SettingsUpdate) IsZero() bool {
	return u.Concurrency == nil && u.MinTime == nil && u.HighWater == nil && u.Strategy == nil && u.RejectOnDrop == nil
}

func (s Settings) apply(u SettingsUpdate) Settings {
	if u.Concurrency != nil {
		s.Concurrency = *u.Concurrency
	}
	if u.MinTime != nil {
		s.MinTime = *u.MinTime
	}
	if u.HighWater != nil {
		s.HighWater = *u.HighWater
	}
	if u.Strategy != nil {
		s.Strategy = *u.Strategy
	}
	if u.RejectOnDrop != nil {
		s.RejectOnDrop = *u.RejectOnDrop
	}
	return s.normalized()
}

// Diff returns the update that turns s into next.
func (s Settings) Diff(next Settings) SettingsUpdate {
	var u SettingsUpdate
	if s.Concurrency != next.Concurrency {
		u.Concurrency = &next.Concurrency
	}
	if s.MinTime != next.MinTime {
		u.MinTime = &next.MinTime
	}
	if s.HighWater != next.HighWater {
		u.HighWater = &next.HighWater
	}
	if s.Strategy != next.Strategy {
		u.Strategy = &next.Strategy
	}
	if s.RejectOnDrop != next.RejectOnDrop {
		u.RejectOnDrop = &next.RejectOnDrop
	}
	return u
}

// JobState is the lifecycle state of a submitted job.
type JobState int

const (
	StateQueued JobState = iota
	StateRunning
	StateCompleted
	StateDropped
	// StateRejected marks submissions refused because the limiter was stopped.
	// Such submissions never become queued jobs.
	StateRejected
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateDropped:
		return "dropped"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Work is a unit of work run by Schedule. Args are passed through untouched.
type Work func(ctx context.Context, args ...any) (any, error)

// CallbackWork is a unit of work run by Submit. It must call done once when
// finished; extra calls are ignored.
type CallbackWork func(args []any, done func(value any, err error))

// Callback receives the terminal outcome of a Submit call.
type Callback func(value any, err error)

// Result is the terminal outcome of a job.
//
// Dropped jobs carry Dropped=true and, if RejectOnDrop is set, a *DropError.
type Result struct {
	Value   any
	Err     error
	Dropped bool
}

// JobEvent is published on the event bus for job lifecycle events.
type JobEvent struct {
	Limiter    string        `json:"limiter"`
	ID         uint64        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Priority   int           `json:"priority"`
	State      string        `json:"state"`
	EnqueuedAt time.Time     `json:"enqueued_at,omitempty"`
	Started    time.Time     `json:"started,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Name     string
	Settings Settings
	Stopped  bool

	Queued           int
	QueuedByPriority [numPriorities]int
	Running          int
	LastDispatchAt   time.Time
	NextDispatchAt   time.Time

	Submitted uint64
	Started   uint64
	Completed uint64
	Failed    uint64
	Dropped   uint64
	Rejected  uint64
}

type jobNameKey struct{}

// WithJobName attaches a display name to jobs scheduled with ctx.
// The name shows up in logs and bus events only.
func WithJobName(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobNameKey{}, strings.TrimSpace(name))
}

// JobName returns the name attached by WithJobName.
func JobName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(jobNameKey{}).(string)
	return s
}

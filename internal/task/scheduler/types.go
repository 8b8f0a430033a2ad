package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Submitter accepts jobs. *limiter.Limiter satisfies it.
type Submitter interface {
	SchedulePriority(ctx context.Context, priority int, work limiter.Work, args ...any) *limiter.Future
}

// Trigger is a named job with a schedule.
type Trigger struct {
	Name     string
	Schedule string
	Priority int
	Work     limiter.Work
	Args     []any
}

// FiredEvent is published on the bus each time a trigger fires.
type FiredEvent struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Priority int    `json:"priority"`
	Manual   bool   `json:"manual,omitempty"`
	Dropped  bool   `json:"dropped,omitempty"`
	Error    string `json:"error,omitempty"`
}

type scheduleDef struct {
	trig          Trigger
	spec          string // normalized cron spec or "@every <d>"
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	sub Submitter
	// jobCtx is handed to every submitted job. It carries the Start context's
	// values but not its cancellation, so stopping triggers never aborts work.
	jobCtx context.Context

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Submit warning throttling: key is trigger name.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Priority int
	Spread   time.Duration
	Next     time.Time
	Prev     time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxRows     int           // 0 keeps everything
}

// Outcome records how one job ended.
// Keep it compact and schema-stable.
type Outcome struct {
	RunID      string        `json:"run_id"`
	At         time.Time     `json:"at"`
	Limiter    string        `json:"limiter,omitempty"`
	JobID      uint64        `json:"job_id"`
	Name       string        `json:"name,omitempty"`
	Priority   int           `json:"priority"`
	State      string        `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// fill assigns a run ID and timestamp when the caller left them empty.
func (o *Outcome) fill() {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
}

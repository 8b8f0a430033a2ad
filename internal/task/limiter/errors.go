package limiter

import (
	"errors"
	"fmt"
)

var (
	ErrStopped = errors.New("limiter is stopped")
	ErrDropped = errors.New("job has been dropped")
	ErrNilWork = errors.New("limiter: work is nil")
)

// DropReason says why a job was dropped.
type DropReason string

const (
	DropLeak             DropReason = "leak"
	DropOverflow         DropReason = "overflow"
	DropOverflowPriority DropReason = "overflow_priority"
	DropBlock            DropReason = "block"
	DropStopped          DropReason = "stopped"
)

// DropError is delivered to a dropped job's handle when RejectOnDrop is set.
//
//	if errors.Is(err, limiter.ErrDropped) { ... }
type DropError struct {
	JobID    uint64
	Priority int
	Reason   DropReason
}

func (e *DropError) Error() string {
	return fmt.Sprintf("%s (job %d, priority %d, reason %s)", ErrDropped.Error(), e.JobID, e.Priority, e.Reason)
}

func (e *DropError) Is(target error) bool { return target == ErrDropped }

// IsDropped reports whether err is a drop error.
func IsDropped(err error) bool { return errors.Is(err, ErrDropped) }

// PanicError wraps a panic raised by a work function.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

package limiter

import "time"

// runner invokes the caller's work and reports completion through complete.
type runner func(args []any, complete func(value any, err error))

// job is the limiter-owned record of one submission.
type job struct {
	id       uint64
	name     string
	priority int
	args     []any
	run      runner
	done     *completion

	state      JobState
	enqueuedAt time.Time
	startedAt  time.Time
}

func (j *job) event(limiter string, state JobState) JobEvent {
	ev := JobEvent{
		Limiter:    limiter,
		ID:         j.id,
		Name:       j.name,
		Priority:   j.priority,
		State:      state.String(),
		EnqueuedAt: j.enqueuedAt,
		Started:    j.startedAt,
	}
	if !j.startedAt.IsZero() && !j.enqueuedAt.IsZero() {
		ev.QueueDelay = j.startedAt.Sub(j.enqueuedAt)
		if ev.QueueDelay < 0 {
			ev.QueueDelay = 0
		}
	}
	return ev
}

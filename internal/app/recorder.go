package app

import (
	"context"
	"strings"
	"time"

	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/storage"
	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

const recordTimeout = 2 * time.Second

// outcomeEvents are the bus events that end a job.
var outcomeEvents = []string{
	eventbus.TypeJobFinished,
	eventbus.TypeJobFailed,
	eventbus.TypeJobDropped,
	eventbus.TypeJobRejected,
}

// outcomeFromEvent converts a terminal job event into a journal row.
func outcomeFromEvent(e eventbus.Event) (storage.Outcome, bool) {
	je, ok := e.Data.(limiter.JobEvent)
	if !ok {
		return storage.Outcome{}, false
	}
	return storage.Outcome{
		At:         e.Time,
		Limiter:    je.Limiter,
		JobID:      je.ID,
		Name:       je.Name,
		Priority:   je.Priority,
		State:      strings.TrimPrefix(e.Type, "job."),
		Reason:     je.Reason,
		QueueDelay: je.QueueDelay,
		Duration:   je.Duration,
		Error:      je.Error,
	}, true
}

// journal writes terminal job events to a store.
type journal struct {
	store    storage.Store
	log      logx.Logger
	failures int
}

// run journals events until ctx is done, then writes whatever is still
// buffered in events before returning.
func (j *journal) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					j.record(context.Background(), e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			j.record(ctx, e)
		}
	}
}

func (j *journal) record(ctx context.Context, e eventbus.Event) {
	o, ok := outcomeFromEvent(e)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, recordTimeout)
	err := j.store.AppendOutcome(wctx, o)
	cancel()
	if err != nil {
		j.failures++
		// First failure, then every 100th.
		if j.failures == 1 || j.failures%100 == 0 {
			j.log.Warn("journal write failed", logx.String("job", o.Name), logx.Int("failures", j.failures), logx.Err(err))
		}
		return
	}
	if j.failures > 0 {
		j.log.Info("journal writes recovered", logx.Int("failures", j.failures))
		j.failures = 0
	}
}

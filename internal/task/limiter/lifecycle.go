package limiter

import (
	"context"
	"time"

	"jobthrottle/internal/eventbus"
	logx "jobthrottle/pkg/logx"
)

// Stop stops the limiter. It is one-way and safe to call more than once.
//
// Queued jobs are dropped (RejectOnDrop applies) and running jobs finish
// normally. The returned future resolves immediately if waitForRunning is
// false, otherwise once no job is running. Submissions made after Stop fail
// with ErrStopped.
func (l *Limiter) Stop(waitForRunning bool) *Future {
	f := newCompletion(nil)
	now := time.Now()

	l.mu.Lock()
	var out outbox
	first := !l.stopped
	drained := 0
	if first {
		l.stopped = true
		l.cancelTimerLocked()
		jobs := l.queue.drainAll()
		drained = len(jobs)
		for _, j := range jobs {
			l.dropLocked(j, DropStopped, now, &out)
		}
		if drained > 0 {
			out.emit(EventEmpty, now, eventbus.TypeLimiterEmpty)
		}
		out.publish(eventbus.TypeLimiterStopped, now, l.snapshotLocked())
	}
	running := l.gate.running
	if !waitForRunning || running == 0 {
		out.resolve = append(out.resolve, f)
	} else {
		l.stopWaiters = append(l.stopWaiters, f)
	}
	l.mu.Unlock()

	if first {
		l.log.Info("limiter stopped", logx.Int("dropped", drained), logx.Int("running", running), logx.Bool("wait", waitForRunning))
	}
	l.flush(&out)
	return &Future{c: f}
}

// Shutdown stops the limiter and waits for the Stop future or ctx.
func (l *Limiter) Shutdown(ctx context.Context, waitForRunning bool) error {
	_, err := l.Stop(waitForRunning).Wait(ctx)
	return err
}

// Stopped reports whether Stop has been called.
func (l *Limiter) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

package limiter

import (
	"runtime/debug"
	"sync"
	"time"

	"jobthrottle/internal/eventbus"
	logx "jobthrottle/pkg/logx"
)

// dispatchLocked starts as many queued jobs as the gate allows, then re-arms
// the MinTime timer and updates the idle state. Jobs are only marked running
// here; out launches them once the lock is released.
func (l *Limiter) dispatchLocked(now time.Time, out *outbox) {
	if l.stopped {
		return
	}
	for l.queue.count() > 0 {
		if ok, _ := l.gate.check(now, l.settings); !ok {
			break
		}
		j := l.queue.popEligible()
		j.state = StateRunning
		j.startedAt = now
		l.gate.onDispatch(now)
		l.stats.started++
		out.launch = append(out.launch, j)
		out.publish(eventbus.TypeJobStarted, now, j.event(l.name, StateRunning))

		if l.queue.count() == 0 {
			out.emit(EventEmpty, now, eventbus.TypeLimiterEmpty)
		}
	}
	l.armTimerLocked(now)
	l.checkIdleLocked(now, out)
}

// armTimerLocked replaces any pending wake-up. A new timer is armed only when
// jobs are waiting and MinTime is the only thing holding them back.
func (l *Limiter) armTimerLocked(now time.Time) {
	l.cancelTimerLocked()
	if l.queue.count() == 0 {
		return
	}
	ok, wait := l.gate.check(now, l.settings)
	if ok || wait <= 0 {
		return
	}
	gen := l.timerGen
	l.nextWakeAt = now.Add(wait)
	l.timer = time.AfterFunc(wait, func() { l.onTimer(gen) })
}

func (l *Limiter) cancelTimerLocked() {
	l.timerGen++
	l.nextWakeAt = time.Time{}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Limiter) onTimer(gen uint64) {
	l.mu.Lock()
	if gen != l.timerGen || l.stopped {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.nextWakeAt = time.Time{}
	var out outbox
	l.dispatchLocked(time.Now(), &out)
	l.mu.Unlock()
	l.flush(&out)
}

func (l *Limiter) checkIdleLocked(now time.Time, out *outbox) {
	if l.stopped {
		return
	}
	if l.gate.running == 0 && l.queue.count() == 0 {
		if !l.idle {
			l.idle = true
			out.emit(EventIdle, now, eventbus.TypeLimiterIdle)
		}
		return
	}
	l.idle = false
}

// launch runs j on its own goroutine. The first completion wins; a panic in
// the work function completes the job with a *PanicError.
func (l *Limiter) launch(j *job) {
	l.log.Debug("job.started",
		logx.Uint64("id", j.id),
		logx.String("job", j.name),
		logx.Int("priority", j.priority),
		logx.Duration("queue_delay", j.startedAt.Sub(j.enqueuedAt)),
	)
	go func() {
		var once sync.Once
		complete := func(v any, err error) {
			once.Do(func() { l.finish(j, v, err) })
		}
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				l.log.Error("job.panic", logx.Uint64("id", j.id), logx.String("job", j.name), logx.Any("panic", r), logx.Stack(stack))
				complete(nil, &PanicError{Value: r, Stack: stack})
			}
		}()
		j.run(j.args, complete)
	}()
}

// finish records j's completion, resolves its handle and re-runs dispatch.
func (l *Limiter) finish(j *job, v any, err error) {
	now := time.Now()
	dur := now.Sub(j.startedAt)

	l.mu.Lock()
	j.state = StateCompleted
	l.gate.onComplete()

	var out outbox
	ev := j.event(l.name, StateCompleted)
	ev.Duration = dur
	if err != nil {
		l.stats.failed++
		ev.Error = err.Error()
		out.publish(eventbus.TypeJobFailed, now, ev)
	} else {
		l.stats.completed++
		out.publish(eventbus.TypeJobFinished, now, ev)
	}

	l.dispatchLocked(now, &out)
	if l.stopped && l.gate.running == 0 && len(l.stopWaiters) > 0 {
		out.resolve = append(out.resolve, l.stopWaiters...)
		l.stopWaiters = nil
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Debug("job.failed", logx.Uint64("id", j.id), logx.String("job", j.name), logx.Duration("dur", dur), logx.Err(err))
	} else {
		l.log.Debug("job.completed", logx.Uint64("id", j.id), logx.String("job", j.name), logx.Duration("dur", dur))
	}

	j.done.resolve(Result{Value: v, Err: err})
	l.flush(&out)
}

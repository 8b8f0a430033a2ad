package limiter

import (
	"context"
	"sync"
)

// completion is the single-fire primitive behind both submission surfaces.
// The first resolve wins; later calls are ignored.
type completion struct {
	once sync.Once
	done chan struct{}
	res  Result
	cb   Callback
}

func newCompletion(cb Callback) *completion {
	return &completion{done: make(chan struct{}), cb: cb}
}

func resolvedCompletion(r Result) *completion {
	c := newCompletion(nil)
	c.resolve(r)
	return c
}

func (c *completion) resolve(r Result) bool {
	fired := false
	c.once.Do(func() {
		c.res = r
		close(c.done)
		fired = true
	})
	if fired && c.cb != nil {
		c.cb(r.Value, r.Err)
	}
	return fired
}

// Future is the handle returned by Schedule and Stop.
type Future struct {
	c *completion
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} { return f.c.done }

// Result returns the outcome without blocking. ok is false until Done is closed.
func (f *Future) Result() (r Result, ok bool) {
	select {
	case <-f.c.done:
		return f.c.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the outcome is known or ctx is done. Giving up on ctx
// does not cancel the job.
func (f *Future) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.c.done:
		return f.c.res.Value, f.c.res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Schedule queues work at DefaultPriority and returns its future.
func (l *Limiter) Schedule(ctx context.Context, work Work, args ...any) *Future {
	return l.SchedulePriority(ctx, DefaultPriority, work, args...)
}

// SchedulePriority queues work at the given priority (0 = most important).
// ctx is handed to work when it runs; cancelling it does not dequeue the job.
func (l *Limiter) SchedulePriority(ctx context.Context, priority int, work Work, args ...any) *Future {
	if work == nil {
		return &Future{c: resolvedCompletion(Result{Err: ErrNilWork})}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := newCompletion(nil)
	run := func(args []any, complete func(any, error)) {
		v, err := work(ctx, args...)
		complete(v, err)
	}
	l.submit(priority, JobName(ctx), args, run, c)
	return &Future{c: c}
}

// Submit queues callback-style work at DefaultPriority. done receives the
// outcome exactly once, including ErrStopped and drop outcomes.
func (l *Limiter) Submit(work CallbackWork, args []any, done Callback) {
	l.SubmitPriority(DefaultPriority, work, args, done)
}

// SubmitPriority is Submit with an explicit priority.
func (l *Limiter) SubmitPriority(priority int, work CallbackWork, args []any, done Callback) {
	c := newCompletion(done)
	if work == nil {
		c.resolve(Result{Err: ErrNilWork})
		return
	}
	run := func(args []any, complete func(any, error)) {
		work(args, complete)
	}
	l.submit(priority, "", args, run, c)
}

// Wrap returns a function that runs work through the limiter and waits for it.
func (l *Limiter) Wrap(work Work) func(ctx context.Context, args ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		return l.Schedule(ctx, work, args...).Wait(ctx)
	}
}

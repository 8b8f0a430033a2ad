// Package limiter throttles asynchronous jobs under a concurrency cap and a
// minimum spacing between job starts.
//
// Jobs wait in a priority-bucketed queue (0 is most important, 9 least,
// DefaultPriority in between; FIFO within a priority). A single mutex owns
// the queue, the running counter and the settings; work itself runs on its
// own goroutine outside that section. When HighWater is set, an overflow
// Strategy decides which job is dropped once the queue is full.
//
// Two submission surfaces share one completion path:
//
//	f := lim.Schedule(ctx, fetch, url)      // future style
//	v, err := f.Wait(ctx)
//
//	lim.Submit(legacy, []any{url}, func(v any, err error) { ... }) // callback style
//
// Lifecycle signals (empty, idle, dropped) are delivered to listeners
// registered with On, and mirrored to an eventbus.Bus when one is configured.
package limiter

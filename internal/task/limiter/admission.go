package limiter

import "time"

// admitLocked decides whether j may enter the queue. Jobs refused here, and
// jobs evicted to make room, are dropped through out.
func (l *Limiter) admitLocked(j *job, now time.Time, out *outbox) bool {
	s := l.settings
	if s.HighWater < 0 {
		return true
	}
	// A job that would start right away never waits, so the limit does not apply.
	if l.queue.count() == 0 {
		if ok, _ := l.gate.check(now, s); ok {
			return true
		}
	}
	if l.queue.count() < s.HighWater {
		return true
	}

	switch s.Strategy {
	case StrategyLeak:
		// Never evict work more important than the incoming job.
		victim := l.queue.evictOne(func(q *job) bool { return q.priority >= j.priority })
		if victim == nil {
			l.dropLocked(j, DropLeak, now, out)
			return false
		}
		l.dropLocked(victim, DropLeak, now, out)
		return true

	case StrategyOverflowPriority:
		if low := l.queue.lowestQueued(); low < 0 || j.priority >= low {
			l.dropLocked(j, DropOverflowPriority, now, out)
			return false
		}
		victim := l.queue.evictOne(func(q *job) bool { return q.priority > j.priority })
		l.dropLocked(victim, DropOverflowPriority, now, out)
		return true

	case StrategyOverflow:
		l.dropLocked(j, DropOverflow, now, out)
		return false

	default:
		l.dropLocked(j, DropBlock, now, out)
		return false
	}
}

// dropLocked moves j to StateDropped and schedules its handle and event.
func (l *Limiter) dropLocked(j *job, reason DropReason, now time.Time, out *outbox) {
	j.state = StateDropped
	l.stats.dropped++

	res := Result{Dropped: true}
	if l.settings.RejectOnDrop {
		res.Err = &DropError{JobID: j.id, Priority: j.priority, Reason: reason}
	}
	out.drop(j, res, reason, now)
}

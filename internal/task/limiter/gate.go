package limiter

import "time"

// gate tracks running jobs and the last dispatch time.
//
// A full concurrency cap clears on the next completion, which re-runs the
// dispatch loop. MinTime clears on the clock, which needs a timer.
type gate struct {
	running        int
	lastDispatchAt time.Time
}

func (g *gate) slotFree(s Settings) bool {
	return s.Concurrency <= 0 || g.running < s.Concurrency
}

// nextEligibleAt is the earliest start allowed by MinTime (zero if unset).
func (g *gate) nextEligibleAt(s Settings) time.Time {
	if g.lastDispatchAt.IsZero() || s.MinTime <= 0 {
		return time.Time{}
	}
	return g.lastDispatchAt.Add(s.MinTime)
}

// check reports whether a job may start at now. If only MinTime blocks,
// wait is how long until it may.
func (g *gate) check(now time.Time, s Settings) (ok bool, wait time.Duration) {
	if !g.slotFree(s) {
		return false, 0
	}
	at := g.nextEligibleAt(s)
	if at.IsZero() || !now.Before(at) {
		return true, 0
	}
	return false, at.Sub(now)
}

func (g *gate) onDispatch(now time.Time) {
	g.running++
	g.lastDispatchAt = now
}

func (g *gate) onComplete() {
	if g.running > 0 {
		g.running--
	}
}

package limiter

// priorityQueue holds queued jobs in one FIFO bucket per priority level.
// Not safe for concurrent use; the Limiter lock guards it.
type priorityQueue struct {
	buckets [numPriorities][]*job
	n       int
}

func (q *priorityQueue) push(j *job) {
	p := clampPriority(j.priority)
	q.buckets[p] = append(q.buckets[p], j)
	q.n++
}

// popEligible removes the oldest job of the most important non-empty level.
func (q *priorityQueue) popEligible() *job {
	for p := range q.buckets {
		if len(q.buckets[p]) == 0 {
			continue
		}
		return q.removeAt(p, 0)
	}
	return nil
}

// evictOne removes a job matching match, preferring the least important
// level and the oldest job within it. Returns nil if nothing matches.
func (q *priorityQueue) evictOne(match func(*job) bool) *job {
	for p := len(q.buckets) - 1; p >= 0; p-- {
		for i, j := range q.buckets[p] {
			if match == nil || match(j) {
				return q.removeAt(p, i)
			}
		}
	}
	return nil
}

// lowestQueued returns the least important queued priority, or -1 if empty.
func (q *priorityQueue) lowestQueued() int {
	for p := len(q.buckets) - 1; p >= 0; p-- {
		if len(q.buckets[p]) > 0 {
			return p
		}
	}
	return -1
}

func (q *priorityQueue) count() int { return q.n }

// countAt reports jobs queued at exactly level p.
func (q *priorityQueue) countAt(p int) int {
	if p < MinPriority || p > MaxPriority {
		return 0
	}
	return len(q.buckets[p])
}

// drainAll empties the queue, returning jobs in dispatch order.
func (q *priorityQueue) drainAll() []*job {
	out := make([]*job, 0, q.n)
	for p := range q.buckets {
		out = append(out, q.buckets[p]...)
		q.buckets[p] = nil
	}
	q.n = 0
	return out
}

func (q *priorityQueue) removeAt(p, i int) *job {
	b := q.buckets[p]
	j := b[i]
	copy(b[i:], b[i+1:])
	b[len(b)-1] = nil
	b = b[:len(b)-1]
	if len(b) == 0 {
		b = nil
	}
	q.buckets[p] = b
	q.n--
	return j
}

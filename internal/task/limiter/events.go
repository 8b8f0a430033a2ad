package limiter

import (
	"sync"
	"time"

	"jobthrottle/internal/eventbus"
	logx "jobthrottle/pkg/logx"
)

// EventKind names a lifecycle signal.
type EventKind string

const (
	// EventEmpty fires when the last queued job leaves the queue.
	EventEmpty EventKind = "empty"
	// EventIdle fires once each time the limiter becomes idle: nothing queued and nothing running.
	EventIdle EventKind = "idle"
	// EventDropped fires once per dropped job.
	EventDropped EventKind = "dropped"
)

// Event is delivered to listeners. Drop is set for EventDropped only.
type Event struct {
	Kind EventKind
	Time time.Time
	Drop *Drop
}

// Drop describes a dropped job. Args are the job's original arguments.
type Drop struct {
	JobID    uint64
	Name     string
	Priority int
	Args     []any
	Reason   DropReason
}

// Listener receives events. Listeners run on the goroutine that caused the
// event, after the limiter lock is released, so they may call back into it.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

type listenerSet struct {
	mu  sync.RWMutex
	seq uint64
	m   map[EventKind][]listenerEntry
}

func (s *listenerSet) add(kind EventKind, fn Listener) func() {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[EventKind][]listenerEntry)
	}
	s.seq++
	id := s.seq
	s.m[kind] = append(s.m[kind], listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.m[kind]
			for i, e := range list {
				if e.id == id {
					s.m[kind] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *listenerSet) removeAll(kinds ...EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kinds) == 0 {
		s.m = nil
		return
	}
	for _, k := range kinds {
		delete(s.m, k)
	}
}

func (s *listenerSet) snapshot(kind EventKind) []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.m[kind]
	if len(list) == 0 {
		return nil
	}
	out := make([]Listener, len(list))
	for i, e := range list {
		out[i] = e.fn
	}
	return out
}

// On registers fn for kind and returns a function that removes it.
func (l *Limiter) On(kind EventKind, fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return l.listeners.add(kind, fn)
}

// RemoveAllListeners removes listeners for the given kinds, or for every kind if none are given.
func (l *Limiter) RemoveAllListeners(kinds ...EventKind) {
	l.listeners.removeAll(kinds...)
}

// notice is one side effect recorded under the lock and delivered after it.
type notice struct {
	kind EventKind // empty for bus-only notices
	at   time.Time
	bus  *eventbus.Event

	job    *job
	result Result
	reason DropReason
}

// outbox collects side effects of one serialized operation, in order.
type outbox struct {
	notices []notice
	launch  []*job
	resolve []*completion
}

func (o *outbox) emit(kind EventKind, at time.Time, busType string) {
	n := notice{kind: kind, at: at}
	if busType != "" {
		n.bus = &eventbus.Event{Type: busType, Time: at}
	}
	o.notices = append(o.notices, n)
}

func (o *outbox) publish(busType string, at time.Time, data any) {
	o.notices = append(o.notices, notice{at: at, bus: &eventbus.Event{Type: busType, Time: at, Data: data}})
}

func (o *outbox) drop(j *job, res Result, reason DropReason, at time.Time) {
	o.notices = append(o.notices, notice{kind: EventDropped, at: at, job: j, result: res, reason: reason})
}

// flush delivers everything collected in o. Must be called without l.mu held.
func (l *Limiter) flush(o *outbox) {
	for _, n := range o.notices {
		if n.kind == EventDropped && n.job != nil {
			l.deliverDrop(n)
			continue
		}
		if n.bus != nil && l.bus != nil {
			l.bus.Publish(*n.bus)
		}
		if n.kind != "" {
			l.notify(Event{Kind: n.kind, Time: n.at})
		}
	}
	for _, j := range o.launch {
		l.launch(j)
	}
	for _, c := range o.resolve {
		c.resolve(Result{})
	}
}

func (l *Limiter) deliverDrop(n notice) {
	j := n.job
	if l.bus != nil {
		ev := j.event(l.name, StateDropped)
		ev.Reason = string(n.reason)
		if n.result.Err != nil {
			ev.Error = n.result.Err.Error()
		}
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDropped, Time: n.at, Data: ev})
	}
	if l.warnEvery.Allow() {
		l.log.Warn("job dropped",
			logx.Uint64("id", j.id),
			logx.String("job", j.name),
			logx.Int("priority", j.priority),
			logx.String("reason", string(n.reason)),
			logx.Uint64("dropped_total", l.droppedTotal()),
		)
	}
	l.notify(Event{Kind: EventDropped, Time: n.at, Drop: &Drop{
		JobID:    j.id,
		Name:     j.name,
		Priority: j.priority,
		Args:     j.args,
		Reason:   n.reason,
	}})
	j.done.resolve(n.result)
}

func (l *Limiter) notify(ev Event) {
	for _, fn := range l.listeners.snapshot(ev.Kind) {
		fn(ev)
	}
}

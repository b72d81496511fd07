package store

import "sync"

type Query[T Record] struct {
	c    *Collection[T]
	pred func(T) bool
}

// All returns the current matches in insertion order.
func (q *Query[T]) All() []T {
	q.c.mu.Lock()
	items := q.c.items
	q.c.mu.Unlock()
	return filter(items, q.pred)
}

// OnSnapshot calls cb with the current matches and again after every
// successful mutation of the collection. The returned function stops
// delivery; calling it more than once is harmless.
//
// Callbacks for one subscription never run concurrently and never go
// backwards in time. A callback may mutate the collection; the resulting
// snapshot is delivered after it returns.
func (q *Query[T]) OnSnapshot(cb func([]T)) func() {
	c := q.c
	s := &subscription[T]{pred: q.pred, cb: cb}

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = s
	version, items := c.version, c.items
	c.mu.Unlock()

	s.deliver(version, items)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			s.close()
		})
	}
}

type subscription[T Record] struct {
	pred func(T) bool
	cb   func([]T)

	mu        sync.Mutex
	delivered uint64
	started   bool
	pending   []T
	pendingV  uint64
	hasNext   bool
	draining  bool
	closed    bool
}

// deliver hands the snapshot at version to the callback unless a newer one
// was already delivered. Whoever is draining picks up snapshots queued by
// concurrent or re-entrant mutations.
func (s *subscription[T]) deliver(version uint64, items []T) {
	s.mu.Lock()
	if s.closed || (s.started && version <= s.delivered) || (s.hasNext && version <= s.pendingV) {
		s.mu.Unlock()
		return
	}
	s.pending, s.pendingV, s.hasNext = items, version, true
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for s.hasNext && !s.closed {
		items, version := s.pending, s.pendingV
		s.pending, s.hasNext = nil, false
		s.delivered, s.started = version, true
		s.mu.Unlock()

		s.cb(filter(items, s.pred))

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.pending, s.hasNext = nil, false
	s.mu.Unlock()
}

func filter[T Record](items []T, pred func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}

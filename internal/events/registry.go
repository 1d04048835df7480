package events

import "sync"

// registry holds listeners keyed by registration id and remembers the last
// notified value for late joiners
type registry[L any, T any] struct {
	mu          sync.RWMutex
	listeners   map[uint64]L
	nextID      uint64
	replayLast  bool
	last        T
	hasNotified bool
}

func newRegistry[L any, T any](replayLast bool) *registry[L, T] {
	return &registry[L, T]{
		listeners:  make(map[uint64]L),
		replayLast: replayLast,
	}
}

// add registers l and returns its deregistration func plus the value to replay, if any
func (r *registry[L, T]) add(l L) (func(), T, bool) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	replay := r.replayLast && r.hasNotified
	last := r.last
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}, last, replay
}

// record stores value as the last event and returns the listeners to notify.
// Listeners are called outside the lock so they may deregister themselves.
func (r *registry[L, T]) record(value T) []L {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = value
	r.hasNotified = true
	out := make([]L, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

func (r *registry[L, T]) lastValue() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasNotified
}

func (r *registry[L, T]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

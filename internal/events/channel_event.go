package events

// ChannelEvent fans values out to listener channels.
// Sends never block: a listener whose buffer is full misses that value.
type ChannelEvent[T any] struct {
	reg *registry[chan<- T, T]
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, a new listener
// immediately receives the most recent value if one was ever notified.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[chan<- T, T](replayLast)}
}

// Listen registers ch and returns a func that removes it
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("ChannelEvent: channel cannot be nil")
	}
	unregister, last, replay := e.reg.add(ch)
	if replay {
		trySend(ch, last)
	}
	return unregister
}

// Notify sends value to every registered channel
func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.reg.record(value) {
		trySend(ch, value)
	}
}

// Last returns the most recently notified value
func (e *ChannelEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

// ListenerCount returns the number of registered channels
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}

func trySend[T any](ch chan<- T, value T) {
	select {
	case ch <- value:
	default:
	}
}

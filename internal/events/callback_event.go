package events

// CallbackEvent calls listener funcs synchronously, in no particular order,
// on the goroutine that calls Notify
type CallbackEvent[T any] struct {
	reg *registry[func(T), T]
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, a new listener
// is called immediately with the most recent value if one was ever notified.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[func(T), T](replayLast)}
}

// Listen registers fn and returns a func that removes it
func (e *CallbackEvent[T]) Listen(fn func(T)) func() {
	if fn == nil {
		panic("CallbackEvent: callback cannot be nil")
	}
	unregister, last, replay := e.reg.add(fn)
	if replay {
		fn(last)
	}
	return unregister
}

// Notify calls every registered listener with value
func (e *CallbackEvent[T]) Notify(value T) {
	for _, fn := range e.reg.record(value) {
		fn(value)
	}
}

// Last returns the most recently notified value
func (e *CallbackEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

// ListenerCount returns the number of registered callbacks
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}

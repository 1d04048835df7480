package erg

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeClock advances only when something sleeps. Scheduled callbacks fire in
// order at their exact instant while a sleep passes over them. When the clock
// reaches stopAt it cancels the run context.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []scheduled
	stopAt  time.Time
	cancel  context.CancelFunc
	slept   []time.Duration
}

type scheduled struct {
	at time.Time
	fn func()
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) At(at time.Time, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, scheduled{at: at, fn: fn})
	sort.SliceStable(c.pending, func(i, j int) bool { return c.pending[i].at.Before(c.pending[j].at) })
}

// StopAt cancels the context returned by the caller's WithCancel once the clock reaches at
func (c *fakeClock) StopAt(at time.Time, cancel context.CancelFunc) {
	c.stopAt = at
	c.cancel = cancel
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.slept = append(c.slept, d)
	target := c.now.Add(d)
	stopping := !c.stopAt.IsZero() && !target.Before(c.stopAt)
	if stopping {
		target = c.stopAt
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.pending[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			break
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}

	if stopping {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type discoverResult struct {
	ads []Advertisement
	err error
}

// fakeTransport replays scripted discover results; the last one repeats
type fakeTransport struct {
	clock     *fakeClock
	scanCosts bool // Discover sleeps for its timeout when set

	mu            sync.Mutex
	discoveries   []discoverResult
	discoverCalls int
	conns         []*fakeConn
	connectErr    error
	connectCalls  []string
}

func (f *fakeTransport) Discover(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	if f.scanCosts {
		if err := f.clock.Sleep(ctx, timeout); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	if len(f.discoveries) == 0 {
		return nil, nil
	}
	res := f.discoveries[0]
	if len(f.discoveries) > 1 {
		f.discoveries = f.discoveries[1:]
	}
	return res.ads, res.err
}

func (f *fakeTransport) Connect(_ context.Context, address string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls = append(f.connectCalls, address)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	if len(f.conns) == 0 {
		return nil, errors.New("no scripted connection")
	}
	conn := f.conns[0]
	f.conns = f.conns[1:]
	return conn, nil
}

type fakeConn struct {
	subscribeErr error
	writeErr     error

	mu       sync.Mutex
	notify   map[string]func([]byte)
	writes   map[string][][]byte
	lost     chan struct{}
	lostOnce sync.Once
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		notify: make(map[string]func([]byte)),
		writes: make(map[string][][]byte),
		lost:   make(chan struct{}),
	}
}

func (c *fakeConn) Subscribe(characteristic string, fn func([]byte)) error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify[characteristic] = fn
	return nil
}

func (c *fakeConn) Write(characteristic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[characteristic] = append(c.writes[characteristic], append([]byte(nil), payload...))
	return c.writeErr
}

func (c *fakeConn) Lost() <-chan struct{} {
	return c.lost
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Drop() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// Emit delivers payload to the power characteristic subscriber, if any
func (c *fakeConn) Emit(payload []byte) {
	c.mu.Lock()
	fn := c.notify[CharUUIDPowerNotify]
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Writes(characteristic string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[characteristic]
}

func powerPayload(watts uint16) []byte {
	return []byte{0x00, 0x00, 0x00, byte(watts), byte(watts >> 8), 0x00}
}

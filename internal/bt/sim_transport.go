package bt

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"
)

// Verify SimTransport implements erg.Transport
var _ erg.Transport = (*SimTransport)(nil)

// ErrSimOffline is returned by Connect while the simulated erg is powered off
var ErrSimOffline = errors.New("simulated erg is not advertising")

const maxWrittenValues = 100

// Simulator defaults: a steady BikeErg effort. One notification arrives per
// flywheel stroke, so the interval (0.67s) stays inside the power hold window
// and well under the cadence idle timeout.
const (
	DefaultSimWatts      = 180
	DefaultSimStrokeRate = 90.0
)

// WrittenValue records a value written to a characteristic
type WrittenValue struct {
	Timestamp          time.Time `json:"timestamp"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	DataHex            string    `json:"dataHex"`
	Description        string    `json:"description"`
}

// SimState is the operator-visible state of the simulated erg
type SimState struct {
	Watts      uint16  `json:"watts"`
	StrokeRate float64 `json:"strokeRate"`
	Online     bool    `json:"online"`
	Connected  bool    `json:"connected"`
	Address    string  `json:"address"`
	LocalName  string  `json:"localName"`
	Strokes    uint64  `json:"strokes"`
}

// SimConfig holds configuration for creating a simulated erg
type SimConfig struct {
	Address    string
	LocalName  string
	Watts      uint16
	StrokeRate float64 // strokes per minute, zero disables the stroke generator
}

// SimTransport stands in for the BLE stack with one PM5-like device. While
// connected it emits one power notification per stroke at the configured rate.
type SimTransport struct {
	logger *log.Logger

	mu         sync.Mutex
	address    string
	localName  string
	watts      uint16
	strokeRate float64
	online     bool
	strokes    uint64
	conn       *simConn

	writtenValues   []WrittenValue
	writtenValuesMu sync.RWMutex

	rateChanged chan struct{}
}

func NewSimTransport(logger *log.Logger, config SimConfig) *SimTransport {
	if logger == nil {
		panic("SimTransport: logger cannot be nil")
	}
	if config.Address == "" {
		config.Address = "C2:00:00:00:00:01"
	}
	if config.LocalName == "" {
		config.LocalName = "PM5 430000001 Bike"
	}
	return &SimTransport{
		logger:      logger,
		address:     config.Address,
		localName:   config.LocalName,
		watts:       config.Watts,
		strokeRate:  config.StrokeRate,
		online:      true,
		rateChanged: make(chan struct{}, 1),
	}
}

// Discover reports the simulated erg while it is online, after waiting the
// scan timeout or until ctx is done
func (s *SimTransport) Discover(ctx context.Context, timeout time.Duration) ([]erg.Advertisement, error) {
	timer := time.NewTimer(min(timeout, 500*time.Millisecond))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, nil
	}
	return []erg.Advertisement{{Name: s.localName, Address: s.address, RSSI: -50}}, nil
}

func (s *SimTransport) Connect(ctx context.Context, address string) (erg.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &simConn{
		sim:  s,
		lost: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return nil, ErrSimOffline
	}
	if address != s.address {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	previous := s.conn
	s.conn = conn
	s.mu.Unlock()

	if previous != nil {
		previous.markLost()
	}
	s.logger.Printf("SimTransport: %s connected", s.localName)

	go_func_utils.SafeGo(s.logger, "sim-strokes", conn.strokeLoop)
	return conn, nil
}

// Set changes the generated power and stroke rate
func (s *SimTransport) Set(watts uint16, strokeRate float64) {
	s.mu.Lock()
	s.watts = watts
	s.strokeRate = strokeRate
	s.mu.Unlock()
	s.logger.Printf("SimTransport: now rowing %d W at %.1f spm", watts, strokeRate)

	select {
	case s.rateChanged <- struct{}{}:
	default:
	}
}

// SetOnline powers the simulated erg on or off. Powering off drops an open link.
func (s *SimTransport) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	conn := s.conn
	s.mu.Unlock()

	if !online && conn != nil {
		conn.markLost()
	}
	s.logger.Printf("SimTransport: online=%v", online)
}

// DropLink severs the current link as if the erg went out of range
func (s *SimTransport) DropLink() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.logger.Printf("SimTransport: dropping link")
		conn.markLost()
	}
}

// Stroke emits one notification with the current power, as the drive of a stroke would
func (s *SimTransport) Stroke() {
	s.mu.Lock()
	conn := s.conn
	watts := s.watts
	s.strokes++
	s.mu.Unlock()

	if conn != nil {
		conn.emit(NotificationPayload(watts))
	}
}

// Notify delivers a raw payload on the power characteristic
func (s *SimTransport) Notify(payload []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.emit(payload)
	}
}

func (s *SimTransport) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimState{
		Watts:      s.watts,
		StrokeRate: s.strokeRate,
		Online:     s.online,
		Connected:  s.conn != nil && !s.conn.isLost(),
		Address:    s.address,
		LocalName:  s.localName,
		Strokes:    s.strokes,
	}
}

// WrittenValues returns the most recent writes, oldest first
func (s *SimTransport) WrittenValues() []WrittenValue {
	s.writtenValuesMu.RLock()
	defer s.writtenValuesMu.RUnlock()
	out := make([]WrittenValue, len(s.writtenValues))
	copy(out, s.writtenValues)
	return out
}

func (s *SimTransport) recordWrite(characteristic string, data []byte) {
	stored := append([]byte(nil), data...)
	s.writtenValuesMu.Lock()
	s.writtenValues = append(s.writtenValues, WrittenValue{
		Timestamp:          time.Now(),
		CharacteristicUUID: characteristic,
		Data:               stored,
		DataHex:            hex.EncodeToString(stored),
		Description:        describeWrite(characteristic, stored),
	})
	if len(s.writtenValues) > maxWrittenValues {
		s.writtenValues = s.writtenValues[len(s.writtenValues)-maxWrittenValues:]
	}
	s.writtenValuesMu.Unlock()
}

func (s *SimTransport) strokeInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strokeRate <= 0 {
		return 0
	}
	return time.Duration(60.0 / s.strokeRate * float64(time.Second))
}

func (s *SimTransport) release(c *simConn) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
}

// NotificationPayload builds a rowing status notification carrying watts at bytes 3-4
func NotificationPayload(watts uint16) []byte {
	payload := make([]byte, 3, 8)
	return binary.LittleEndian.AppendUint16(payload, watts)
}

func describeWrite(characteristic string, data []byte) string {
	if characteristic != erg.CharUUIDCommandWrite {
		return ""
	}
	doze, sleep, err := erg.ParseSleepExtendFrame(data)
	if err != nil {
		return fmt.Sprintf("unrecognised CSAFE frame: %v", err)
	}
	return fmt.Sprintf("Set sleep timers: doze=%ds sleep=%ds", doze, sleep)
}

type simConn struct {
	sim *SimTransport

	mu       sync.Mutex
	notify   func([]byte)
	lost     chan struct{}
	lostOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

func (c *simConn) Subscribe(characteristic string, fn func(payload []byte)) error {
	if characteristic != erg.CharUUIDPowerNotify {
		return fmt.Errorf("characteristic %v not found on %s", characteristic, c.sim.address)
	}
	if c.isLost() {
		return erg.ErrLinkLost
	}
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *simConn) Write(characteristic string, payload []byte) error {
	if c.isLost() {
		return erg.ErrLinkLost
	}
	if characteristic != erg.CharUUIDCommandWrite {
		return fmt.Errorf("characteristic %v not found on %s", characteristic, c.sim.address)
	}
	c.sim.recordWrite(characteristic, payload)
	c.sim.logger.Printf("SimTransport: write %s %x", characteristic, payload)
	return nil
}

func (c *simConn) Lost() <-chan struct{} {
	return c.lost
}

func (c *simConn) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	c.markLost()
	return nil
}

func (c *simConn) markLost() {
	c.lostOnce.Do(func() {
		close(c.lost)
		c.sim.release(c)
	})
}

func (c *simConn) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

func (c *simConn) emit(payload []byte) {
	if c.isLost() {
		return
	}
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *simConn) strokeLoop() {
	for {
		interval := c.sim.strokeInterval()
		var tick <-chan time.Time
		var timer *time.Timer
		if interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}

		select {
		case <-c.lost:
			stopTimer(timer)
			return
		case <-c.done:
			stopTimer(timer)
			return
		case <-c.sim.rateChanged:
			stopTimer(timer)
		case <-tick:
			c.sim.Stroke()
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

package session

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/store"
)

const persistTimeout = 5 * time.Second

// Telemetry is the slice of the pipeline the controller drives
type Telemetry interface {
	Snapshot() erg.TelemetryState
	SetSessionActive(active bool)
	ResetAccumulators()
}

// SnapshotView is the stopped session as shown to the kiosk front end
type SnapshotView struct {
	ID             string    `json:"id"`
	ElapsedTime    float64   `json:"elapsed_time"`
	DistanceMeters float64   `json:"distance_meters"`
	EnergyKWh      float64   `json:"energy_kwh"`
	StoppedAt      time.Time `json:"stopped_at"`
}

// DataView is the polling payload. Live values read as zero outside a session.
type DataView struct {
	PowerWatts          int     `json:"power_watts"`
	StrokeRate          int     `json:"stroke_rate"`
	DistanceMeters      int     `json:"distance_meters"`
	ElapsedTime         int     `json:"elapsed_time"`
	EnergyKWh           float64 `json:"energy_kwh"`
	SessionActive       bool    `json:"session_active"`
	Connected           bool    `json:"connected"`
	LastSessionSnapshot any     `json:"last_session_snapshot"` // SnapshotView, or {} when none
}

// Controller starts and stops sessions. A stopped session stays visible for the
// cooldown, after which its totals are cleared.
type Controller struct {
	telemetry Telemetry
	store     store.SnapshotStore
	cooldown  time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu            sync.Mutex
	active        bool
	startedAt     time.Time
	last          *store.Snapshot
	cooldownTimer *time.Timer
	generation    uint64
}

type NewControllerArg struct {
	Telemetry Telemetry
	Store     store.SnapshotStore
	Cooldown  time.Duration
	Logger    *log.Logger
}

func NewController(arg NewControllerArg) *Controller {
	if arg.Telemetry == nil {
		panic("Controller: telemetry cannot be nil")
	}
	if arg.Store == nil {
		panic("Controller: store cannot be nil")
	}
	if arg.Logger == nil {
		panic("Controller: logger cannot be nil")
	}
	return &Controller{
		telemetry: arg.Telemetry,
		store:     arg.Store,
		cooldown:  arg.Cooldown,
		logger:    arg.Logger,
		now:       time.Now,
	}
}

// Start zeroes the totals and begins integrating. A pending cooldown is cancelled
// so it cannot wipe the new session.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelCooldownLocked()
	c.telemetry.ResetAccumulators()
	c.telemetry.SetSessionActive(true)
	c.active = true
	c.startedAt = c.now()
	c.logger.Printf("Session: started")
}

// Stop freezes the totals, records them as the last session and schedules the
// cooldown reset. ok is false when no session was running.
func (c *Controller) Stop(ctx context.Context) (snap store.Snapshot, ok bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return store.Snapshot{}, false
	}

	c.telemetry.SetSessionActive(false)
	state := c.telemetry.Snapshot()
	snap = store.Snapshot{
		ID:        uuid.NewString(),
		StartedAt: c.startedAt,
		StoppedAt: c.now(),
		Elapsed:   state.Elapsed,
		Distance:  state.Distance,
		EnergyKWh: state.EnergyKWh,
	}
	c.active = false
	c.last = &snap
	c.scheduleCooldownLocked()
	c.mu.Unlock()

	c.logger.Printf("Session: stopped after %.1fs, %.1fm, %.5f kWh", snap.Elapsed, snap.Distance, snap.EnergyKWh)

	saveCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := c.store.Save(saveCtx, snap); err != nil {
		c.logger.Printf("Session: failed to persist snapshot %s: %v", snap.ID, err)
	}
	return snap, true
}

// Active reports whether a session is running
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LastSession returns the in-memory snapshot, cleared when the cooldown fires
func (c *Controller) LastSession() (store.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return store.Snapshot{}, false
	}
	return *c.last, true
}

// Persisted returns the snapshot kept in the store, which outlives the cooldown and restarts
func (c *Controller) Persisted(ctx context.Context) (store.Snapshot, error) {
	snap, err := c.store.Latest(ctx)
	if err != nil && !errors.Is(err, store.ErrNoSnapshot) {
		c.logger.Printf("Session: failed to load persisted snapshot: %v", err)
	}
	return snap, err
}

// Data builds the polling payload from the current telemetry
func (c *Controller) Data() DataView {
	state := c.telemetry.Snapshot()

	view := DataView{
		SessionActive:       state.SessionActive,
		Connected:           state.Connected,
		LastSessionSnapshot: struct{}{},
	}
	if state.SessionActive {
		view.PowerWatts = state.Power
		view.StrokeRate = int(state.Cadence)
		view.DistanceMeters = int(state.Distance)
		view.ElapsedTime = int(state.Elapsed)
		view.EnergyKWh = math.Round(state.EnergyKWh*1e4) / 1e4
	}
	if snap, ok := c.LastSession(); ok {
		view.LastSessionSnapshot = SnapshotView{
			ID:             snap.ID,
			ElapsedTime:    snap.Elapsed,
			DistanceMeters: snap.Distance,
			EnergyKWh:      snap.EnergyKWh,
			StoppedAt:      snap.StoppedAt,
		}
	}
	return view
}

// Shutdown cancels a pending cooldown
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCooldownLocked()
}

func (c *Controller) scheduleCooldownLocked() {
	c.cancelCooldownLocked()
	gen := c.generation
	c.cooldownTimer = time.AfterFunc(c.cooldown, func() { c.finishCooldown(gen) })
}

func (c *Controller) cancelCooldownLocked() {
	c.generation++
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
}

// finishCooldown ignores timers superseded by a later Start or Stop
func (c *Controller) finishCooldown(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.active {
		return
	}
	c.telemetry.ResetAccumulators()
	c.last = nil
	c.cooldownTimer = nil
	c.logger.Printf("Session: cooldown over, totals cleared")
}

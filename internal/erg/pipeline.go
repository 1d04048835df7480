package erg

import (
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/events"
)

// TelemetryState is the published view of the erg
type TelemetryState struct {
	Power         int     `json:"power"`   // watts, after hold/decay
	Cadence       float64 `json:"cadence"` // strokes per minute
	Elapsed       float64 `json:"elapsed"` // seconds
	Distance      float64 `json:"distance"`
	EnergyKWh     float64 `json:"energy_kwh"`
	SessionActive bool    `json:"session_active"`
	Connected     bool    `json:"connected"`
	Phase         string  `json:"phase"`
}

// Pipeline owns the stroke estimator, the hold/decay model, the integrator and the
// published state. Notification callbacks and the tick loop run on different
// goroutines; mu serialises them so no reader sees a half-applied update.
type Pipeline struct {
	logger *log.Logger
	clock  Clock

	mu         sync.Mutex
	stroke     *StrokeEstimator
	hold       *HoldDecay
	integrator *Integrator
	accepting  bool // samples are ignored until a connection is fully set up
	state      TelemetryState
	dropped    uint64

	telemetryEvent *events.ChannelEvent[TelemetryState]
	phaseEvent     *events.CallbackEvent[Phase]
}

// NewPipeline creates a pipeline in the Booting phase, disconnected
func NewPipeline(settings Settings, clock Clock, logger *log.Logger) *Pipeline {
	if clock == nil {
		panic("Pipeline: clock cannot be nil")
	}
	if logger == nil {
		panic("Pipeline: logger cannot be nil")
	}
	return &Pipeline{
		logger:         logger,
		clock:          clock,
		stroke:         NewStrokeEstimator(settings),
		hold:           NewHoldDecay(settings),
		integrator:     NewIntegrator(settings),
		state:          TelemetryState{Phase: PhaseBooting.String()},
		telemetryEvent: events.NewChannelEvent[TelemetryState](true),
		phaseEvent:     events.NewCallbackEvent[Phase](true),
	}
}

// HandleNotification is the subscription callback for the power characteristic
func (p *Pipeline) HandleNotification(payload []byte) {
	power, err := DecodePower(payload)
	if err != nil {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Printf("Pipeline: dropping sample: %v (raw: %v)", err, payload)
		return
	}
	p.OnSample(p.clock.Now(), power)
}

// OnSample feeds one decoded sample taken at now
func (p *Pipeline) OnSample(now time.Time, rawPower uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.accepting {
		return
	}
	p.hold.OnSample(now, rawPower)
	p.state.Cadence = p.stroke.OnSample(now, rawPower)
}

// Tick runs the idle check, the hold/decay evaluation and the integration for now,
// then publishes the resulting state
func (p *Pipeline) Tick(now time.Time) TelemetryState {
	p.mu.Lock()
	cadence := p.stroke.CheckIdle(now)
	power := p.hold.Power(now)
	p.integrator.Tick(now, p.state.SessionActive, power, cadence)

	totals := p.integrator.Totals()
	p.state.Cadence = cadence
	p.state.Power = power
	p.state.Elapsed = totals.Elapsed
	p.state.Distance = totals.Distance
	p.state.EnergyKWh = totals.EnergyKWh
	state := p.state
	p.mu.Unlock()

	p.telemetryEvent.Notify(state)
	return state
}

// BeginConnection resets every per-connection value, marks the pipeline connected
// and starts accepting samples. now becomes the first tick reference.
func (p *Pipeline) BeginConnection(now time.Time) {
	p.mu.Lock()
	p.stroke.Reset()
	p.hold.Reset()
	p.integrator.Reset()
	p.integrator.Start(now)
	p.state.Power = 0
	p.state.Cadence = 0
	p.state.Elapsed = 0
	p.state.Distance = 0
	p.state.EnergyKWh = 0
	p.state.Connected = true
	p.accepting = true
	state := p.state
	p.mu.Unlock()

	p.telemetryEvent.Notify(state)
}

// EndConnection marks the pipeline disconnected; later samples are ignored
func (p *Pipeline) EndConnection() {
	p.mu.Lock()
	p.accepting = false
	p.state.Connected = false
	state := p.state
	p.mu.Unlock()

	p.telemetryEvent.Notify(state)
}

// SetPhase records the lifecycle phase
func (p *Pipeline) SetPhase(phase Phase) {
	p.mu.Lock()
	p.state.Phase = phase.String()
	p.mu.Unlock()

	p.phaseEvent.Notify(phase)
}

// SetSessionActive is the one write the session layer makes; it takes effect at the next tick
func (p *Pipeline) SetSessionActive(active bool) {
	p.mu.Lock()
	p.state.SessionActive = active
	p.mu.Unlock()
}

// ResetAccumulators zeroes elapsed, distance and energy
func (p *Pipeline) ResetAccumulators() {
	p.mu.Lock()
	p.integrator.Reset()
	p.state.Elapsed = 0
	p.state.Distance = 0
	p.state.EnergyKWh = 0
	p.mu.Unlock()
}

// Snapshot returns a copy of the current state
func (p *Pipeline) Snapshot() TelemetryState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// DroppedSamples counts notifications that failed to decode
func (p *Pipeline) DroppedSamples() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// ListenToTelemetry registers ch for the state published after every tick.
// Returns a deregistration function.
func (p *Pipeline) ListenToTelemetry(ch chan<- TelemetryState) func() {
	return p.telemetryEvent.Listen(ch)
}

// ListenToPhase registers fn for lifecycle phase changes.
// Returns a deregistration function.
func (p *Pipeline) ListenToPhase(fn func(Phase)) func() {
	return p.phaseEvent.Listen(fn)
}

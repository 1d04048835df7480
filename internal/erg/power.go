package erg

import (
	"math"
	"time"
)

// HoldDecay publishes a continuous power value from bursty samples.
// The last sample is held for the hold window, then decays linearly to zero
// over the decay window. A new sample replaces the value immediately.
type HoldDecay struct {
	hold   time.Duration
	window time.Duration

	lastPower uint16
	lastAt    time.Time
	hasSample bool
}

// NewHoldDecay creates the model from the given settings
func NewHoldDecay(s Settings) *HoldDecay {
	if s.PowerDecayWindow <= 0 {
		panic("HoldDecay: decay window must be > 0")
	}
	return &HoldDecay{
		hold:   s.PowerHold,
		window: s.PowerDecayWindow,
	}
}

// OnSample records a sample, zero power included
func (h *HoldDecay) OnSample(now time.Time, rawPower uint16) {
	h.lastPower = rawPower
	h.lastAt = now
	h.hasSample = true
}

// Power evaluates the published power at now
func (h *HoldDecay) Power(now time.Time) int {
	if !h.hasSample {
		return 0
	}

	age := now.Sub(h.lastAt)
	switch {
	case age <= h.hold:
		return int(h.lastPower)
	case age < h.hold+h.window:
		t := (age - h.hold).Seconds()
		factor := math.Max(0, 1-t/h.window.Seconds())
		return int(math.Round(float64(h.lastPower) * factor))
	default:
		return 0
	}
}

// LastSample returns the most recent sample, ok is false before the first one
func (h *HoldDecay) LastSample() (power uint16, at time.Time, ok bool) {
	return h.lastPower, h.lastAt, h.hasSample
}

// Reset forgets the last sample
func (h *HoldDecay) Reset() {
	h.lastPower = 0
	h.lastAt = time.Time{}
	h.hasSample = false
}

package erg

import (
	"math"
	"time"
)

// StrokeEstimator turns power-positive samples into a cadence estimate.
// Each power-positive sample is treated as a stroke edge and the cadence is derived
// from the mean of the most recent valid inter-stroke intervals.
// Not safe for concurrent use; the Pipeline serialises access.
type StrokeEstimator struct {
	capacity    int
	minInterval time.Duration
	maxInterval time.Duration
	idle        time.Duration

	intervals  []time.Duration // oldest first
	lastStroke time.Time
	hasStroke  bool
	cadence    float64
}

// NewStrokeEstimator creates an estimator from the given settings
func NewStrokeEstimator(s Settings) *StrokeEstimator {
	if s.StrokeHistory < 1 {
		panic("StrokeEstimator: stroke history must be >= 1")
	}
	return &StrokeEstimator{
		capacity:    s.StrokeHistory,
		minInterval: s.MinStrokeInterval,
		maxInterval: s.MaxStrokeInterval,
		idle:        s.CadenceIdle,
		intervals:   make([]time.Duration, 0, s.StrokeHistory+1),
	}
}

// OnSample feeds one decoded sample and returns the resulting cadence.
// Out-of-range intervals are dropped without touching the history or the cadence.
func (e *StrokeEstimator) OnSample(now time.Time, rawPower uint16) float64 {
	if rawPower > 0 {
		if e.hasStroke {
			interval := now.Sub(e.lastStroke)
			if interval > e.minInterval && interval < e.maxInterval {
				e.intervals = append(e.intervals, interval)
				if len(e.intervals) > e.capacity {
					e.intervals = e.intervals[1:]
				}
			}
		}
		e.lastStroke = now
		e.hasStroke = true
	}

	if len(e.intervals) > 0 {
		mean := e.meanSeconds()
		if mean > 0 {
			e.cadence = roundTo(60.0/mean, 1)
		}
	}
	return e.cadence
}

// CheckIdle zeroes the cadence and clears the history when no stroke has been seen
// for longer than the idle threshold. Only the tick loop calls this.
func (e *StrokeEstimator) CheckIdle(now time.Time) float64 {
	if !e.hasStroke || now.Sub(e.lastStroke) > e.idle {
		e.cadence = 0
		e.intervals = e.intervals[:0]
	}
	return e.cadence
}

// Cadence returns the current estimate in strokes per minute
func (e *StrokeEstimator) Cadence() float64 {
	return e.cadence
}

// History returns a copy of the recorded intervals, oldest first
func (e *StrokeEstimator) History() []time.Duration {
	out := make([]time.Duration, len(e.intervals))
	copy(out, e.intervals)
	return out
}

// Reset forgets all strokes; used when a new connection starts
func (e *StrokeEstimator) Reset() {
	e.intervals = e.intervals[:0]
	e.lastStroke = time.Time{}
	e.hasStroke = false
	e.cadence = 0
}

func (e *StrokeEstimator) meanSeconds() float64 {
	var sum time.Duration
	for _, iv := range e.intervals {
		sum += iv
	}
	return sum.Seconds() / float64(len(e.intervals))
}

// roundTo rounds half away from zero to the given number of decimals
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

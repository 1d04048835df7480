package erg

import "time"

const joulesPerKWh = 3_600_000.0

// Accumulators are the per-session running totals
type Accumulators struct {
	Elapsed   float64 // seconds
	Distance  float64 // meters
	EnergyKWh float64
}

// Integrator advances the accumulators once per tick
type Integrator struct {
	distancePerStroke float64

	prevTick time.Time
	started  bool
	acc      Accumulators
}

// NewIntegrator creates an integrator from the given settings
func NewIntegrator(s Settings) *Integrator {
	return &Integrator{distancePerStroke: s.DistancePerStroke}
}

// Start sets the tick reference time; the first Tick measures dt from here
func (in *Integrator) Start(now time.Time) {
	in.prevTick = now
	in.started = true
}

// Tick integrates power and cadence over the time since the previous tick.
// Non-positive dt skips integration but the reference time still advances.
// Returns the dt that was applied, zero when nothing was integrated.
func (in *Integrator) Tick(now time.Time, active bool, power int, cadence float64) time.Duration {
	if !in.started {
		in.Start(now)
		return 0
	}

	dt := now.Sub(in.prevTick)
	in.prevTick = now
	if dt <= 0 || !active {
		return 0
	}

	secs := dt.Seconds()
	in.acc.Elapsed += secs
	if cadence > 0 {
		in.acc.Distance += (cadence / 60.0) * in.distancePerStroke * secs
	}
	if power > 0 {
		in.acc.EnergyKWh += float64(power) * secs / joulesPerKWh
	}
	return dt
}

// Totals returns the current accumulators
func (in *Integrator) Totals() Accumulators {
	return in.acc
}

// Reset zeroes the accumulators without touching the tick reference
func (in *Integrator) Reset() {
	in.acc = Accumulators{}
}

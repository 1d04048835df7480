package erg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(secs float64) time.Time {
	return t0.Add(time.Duration(secs * float64(time.Second)))
}

func TestStrokeEstimator_TwoStrokes(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())

	assert.Equal(t, 0.0, e.OnSample(at(0), 200))
	assert.Equal(t, 60.0, e.OnSample(at(1.0), 200))
	assert.Equal(t, []time.Duration{time.Second}, e.History())
}

func TestStrokeEstimator_MeanOfHistory(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())

	e.OnSample(at(0), 150)
	e.OnSample(at(2.0), 150)
	cadence := e.OnSample(at(5.0), 150) // intervals 2.0 and 3.0, mean 2.5
	assert.Equal(t, 24.0, cadence)

	cadence = e.OnSample(at(5.7), 150) // mean (2+3+0.7)/3 = 1.9
	assert.Equal(t, 31.6, cadence)
}

func TestStrokeEstimator_CapacityEvictsOldest(t *testing.T) {
	s := DefaultSettings()
	s.StrokeHistory = 3
	e := NewStrokeEstimator(s)

	times := []float64{0, 4.0, 5.0, 6.0, 7.0}
	for _, ts := range times {
		e.OnSample(at(ts), 100)
	}

	require.Len(t, e.History(), 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, e.History())
	assert.Equal(t, 60.0, e.Cadence())
}

func TestStrokeEstimator_InvalidIntervalsIgnored(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())

	e.OnSample(at(0), 200)
	e.OnSample(at(1.0), 200)
	require.Equal(t, 60.0, e.Cadence())

	// 0.2s is below the lower bound; the edge still moves
	assert.Equal(t, 60.0, e.OnSample(at(1.2), 200))
	// exactly at the bound is rejected too
	assert.Equal(t, 60.0, e.OnSample(at(1.5), 200))
	// 6s is above the upper bound
	assert.Equal(t, 60.0, e.OnSample(at(7.5), 200))

	assert.Len(t, e.History(), 1)
}

func TestStrokeEstimator_ZeroPowerIsNotAStroke(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())

	e.OnSample(at(0), 200)
	e.OnSample(at(0.5), 0)
	e.OnSample(at(0.7), 0)
	assert.Equal(t, 60.0, e.OnSample(at(1.0), 200))
	assert.Equal(t, []time.Duration{time.Second}, e.History())
}

func TestStrokeEstimator_CheckIdle(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())

	assert.Equal(t, 0.0, e.CheckIdle(at(0)), "no stroke yet")

	e.OnSample(at(0), 200)
	e.OnSample(at(1.0), 200)

	assert.Equal(t, 60.0, e.CheckIdle(at(2.9)))
	assert.Equal(t, 60.0, e.CheckIdle(at(3.0)), "exactly at the threshold is not idle")

	assert.Equal(t, 0.0, e.CheckIdle(at(4.0)))
	assert.Empty(t, e.History())

	// the last edge survives the idle reset, only the history is cleared
	assert.Equal(t, 17.1, e.OnSample(at(4.5), 200))
	assert.Equal(t, 21.8, e.OnSample(at(6.5), 200))
}

func TestStrokeEstimator_Reset(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())
	e.OnSample(at(0), 200)
	e.OnSample(at(1), 200)

	e.Reset()

	assert.Equal(t, 0.0, e.Cadence())
	assert.Empty(t, e.History())
	assert.Equal(t, 0.0, e.OnSample(at(1.5), 200), "previous edge forgotten")
}

func TestStrokeEstimator_CadenceNeverNegative(t *testing.T) {
	e := NewStrokeEstimator(DefaultSettings())
	ts := 0.0
	for i := 0; i < 50; i++ {
		ts += 0.1 + float64(i%7)*0.45
		c := e.OnSample(at(ts), uint16(i%3)*120)
		assert.GreaterOrEqual(t, c, 0.0)
		if hist := e.History(); len(hist) > 0 {
			var sum time.Duration
			for _, iv := range hist {
				sum += iv
			}
			assert.Equal(t, roundTo(60/(sum.Seconds()/float64(len(hist))), 1), c)
		}
	}
}

func TestNewStrokeEstimator_PanicsOnZeroHistory(t *testing.T) {
	s := DefaultSettings()
	s.StrokeHistory = 0
	assert.Panics(t, func() { NewStrokeEstimator(s) })
}

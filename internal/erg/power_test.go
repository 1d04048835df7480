package erg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoldDecay_NoSample(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	assert.Equal(t, 0, h.Power(at(10)))
}

func TestHoldDecay_MidDecay(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	h.OnSample(at(0), 100)

	// 0.75s into a 2s window, factor 0.625
	assert.Equal(t, 63, h.Power(at(1.5)))
}

func TestHoldDecay_Profile(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	h.OnSample(at(0), 240)

	tests := []struct {
		age  float64
		want int
	}{
		{0, 240},
		{0.5, 240},
		{0.75, 240},
		{1.75, 120},
		{2.25, 60},
		{2.75, 0},
		{3.5, 0},
		{60, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.Power(at(tt.age)), "age %.2f", tt.age)
	}
}

func TestHoldDecay_MonotoneDecay(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	h.OnSample(at(0), 517)

	prev := h.Power(at(0.75))
	for age := 0.8; age < 3.0; age += 0.05 {
		p := h.Power(at(age))
		assert.LessOrEqual(t, p, prev, "age %.2f", age)
		assert.GreaterOrEqual(t, p, 0)
		prev = p
	}
}

func TestHoldDecay_NewSampleReplaces(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	h.OnSample(at(0), 300)
	assert.Equal(t, 150, h.Power(at(1.75)))

	h.OnSample(at(1.8), 90)
	assert.Equal(t, 90, h.Power(at(1.8)))

	h.OnSample(at(2.0), 0)
	assert.Equal(t, 0, h.Power(at(2.1)), "zero sample is held as zero")

	p, ts, ok := h.LastSample()
	assert.True(t, ok)
	assert.Equal(t, uint16(0), p)
	assert.Equal(t, at(2.0), ts)
}

func TestHoldDecay_Reset(t *testing.T) {
	h := NewHoldDecay(DefaultSettings())
	h.OnSample(at(0), 300)
	h.Reset()

	assert.Equal(t, 0, h.Power(at(0.1)))
	_, _, ok := h.LastSample()
	assert.False(t, ok)
}

func TestNewHoldDecay_PanicsOnZeroWindow(t *testing.T) {
	s := DefaultSettings()
	s.PowerDecayWindow = 0
	assert.Panics(t, func() { NewHoldDecay(s) })
}

package erg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePower(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    uint16
	}{
		{"zero", []byte{0x01, 0x02, 0x03, 0x00, 0x00}, 0},
		{"little endian", []byte{0xAA, 0xBB, 0xCC, 0x2C, 0x01}, 300},
		{"high byte", []byte{0, 0, 0, 0x00, 0x02}, 512},
		{"trailing bytes ignored", []byte{0, 0, 0, 0xC8, 0x00, 0xFF, 0xFF, 0xFF}, 200},
		{"max", []byte{0, 0, 0, 0xFF, 0xFF}, 65535},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePower(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePower_ShortPayload(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, {1, 2, 3}, {1, 2, 3, 4}} {
		_, err := DecodePower(payload)
		assert.ErrorIs(t, err, ErrShortPayload, "payload %v", payload)
	}
}

func TestBuildSleepExtendFrame_Default(t *testing.T) {
	assert.Equal(t,
		[]byte{0xF0, 0x09, 0x21, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0xF2},
		DefaultSleepExtendFrame())
}

func TestSleepExtendFrame_RoundTrip(t *testing.T) {
	for _, pair := range [][2]uint16{{0, 0xFFFF}, {300, 3600}, {0x1234, 0xABCD}, {0, 0}} {
		frame := BuildSleepExtendFrame(pair[0], pair[1])
		require.Len(t, frame, 12)

		doze, sleep, err := ParseSleepExtendFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, pair[0], doze)
		assert.Equal(t, pair[1], sleep)
	}
}

func TestParseSleepExtendFrame_Rejects(t *testing.T) {
	good := DefaultSleepExtendFrame()
	mutate := func(i int, b byte) []byte {
		f := append([]byte(nil), good...)
		f[i] = b
		return f
	}

	tests := map[string][]byte{
		"short":      good[:11],
		"bad start":  mutate(0, 0xF1),
		"bad stop":   mutate(11, 0x00),
		"bad length": mutate(1, 0x08),
		"bad cmd":    mutate(2, 0x22),
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseSleepExtendFrame(frame)
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

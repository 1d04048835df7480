package erg

import (
	"encoding/binary"
	"fmt"
)

// CSAFE framing bytes
const (
	csafeStartFlag     = 0xF0
	csafeStopFlag      = 0xF2
	csafeCmdSleepTimes = 0x21
	sleepFrameBodyLen  = 9
	sleepFrameLen      = sleepFrameBodyLen + 3

	powerOffset     = 3
	minNotifyLength = powerOffset + 2
)

// DecodePower reads the instantaneous power (watts) from a PM5 status notification.
// Bytes 0-2 are ignored, bytes 3-4 hold a little-endian uint16.
func DecodePower(payload []byte) (uint16, error) {
	if len(payload) < minNotifyLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	return binary.LittleEndian.Uint16(payload[powerOffset:minNotifyLength]), nil
}

// BuildSleepExtendFrame builds the CSAFE frame that sets the PM5 doze and sleep timeouts.
// Layout: F0, len, 21, doze_hi, doze_lo, sleep_hi, sleep_lo, 0, 0, 0, 0, F2
func BuildSleepExtendFrame(dozeSeconds, sleepSeconds uint16) []byte {
	frame := make([]byte, 0, sleepFrameLen)
	frame = append(frame, csafeStartFlag, sleepFrameBodyLen, csafeCmdSleepTimes)
	frame = binary.BigEndian.AppendUint16(frame, dozeSeconds)
	frame = binary.BigEndian.AppendUint16(frame, sleepSeconds)
	frame = append(frame, 0, 0, 0, 0, csafeStopFlag)
	return frame
}

// DefaultSleepExtendFrame disables dozing and pushes sleep out as far as the PM5 allows
func DefaultSleepExtendFrame() []byte {
	return BuildSleepExtendFrame(0, 0xFFFF)
}

// ParseSleepExtendFrame is the inverse of BuildSleepExtendFrame
func ParseSleepExtendFrame(frame []byte) (dozeSeconds, sleepSeconds uint16, err error) {
	if len(frame) != sleepFrameLen {
		return 0, 0, fmt.Errorf("%w: length %d", ErrBadFrame, len(frame))
	}
	if frame[0] != csafeStartFlag || frame[len(frame)-1] != csafeStopFlag {
		return 0, 0, fmt.Errorf("%w: bad start/stop flags", ErrBadFrame)
	}
	if frame[1] != sleepFrameBodyLen {
		return 0, 0, fmt.Errorf("%w: body length %d", ErrBadFrame, frame[1])
	}
	if frame[2] != csafeCmdSleepTimes {
		return 0, 0, fmt.Errorf("%w: command 0x%02X", ErrBadFrame, frame[2])
	}
	dozeSeconds = binary.BigEndian.Uint16(frame[3:5])
	sleepSeconds = binary.BigEndian.Uint16(frame[5:7])
	return dozeSeconds, sleepSeconds, nil
}

package erg

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPayload is returned for notifications too short to carry a power field
	ErrShortPayload = errors.New("notification payload too short")

	// ErrBadFrame is returned when a CSAFE frame does not match the sleep-extension layout
	ErrBadFrame = errors.New("malformed sleep-extension frame")

	// ErrNoDevice is returned by a scan that found nothing matching the name markers
	ErrNoDevice = errors.New("no matching device advertising")

	// ErrLinkLost is reported when the transport signals a disconnect
	ErrLinkLost = errors.New("link lost")
)

// Stage identifies the lifecycle step an error came from
type Stage string

const (
	StageDiscover  Stage = "discover"
	StageConnect   Stage = "connect"
	StageSubscribe Stage = "subscribe"
	StageWrite     Stage = "write"
	StageLink      Stage = "link"
)

// StageError tags a transport failure with the step that produced it.
// Every stage error is handled the same way: tear down, wait, scan again.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

package erg

import (
	"context"
	"strings"
	"time"
)

// Advertisement is one device seen during discovery
type Advertisement struct {
	Name    string
	Address string
	RSSI    int16
}

// Transport is the wireless capability the lifecycle manager drives
type Transport interface {
	// Discover scans for the given duration and returns everything seen
	Discover(ctx context.Context, timeout time.Duration) ([]Advertisement, error)

	// Connect opens a link to the device at address
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is an open link to one device
type Conn interface {
	// Subscribe delivers every notification of the characteristic to fn.
	// fn may be called from any goroutine.
	Subscribe(characteristic string, fn func(payload []byte)) error

	// Write sends payload to the characteristic
	Write(characteristic string, payload []byte) error

	// Lost is closed when the link drops
	Lost() <-chan struct{}

	// Close tears the link down
	Close() error
}

// Clock supplies time to the pipeline and the lifecycle manager
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock returns the wall clock. time.Now carries a monotonic reading so
// durations between instants are immune to wall clock steps.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MatchDevice returns the first advertisement whose name contains one of the markers
func MatchDevice(ads []Advertisement, markers []string) (Advertisement, bool) {
	for _, ad := range ads {
		if ad.Name == "" {
			continue
		}
		for _, marker := range markers {
			if marker != "" && strings.Contains(ad.Name, marker) {
				return ad, true
			}
		}
	}
	return Advertisement{}, false
}

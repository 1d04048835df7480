package erg

import (
	"context"
	"errors"
	"log"
	"time"
)

// Manager drives discover, connect, subscribe, configure and the tick loop,
// and retries forever on any transport failure
type Manager struct {
	transport Transport
	pipeline  *Pipeline
	clock     Clock
	settings  Settings
	logger    *log.Logger

	retryStart time.Time
}

type NewManagerArg struct {
	Transport Transport
	Pipeline  *Pipeline
	Clock     Clock
	Settings  Settings
	Logger    *log.Logger
}

// NewManager creates a lifecycle manager
func NewManager(arg NewManagerArg) *Manager {
	if arg.Transport == nil {
		panic("Manager: transport cannot be nil")
	}
	if arg.Pipeline == nil {
		panic("Manager: pipeline cannot be nil")
	}
	if arg.Clock == nil {
		panic("Manager: clock cannot be nil")
	}
	if arg.Logger == nil {
		panic("Manager: logger cannot be nil")
	}
	return &Manager{
		transport: arg.Transport,
		pipeline:  arg.Pipeline,
		clock:     arg.Clock,
		settings:  arg.Settings,
		logger:    arg.Logger,
	}
}

// Run blocks until ctx is done and returns ctx.Err(). Stage errors never escape:
// each one marks the pipeline disconnected, waits RetryDelay and scans again.
func (m *Manager) Run(ctx context.Context) error {
	m.retryStart = m.clock.Now()
	m.pipeline.SetPhase(PhaseBooting)
	m.logger.Printf("Lifecycle: waiting %v for the radio to come up", m.settings.InitialBootDelay)
	if err := m.clock.Sleep(ctx, m.settings.InitialBootDelay); err != nil {
		return err
	}

	for {
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			m.pipeline.EndConnection()
			return ctx.Err()
		}
		if err == nil {
			continue
		}

		m.pipeline.EndConnection()
		m.pipeline.SetPhase(PhaseScanning)
		m.logger.Printf("Lifecycle: %v, retrying in %v", err, m.settings.RetryDelay)
		if err := m.clock.Sleep(ctx, m.settings.RetryDelay); err != nil {
			return err
		}
	}
}

// runOnce performs one scan and, when a device is found, holds the connection
// until it fails. A scan with no match returns nil after waiting RetryDelay.
func (m *Manager) runOnce(ctx context.Context) error {
	m.pipeline.SetPhase(PhaseScanning)
	ads, err := m.transport.Discover(ctx, m.settings.ScanInterval)
	if err != nil {
		return stageErr(StageDiscover, err)
	}

	device, found := MatchDevice(ads, m.settings.DeviceNameMarkers)
	if !found {
		if m.clock.Now().Sub(m.retryStart) > m.settings.RetryTimeout {
			m.logger.Printf("Lifecycle: timed out after %v waiting for the erg to advertise, resetting retry window", m.settings.RetryTimeout)
			m.retryStart = m.clock.Now()
		}
		return m.clock.Sleep(ctx, m.settings.RetryDelay)
	}

	m.logger.Printf("Lifecycle: found %s (%s), connecting", device.Name, device.Address)
	m.pipeline.SetPhase(PhaseConnecting)
	conn, err := m.transport.Connect(ctx, device.Address)
	if err != nil {
		return stageErr(StageConnect, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			m.logger.Printf("Lifecycle: error closing link to %s: %v", device.Address, err)
		}
	}()

	m.pipeline.SetPhase(PhaseSubscribing)
	if err := conn.Subscribe(CharUUIDPowerNotify, m.pipeline.HandleNotification); err != nil {
		return stageErr(StageSubscribe, err)
	}

	if err := conn.Write(CharUUIDCommandWrite, DefaultSleepExtendFrame()); err != nil {
		m.logger.Printf("Lifecycle: %v, continuing without sleep extension", stageErr(StageWrite, err))
	} else {
		m.logger.Printf("Lifecycle: sleep timers extended on %s", device.Name)
	}

	m.pipeline.BeginConnection(m.clock.Now())
	m.pipeline.SetPhase(PhaseConnected)
	m.logger.Printf("Lifecycle: connected to %s", device.Name)

	return m.tickLoop(ctx, conn)
}

func (m *Manager) tickLoop(ctx context.Context, conn Conn) error {
	lost := conn.Lost()
	for {
		if err := m.clock.Sleep(ctx, m.settings.Tick); err != nil {
			return err
		}
		select {
		case <-lost:
			return stageErr(StageLink, ErrLinkLost)
		default:
		}
		m.pipeline.Tick(m.clock.Now())
	}
}

// IsStage reports whether err came from the given lifecycle stage
func IsStage(err error, stage Stage) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == stage
}

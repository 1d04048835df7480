package erg

import "time"

// PM5 characteristic UUIDs
const (
	// Rowing general status stream, instantaneous power lives at bytes 3-4
	CharUUIDPowerNotify = "ce060036-43e5-11e4-916c-0800200c9a66"

	// CSAFE command channel used for the sleep-extension frame
	CharUUIDCommandWrite = "ce060034-43e5-11e4-916c-0800200c9a66"
)

// Default tuning values
const (
	DefaultDistancePerStroke = 6.0 // meters
	DefaultScanInterval      = 5 * time.Second
	DefaultRetryTimeout      = 300 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultInitialBootDelay  = 20 * time.Second
	DefaultTick              = 200 * time.Millisecond
	DefaultPowerHold         = 750 * time.Millisecond
	DefaultPowerDecayWindow  = 2 * time.Second
	DefaultCadenceIdle       = 2 * time.Second
	DefaultStrokeHistory     = 5
	DefaultMinStrokeInterval = 300 * time.Millisecond
	DefaultMaxStrokeInterval = 5 * time.Second
)

// DefaultDeviceNameMarkers are substrings of the advertised name that identify the erg
var DefaultDeviceNameMarkers = []string{"PM5", "Concept2"}

// Settings holds every tunable used by the pipeline and the lifecycle manager
type Settings struct {
	DistancePerStroke float64
	ScanInterval      time.Duration
	RetryTimeout      time.Duration
	RetryDelay        time.Duration
	InitialBootDelay  time.Duration
	Tick              time.Duration
	PowerHold         time.Duration
	PowerDecayWindow  time.Duration
	CadenceIdle       time.Duration
	StrokeHistory     int
	MinStrokeInterval time.Duration
	MaxStrokeInterval time.Duration
	DeviceNameMarkers []string
}

// DefaultSettings returns the settings the kiosk ships with
func DefaultSettings() Settings {
	markers := make([]string, len(DefaultDeviceNameMarkers))
	copy(markers, DefaultDeviceNameMarkers)
	return Settings{
		DistancePerStroke: DefaultDistancePerStroke,
		ScanInterval:      DefaultScanInterval,
		RetryTimeout:      DefaultRetryTimeout,
		RetryDelay:        DefaultRetryDelay,
		InitialBootDelay:  DefaultInitialBootDelay,
		Tick:              DefaultTick,
		PowerHold:         DefaultPowerHold,
		PowerDecayWindow:  DefaultPowerDecayWindow,
		CadenceIdle:       DefaultCadenceIdle,
		StrokeHistory:     DefaultStrokeHistory,
		MinStrokeInterval: DefaultMinStrokeInterval,
		MaxStrokeInterval: DefaultMaxStrokeInterval,
		DeviceNameMarkers: markers,
	}
}

// Phase is the connection lifecycle phase
type Phase int

const (
	PhaseBooting Phase = iota
	PhaseScanning
	PhaseConnecting
	PhaseSubscribing
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseBooting:
		return "Booting"
	case PhaseScanning:
		return "Scanning"
	case PhaseConnecting:
		return "Connecting"
	case PhaseSubscribing:
		return "Subscribing"
	case PhaseConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

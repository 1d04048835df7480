package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigEnv names the environment variable pointing at an optional config file
const ConfigEnv = "ERG_BRIDGE_CONFIG"

// Config is the fully resolved runtime configuration. Durations are in seconds,
// matching the environment variables the kiosk images already set.
type Config struct {
	DistancePerStroke float64  `mapstructure:"distance_per_stroke"`
	ScanInterval      float64  `mapstructure:"scan_interval"`
	RetryTimeout      float64  `mapstructure:"retry_timeout"`
	RetryDelay        float64  `mapstructure:"retry_delay"`
	InitialBootDelay  float64  `mapstructure:"initial_boot_delay"`
	TickSeconds       float64  `mapstructure:"tick_seconds"`
	PowerHold         float64  `mapstructure:"power_hold_sec"`
	PowerDecayWindow  float64  `mapstructure:"power_decay_window"`
	CadenceIdle       float64  `mapstructure:"cadence_idle_sec"`
	StrokeHistory     int      `mapstructure:"stroke_history"`
	MinStrokeInterval float64  `mapstructure:"min_stroke_interval"`
	MaxStrokeInterval float64  `mapstructure:"max_stroke_interval"`
	DeviceMarkers     []string `mapstructure:"device_name_markers"`
	SessionCooldown   float64  `mapstructure:"session_cooldown"`

	ListenAddr    string `mapstructure:"listen_addr"`
	DBPath        string `mapstructure:"db_path"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	Simulate      bool    `mapstructure:"simulate"`
	SimWatts      int     `mapstructure:"sim_watts"`
	SimStrokeRate float64 `mapstructure:"sim_stroke_rate"`
	TUI           bool    `mapstructure:"tui"`
	Debug         bool    `mapstructure:"debug"`
}

type option struct {
	key   string
	env   string
	usage string
	def   any
}

var options = []option{
	{"distance_per_stroke", "DISTANCE_PER_STROKE", "Meters credited per stroke", erg.DefaultDistancePerStroke},
	{"scan_interval", "SCAN_INTERVAL", "Seconds per discovery scan", erg.DefaultScanInterval.Seconds()},
	{"retry_timeout", "RETRY_TIMEOUT", "Seconds without the erg before a timeout notice", erg.DefaultRetryTimeout.Seconds()},
	{"retry_delay", "RETRY_DELAY", "Seconds to wait before scanning again", erg.DefaultRetryDelay.Seconds()},
	{"initial_boot_delay", "INITIAL_BOOT_DELAY", "Seconds to wait for the radio before the first scan", erg.DefaultInitialBootDelay.Seconds()},
	{"tick_seconds", "TICK_SECONDS", "Integration tick period in seconds", erg.DefaultTick.Seconds()},
	{"power_hold_sec", "POWER_HOLD_SEC", "Seconds a power sample is held before decaying", erg.DefaultPowerHold.Seconds()},
	{"power_decay_window", "POWER_DECAY_WINDOW", "Seconds for held power to decay to zero", erg.DefaultPowerDecayWindow.Seconds()},
	{"cadence_idle_sec", "CADENCE_IDLE_SEC", "Seconds without a stroke before cadence drops to zero", erg.DefaultCadenceIdle.Seconds()},
	{"stroke_history", "STROKE_HISTORY", "Stroke intervals averaged for cadence", erg.DefaultStrokeHistory},
	{"min_stroke_interval", "MIN_STROKE_INTERVAL", "Shortest accepted stroke interval in seconds", erg.DefaultMinStrokeInterval.Seconds()},
	{"max_stroke_interval", "MAX_STROKE_INTERVAL", "Longest accepted stroke interval in seconds", erg.DefaultMaxStrokeInterval.Seconds()},
	{"device_name_markers", "DEVICE_NAME_MARKERS", "Advertised name substrings identifying the erg", erg.DefaultDeviceNameMarkers},
	{"session_cooldown", "SESSION_COOLDOWN", "Seconds the last session stays on screen after stop", 30.0},
	{"listen_addr", "LISTEN_ADDR", "HTTP listen address", ":8000"},
	{"db_path", "DB_PATH", "SQLite file for the last session snapshot, empty disables", "erg-bridge.db"},
	{"log_file", "LOG_FILE", "Rotating log file, empty logs to stdout only", "erg-bridge.log"},
	{"log_max_size_mb", "LOG_MAX_SIZE_MB", "Log file size before rotation", 10},
	{"log_max_backups", "LOG_MAX_BACKUPS", "Rotated log files to keep", 3},
	{"simulate", "SIMULATE", "Use a simulated erg instead of Bluetooth", false},
	{"sim_watts", "SIM_WATTS", "Power reported by the simulated erg", bt.DefaultSimWatts},
	{"sim_stroke_rate", "SIM_STROKE_RATE", "Stroke rate of the simulated erg", bt.DefaultSimStrokeRate},
	{"tui", "TUI", "Show the terminal dashboard", false},
	{"debug", "DEBUG", "Verbose logging", false},
}

// Load resolves configuration from defaults, an optional config file, environment
// variables and args, later sources overriding earlier ones
func Load(args []string) (*Config, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("erg-bridge", pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to a TOML or YAML config file (also "+ConfigEnv+")")

	for _, opt := range options {
		v.SetDefault(opt.key, opt.def)
		if err := v.BindEnv(opt.key, opt.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", opt.env, err)
		}
		addFlag(fs, opt)
		if err := v.BindPFlag(opt.key, fs.Lookup(flagName(opt.key))); err != nil {
			return nil, fmt.Errorf("failed to bind flag for %s: %w", opt.key, err)
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configFile
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func addFlag(fs *pflag.FlagSet, opt option) {
	name := flagName(opt.key)
	switch def := opt.def.(type) {
	case float64:
		fs.Float64(name, def, opt.usage)
	case int:
		fs.Int(name, def, opt.usage)
	case bool:
		fs.Bool(name, def, opt.usage)
	case string:
		fs.String(name, def, opt.usage)
	case []string:
		fs.StringSlice(name, def, opt.usage)
	default:
		panic(fmt.Sprintf("config: unsupported default type %T for %s", opt.def, opt.key))
	}
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		key   string
		value float64
	}{
		{"tick_seconds", c.TickSeconds},
		{"scan_interval", c.ScanInterval},
		{"power_decay_window", c.PowerDecayWindow},
		{"cadence_idle_sec", c.CadenceIdle},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", f.key, f.value))
		}
	}
	for _, f := range []struct {
		key   string
		value float64
	}{
		{"retry_timeout", c.RetryTimeout},
		{"retry_delay", c.RetryDelay},
		{"initial_boot_delay", c.InitialBootDelay},
		{"power_hold_sec", c.PowerHold},
		{"session_cooldown", c.SessionCooldown},
		{"distance_per_stroke", c.DistancePerStroke},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %v", f.key, f.value))
		}
	}
	if c.StrokeHistory < 1 {
		errs = append(errs, fmt.Errorf("stroke_history must be >= 1, got %d", c.StrokeHistory))
	}
	if c.MinStrokeInterval < 0 || c.MinStrokeInterval >= c.MaxStrokeInterval {
		errs = append(errs, fmt.Errorf("stroke interval bounds must satisfy 0 <= min < max, got [%v, %v]", c.MinStrokeInterval, c.MaxStrokeInterval))
	}
	if !hasMarker(c.DeviceMarkers) {
		errs = append(errs, errors.New("device_name_markers must contain at least one non-empty marker"))
	}
	if c.SimWatts < 0 || c.SimWatts > 0xFFFF {
		errs = append(errs, fmt.Errorf("sim_watts out of range: %d", c.SimWatts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func hasMarker(markers []string) bool {
	for _, m := range markers {
		if strings.TrimSpace(m) != "" {
			return true
		}
	}
	return false
}

// EngineSettings converts the configuration into pipeline and lifecycle settings
func (c *Config) EngineSettings() erg.Settings {
	markers := make([]string, 0, len(c.DeviceMarkers))
	for _, m := range c.DeviceMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return erg.Settings{
		DistancePerStroke: c.DistancePerStroke,
		ScanInterval:      seconds(c.ScanInterval),
		RetryTimeout:      seconds(c.RetryTimeout),
		RetryDelay:        seconds(c.RetryDelay),
		InitialBootDelay:  seconds(c.InitialBootDelay),
		Tick:              seconds(c.TickSeconds),
		PowerHold:         seconds(c.PowerHold),
		PowerDecayWindow:  seconds(c.PowerDecayWindow),
		CadenceIdle:       seconds(c.CadenceIdle),
		StrokeHistory:     c.StrokeHistory,
		MinStrokeInterval: seconds(c.MinStrokeInterval),
		MaxStrokeInterval: seconds(c.MaxStrokeInterval),
		DeviceNameMarkers: markers,
	}
}

// Cooldown is how long a stopped session stays visible before its totals are cleared
func (c *Config) Cooldown() time.Duration {
	return seconds(c.SessionCooldown)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

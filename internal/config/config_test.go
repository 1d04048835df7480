package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/config"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(config.ConfigEnv, "")

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, erg.DefaultSettings(), cfg.EngineSettings())
	assert.Equal(t, 30*time.Second, cfg.Cooldown())
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "erg-bridge.db", cfg.DBPath)
	assert.False(t, cfg.Simulate)
	assert.Equal(t, bt.DefaultSimWatts, cfg.SimWatts)
	assert.Equal(t, bt.DefaultSimStrokeRate, cfg.SimStrokeRate)
	assert.False(t, cfg.TUI)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv(config.ConfigEnv, "")
	t.Setenv("TICK_SECONDS", "0.5")
	t.Setenv("DISTANCE_PER_STROKE", "8")
	t.Setenv("INITIAL_BOOT_DELAY", "0")
	t.Setenv("DEVICE_NAME_MARKERS", "PM5,RowErg")
	t.Setenv("STROKE_HISTORY", "3")

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	settings := cfg.EngineSettings()
	assert.Equal(t, 500*time.Millisecond, settings.Tick)
	assert.Equal(t, 8.0, settings.DistancePerStroke)
	assert.Zero(t, settings.InitialBootDelay)
	assert.Equal(t, []string{"PM5", "RowErg"}, settings.DeviceNameMarkers)
	assert.Equal(t, 3, settings.StrokeHistory)
}

func TestLoadConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "erg-bridge.toml")
	err := os.WriteFile(configPath, []byte(`
tick_seconds = 0.25
power_hold_sec = 1.0
listen_addr = "127.0.0.1:9000"
db_path = ""
simulate = true
`), 0o600)
	require.NoError(t, err)
	t.Setenv(config.ConfigEnv, configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.TickSeconds)
	assert.Equal(t, time.Second, cfg.EngineSettings().PowerHold)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Empty(t, cfg.DBPath)
	assert.True(t, cfg.Simulate)
}

func TestLoadPrecedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "erg-bridge.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("tick_seconds: 0.25\nretry_delay: 7\n"), 0o600))
	t.Setenv(config.ConfigEnv, "")
	t.Setenv("TICK_SECONDS", "0.4")

	cfg, err := config.Load([]string{"--config", configPath, "--tick-seconds", "0.1"})
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.TickSeconds, "flag beats env and file")
	assert.Equal(t, 7.0, cfg.RetryDelay, "file beats default")
}

func TestLoadFlags(t *testing.T) {
	t.Setenv(config.ConfigEnv, "")

	cfg, err := config.Load([]string{"--simulate", "--tui", "--sim-watts", "250", "--device-name-markers", "Concept2"})
	require.NoError(t, err)

	assert.True(t, cfg.Simulate)
	assert.True(t, cfg.TUI)
	assert.Equal(t, 250, cfg.SimWatts)
	assert.Equal(t, []string{"Concept2"}, cfg.DeviceMarkers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(config.ConfigEnv, "")

	tests := map[string][]string{
		"zero tick":         {"--tick-seconds", "0"},
		"zero decay window": {"--power-decay-window", "0"},
		"empty history":     {"--stroke-history", "0"},
		"inverted bounds":   {"--min-stroke-interval", "5", "--max-stroke-interval", "0.3"},
		"blank markers":     {"--device-name-markers", " "},
		"negative delay":    {"--retry-delay", "-1"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(args)
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv(config.ConfigEnv, filepath.Join(t.TempDir(), "missing.toml"))

	_, err := config.Load(nil)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := config.Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline   *erg.Pipeline
	store      *store.MemoryStore
	controller *Controller
	logs       *bytes.Buffer
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := log.New(logs, "", 0)
	pipeline := erg.NewPipeline(erg.DefaultSettings(), erg.SystemClock(), logger)
	pipeline.BeginConnection(t0)
	mem := store.NewMemoryStore()
	controller := NewController(NewControllerArg{
		Telemetry: pipeline,
		Store:     mem,
		Cooldown:  cooldown,
		Logger:    logger,
	})
	controller.now = func() time.Time { return t0 }
	t.Cleanup(controller.Shutdown)
	return &fixture{pipeline: pipeline, store: mem, controller: controller, logs: logs}
}

// row strokes once a second for ten seconds of 200ms ticks after from
func (f *fixture) row(from time.Time) {
	f.pipeline.OnSample(from, 240)
	for i := 1; i <= 50; i++ {
		at := from.Add(time.Duration(i) * 200 * time.Millisecond)
		if i%5 == 0 {
			f.pipeline.OnSample(at, 240)
		}
		f.pipeline.Tick(at)
	}
}

func TestController_DataZeroOutsideSession(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.pipeline.OnSample(t0, 200)
	f.pipeline.Tick(t0.Add(200 * time.Millisecond))

	data := f.controller.Data()
	assert.Zero(t, data.PowerWatts)
	assert.Zero(t, data.StrokeRate)
	assert.False(t, data.SessionActive)
	assert.True(t, data.Connected)
	assert.Equal(t, struct{}{}, data.LastSessionSnapshot)

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_session_snapshot":{}`)
}

func TestController_StartStop(t *testing.T) {
	f := newFixture(t, time.Hour)

	f.controller.Start()
	require.True(t, f.controller.Active())
	f.row(t0)

	data := f.controller.Data()
	assert.True(t, data.SessionActive)
	assert.Equal(t, 240, data.PowerWatts)
	assert.Equal(t, 60, data.StrokeRate)
	assert.Equal(t, 10, data.ElapsedTime)
	assert.Equal(t, 55, data.DistanceMeters, "cadence is known from the second stroke on")
	assert.Equal(t, 0.0007, data.EnergyKWh)

	snap, ok := f.controller.Stop(context.Background())
	require.True(t, ok)
	assert.NotEmpty(t, snap.ID)
	assert.InDelta(t, 10.0, snap.Elapsed, 1e-6)
	assert.InDelta(t, 55.2, snap.Distance, 1e-6)
	assert.False(t, f.pipeline.Snapshot().SessionActive)

	persisted, err := f.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, persisted)

	data = f.controller.Data()
	assert.Zero(t, data.ElapsedTime, "live totals hidden once stopped")
	view, ok := data.LastSessionSnapshot.(SnapshotView)
	require.True(t, ok)
	assert.Equal(t, snap.ID, view.ID)
	assert.InDelta(t, 10.0, view.ElapsedTime, 1e-6)
}

func TestController_StartResetsTotals(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.controller.Start()
	f.row(t0)
	f.controller.Stop(context.Background())

	f.controller.Start()
	state := f.pipeline.Snapshot()
	assert.Zero(t, state.Elapsed)
	assert.Zero(t, state.Distance)
	assert.Zero(t, state.EnergyKWh)
	assert.True(t, state.SessionActive)
}

func TestController_StopWithoutSession(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, ok := f.controller.Stop(context.Background())
	assert.False(t, ok)

	_, err := f.store.Latest(context.Background())
	assert.ErrorIs(t, err, store.ErrNoSnapshot)
}

func TestController_CooldownClears(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.controller.Start()
	f.row(t0)
	f.controller.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, ok := f.controller.LastSession()
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, f.pipeline.Snapshot().Elapsed)
	assert.Equal(t, struct{}{}, f.controller.Data().LastSessionSnapshot)

	persisted, err := f.controller.Persisted(context.Background())
	require.NoError(t, err, "persisted copy outlives the cooldown")
	assert.InDelta(t, 10.0, persisted.Elapsed, 1e-6)
}

func TestController_StartCancelsCooldown(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.controller.Start()
	f.row(t0)
	f.controller.Stop(context.Background())

	f.controller.Start()
	f.row(t0.Add(10 * time.Second))

	time.Sleep(80 * time.Millisecond)
	assert.InDelta(t, 10.0, f.pipeline.Snapshot().Elapsed, 1e-6, "stale cooldown must not wipe the new session")
	assert.True(t, f.controller.Active())
}

type failingStore struct{ store.MemoryStore }

func (*failingStore) Save(context.Context, store.Snapshot) error {
	return errors.New("disk full")
}

func TestController_PersistFailureIsLogged(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.controller.store = &failingStore{}

	f.controller.Start()
	_, ok := f.controller.Stop(context.Background())
	assert.True(t, ok)
	assert.Contains(t, f.logs.String(), "failed to persist snapshot")
	_, ok = f.controller.LastSession()
	assert.True(t, ok, "in-memory snapshot kept")
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS last_session (
		slot        INTEGER PRIMARY KEY CHECK (slot = 1),
		id          TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		stopped_at  INTEGER NOT NULL,
		elapsed     REAL NOT NULL CHECK (elapsed >= 0),
		distance    REAL NOT NULL CHECK (distance >= 0),
		energy_kwh  REAL NOT NULL CHECK (energy_kwh >= 0)
	);`

	upsertSnapshotSQL = `
	INSERT INTO last_session (slot, id, started_at, stopped_at, elapsed, distance, energy_kwh)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
		id = excluded.id,
		started_at = excluded.started_at,
		stopped_at = excluded.stopped_at,
		elapsed = excluded.elapsed,
		distance = excluded.distance,
		energy_kwh = excluded.energy_kwh`

	selectSnapshotSQL = `
	SELECT id, started_at, stopped_at, elapsed, distance, energy_kwh
	FROM last_session WHERE slot = 1`
)

// initSchema creates the tables and records the schema version, refusing a
// database written by a newer build
func initSchema(db *sql.DB, logger *log.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Printf("Store: failed to rollback schema transaction: %v", err)
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var current sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(version) FROM schema_versions").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case !current.Valid:
		if _, err := tx.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
			SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		logger.Printf("Store: created schema version %d", SchemaVersion)
	case current.Int64 > SchemaVersion:
		return fmt.Errorf("%w: database has %d, this build knows %d", ErrSchemaTooNew, current.Int64, SchemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	committed = true
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

var (
	// ErrNoSnapshot is returned before any session has been stopped
	ErrNoSnapshot = errors.New("no session snapshot stored")

	// ErrSchemaTooNew is returned for a database written by a newer build
	ErrSchemaTooNew = errors.New("database schema is newer than supported")
)

// Snapshot is the record of the most recently stopped session
type Snapshot struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Elapsed   float64   `json:"elapsed"`
	Distance  float64   `json:"distance"`
	EnergyKWh float64   `json:"energy_kwh"`
}

// SnapshotStore keeps the last session snapshot across restarts
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
	Close() error
}

var (
	_ SnapshotStore = (*SQLiteStore)(nil)
	_ SnapshotStore = (*MemoryStore)(nil)
)

// SQLiteStore persists the snapshot as a single upserted row
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		panic("SQLiteStore: logger cannot be nil")
	}
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := initSchema(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Printf("Store: snapshot database ready at %s", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, upsertSnapshotSQL,
		snap.ID,
		snap.StartedAt.UnixMilli(),
		snap.StoppedAt.UnixMilli(),
		snap.Elapsed,
		snap.Distance,
		snap.EnergyKWh,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var startedAt, stoppedAt int64
	err := s.db.QueryRowContext(ctx, selectSnapshotSQL).Scan(
		&snap.ID, &startedAt, &stoppedAt, &snap.Elapsed, &snap.Distance, &snap.EnergyKWh)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.StartedAt = time.UnixMilli(startedAt).UTC()
	snap.StoppedAt = time.UnixMilli(stoppedAt).UTC()
	return snap, nil
}

func (s *SQLiteStore) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Store: WAL checkpoint failed: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	s.logger.Println("Store: closed")
	return nil
}

// MemoryStore keeps the snapshot for the life of the process only
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	return nil
}

func (m *MemoryStore) Latest(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return *m.snap, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

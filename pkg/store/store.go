// Package store provides SQLite-backed persistence for galliumctl: saved
// firmware module-catalog snapshots and DSP bring-up run history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// cliName is used for the default state directory path.
const cliName = "galliumctl"

// Store records catalog snapshots and bring-up runs.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following the XDG spec.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, cliName, cliName+".db")
}

// Open opens (creating if necessary) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL mode lets a long-running bring-up append events while another
	// galliumctl process reads history.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_snapshots (
		id TEXT PRIMARY KEY,
		firmware_version TEXT NOT NULL,
		captured_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS catalog_modules (
		snapshot_id TEXT NOT NULL REFERENCES catalog_snapshots(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		module_id INTEGER NOT NULL,
		instance_max INTEGER NOT NULL,
		affinity_mask INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, name)
	);

	CREATE TABLE IF NOT EXISTS bringup_runs (
		id TEXT PRIMARY KEY,
		board TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		status TEXT NOT NULL,
		detail TEXT
	);

	CREATE TABLE IF NOT EXISTS bringup_events (
		run_id TEXT NOT NULL REFERENCES bringup_runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		op TEXT NOT NULL,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CatalogModule is one saved module-catalog record.
type CatalogModule struct {
	Name         string
	ModuleID     uint16
	InstanceMax  uint16
	AffinityMask uint32
}

// CatalogSnapshot is a saved firmware module catalog.
type CatalogSnapshot struct {
	ID              string
	FirmwareVersion string
	CapturedAt      time.Time
	Modules         []CatalogModule
}

// SaveCatalog stores a snapshot of the firmware module catalog.
func (s *Store) SaveCatalog(snap CatalogSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO catalog_snapshots (id, firmware_version, captured_at) VALUES (?, ?, ?)",
		snap.ID, snap.FirmwareVersion, snap.CapturedAt,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, m := range snap.Modules {
		if _, err := tx.Exec(
			"INSERT INTO catalog_modules (snapshot_id, name, module_id, instance_max, affinity_mask) VALUES (?, ?, ?, ?, ?)",
			snap.ID, m.Name, m.ModuleID, m.InstanceMax, m.AffinityMask,
		); err != nil {
			return fmt.Errorf("failed to insert module %q: %w", m.Name, err)
		}
	}
	return tx.Commit()
}

// GetCatalog loads a snapshot by id.
func (s *Store) GetCatalog(id string) (*CatalogSnapshot, error) {
	snap := &CatalogSnapshot{ID: id}
	err := s.db.QueryRow(
		"SELECT firmware_version, captured_at FROM catalog_snapshots WHERE id = ?", id,
	).Scan(&snap.FirmwareVersion, &snap.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog snapshot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT name, module_id, instance_max, affinity_mask FROM catalog_modules WHERE snapshot_id = ? ORDER BY module_id", id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m CatalogModule
		if err := rows.Scan(&m.Name, &m.ModuleID, &m.InstanceMax, &m.AffinityMask); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		snap.Modules = append(snap.Modules, m)
	}
	return snap, rows.Err()
}

// BringupRun is one recorded bring-up attempt.
type BringupRun struct {
	ID         string
	Board      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // running, succeeded, failed
	Detail     string
}

// BringupEvent is one controller operation within a run.
type BringupEvent struct {
	RunID  string
	Seq    int
	Op     string
	Target string
	Status string
	At     time.Time
}

// StartRun records the beginning of a bring-up attempt.
func (s *Store) StartRun(id, board string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO bringup_runs (id, board, started_at, status) VALUES (?, ?, ?, 'running')",
		id, board, at,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run's outcome.
func (s *Store) FinishRun(id, status, detail string, at time.Time) error {
	res, err := s.db.Exec(
		"UPDATE bringup_runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?",
		at, status, detail, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// AppendEvent records a controller operation within a run.
func (s *Store) AppendEvent(ev BringupEvent) error {
	_, err := s.db.Exec(
		"INSERT INTO bringup_events (run_id, seq, op, target, status, at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.RunID, ev.Seq, ev.Op, ev.Target, ev.Status, ev.At,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]BringupRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, board, started_at, finished_at, status, COALESCE(detail, '') FROM bringup_runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []BringupRun
	for rows.Next() {
		var r BringupRun
		if err := rows.Scan(&r.ID, &r.Board, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListEvents returns a run's events in sequence order.
func (s *Store) ListEvents(runID string) ([]BringupEvent, error) {
	rows, err := s.db.Query(
		"SELECT run_id, seq, op, target, status, at FROM bringup_events WHERE run_id = ? ORDER BY seq",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []BringupEvent
	for rows.Next() {
		var ev BringupEvent
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Op, &ev.Target, &ev.Status, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

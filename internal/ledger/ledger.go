// Package ledger records batch runs and the outcome of each processed take
// in a SQLite database.
package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mocap.report/internal/monitoring"
	"github.com/banshee-data/mocap.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run and take statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Ledger is a handle on the run database.
type Ledger struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Run is one invocation of a batch tool.
type Run struct {
	ID          string
	Tool        string
	Input       string
	Output      string
	Status      string
	FilesTotal  int
	FilesFailed int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Take is the outcome of processing one input container.
type Take struct {
	RunID          string
	Index          int
	Source         string
	Dest           string
	Status         string
	RecordsRead    int
	RecordsWritten int
	FramesWritten  int
	Error          string
	ProcessedAt    time.Time
}

// Open opens (creating if needed) the ledger at path and migrates it to the
// latest schema. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Ledger, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	l := &Ledger{db: db, clock: clock}
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	v, dirty, err := l.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		db.Close()
		return nil, fmt.Errorf("ledger %s: schema version %d is dirty", path, v)
	}
	monitoring.Logf("ledger: %s at schema version %d", path, v)
	return l, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

func (l *Ledger) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// Closing the migrate instance would close the shared *sql.DB, so it is left
// for the collector.
func (l *Ledger) migrateUp() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty flag.
func (l *Ledger) SchemaVersion() (uint, bool, error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun inserts a new running run and returns it.
func (l *Ledger) StartRun(tool, input, output string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Tool:      tool,
		Input:     input,
		Output:    output,
		Status:    StatusRunning,
		StartedAt: l.clock.Now(),
	}
	_, err := l.db.Exec(`
		INSERT INTO runs (run_id, tool, input, output, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Tool, run.Input, run.Output, run.Status, run.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run with its file counts. The run succeeds only when no
// file failed.
func (l *Ledger) FinishRun(runID string, total, failed int) error {
	status := StatusSucceeded
	if failed > 0 {
		status = StatusFailed
	}
	var startedAt int64
	err := l.db.QueryRow(`SELECT started_at FROM runs WHERE run_id = ?`, runID).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	res, err := l.db.Exec(`
		UPDATE runs SET status = ?, files_total = ?, files_failed = ?, finished_at = ?
		WHERE run_id = ?`,
		status, total, failed, l.clock.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	monitoring.Logf("ledger: run %s %s after %v (%d of %d files failed)",
		runID, status, l.clock.Since(time.Unix(0, startedAt)), failed, total)
	return nil
}

// RecordTake stores the outcome of one take. ProcessedAt is set from the
// ledger clock.
func (l *Ledger) RecordTake(t Take) error {
	t.ProcessedAt = l.clock.Now()
	_, err := l.db.Exec(`
		INSERT INTO takes (run_id, take_index, source, dest, status,
			records_read, records_written, frames_written, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Index, t.Source, t.Dest, t.Status,
		t.RecordsRead, t.RecordsWritten, t.FramesWritten, t.Error, t.ProcessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert take %d: %w", t.Index, err)
	}
	return nil
}

// GetRun returns the run with the given id.
func (l *Ledger) GetRun(runID string) (*Run, error) {
	row := l.db.QueryRow(`
		SELECT run_id, tool, input, output, status, files_total, files_failed, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns
// all runs.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.Query(`
		SELECT run_id, tool, input, output, status, files_total, files_failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListTakes returns the takes of a run ordered by take index.
func (l *Ledger) ListTakes(runID string) ([]Take, error) {
	rows, err := l.db.Query(`
		SELECT run_id, take_index, source, dest, status,
			records_read, records_written, frames_written, error, processed_at
		FROM takes WHERE run_id = ? ORDER BY take_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list takes: %w", err)
	}
	defer rows.Close()

	var takes []Take
	for rows.Next() {
		var t Take
		var processed int64
		if err := rows.Scan(&t.RunID, &t.Index, &t.Source, &t.Dest, &t.Status,
			&t.RecordsRead, &t.RecordsWritten, &t.FramesWritten, &t.Error, &processed); err != nil {
			return nil, fmt.Errorf("failed to scan take: %w", err)
		}
		t.ProcessedAt = time.Unix(0, processed)
		takes = append(takes, t)
	}
	return takes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	if err := s.Scan(&run.ID, &run.Tool, &run.Input, &run.Output, &run.Status,
		&run.FilesTotal, &run.FilesFailed, &started, &finished); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		ft := time.Unix(0, finished.Int64)
		run.FinishedAt = &ft
	}
	return &run, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

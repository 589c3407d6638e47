package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store for the given database path. The parent
// directory is created on Init.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database in WAL mode with a busy timeout.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// RecordRun inserts a new run record.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			id, kind, plan_id, target, dry_run, status,
			epics_created, stories_created, tasks_created,
			items_updated, items_deleted, warnings,
			error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.PlanID,
		run.Target,
		run.DryRun,
		run.Status,
		run.EpicsCreated,
		run.StoriesCreated,
		run.TasksCreated,
		run.ItemsUpdated,
		run.ItemsDeleted,
		run.Warnings,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal state and counters of a run. The
// FinishedAt field is stamped if the caller has not set it.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	query := `
		UPDATE sync_runs
		SET status = ?, epics_created = ?, stories_created = ?, tasks_created = ?,
			items_updated = ?, items_deleted = ?, warnings = ?,
			error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.EpicsCreated,
		run.StoriesCreated,
		run.TasksCreated,
		run.ItemsUpdated,
		run.ItemsDeleted,
		run.Warnings,
		run.Error,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `id, kind, plan_id, target, dry_run, status,
	epics_created, stories_created, tasks_created,
	items_updated, items_deleted, warnings,
	error, started_at, finished_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*SyncRun, error) {
	run := &SyncRun{}
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.PlanID,
		&run.Target,
		&run.DryRun,
		&run.Status,
		&run.EpicsCreated,
		&run.StoriesCreated,
		&run.TasksCreated,
		&run.ItemsUpdated,
		&run.ItemsDeleted,
		&run.Warnings,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// AppendEvent appends an event to a run's log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *RunEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO run_events (run_id, kind, item_id, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Kind,
		event.ItemID,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// ListEvents returns a run's events in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*RunEvent, error) {
	query := `
		SELECT id, run_id, kind, item_id, message, timestamp
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*RunEvent{}
	for rows.Next() {
		event := &RunEvent{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Kind,
			&event.ItemID,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

var _ Store = (*SQLiteStore)(nil)

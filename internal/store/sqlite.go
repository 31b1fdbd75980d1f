package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/dataform-runner/internal/model"

	_ "modernc.org/sqlite"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS workflow_events (
    id              TEXT PRIMARY KEY,
    execution_id    TEXT NOT NULL,
    kind            TEXT NOT NULL,
    invocation_name TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL DEFAULT '',
    attempt         INTEGER NOT NULL DEFAULT 0,
    error           TEXT NOT NULL DEFAULT '',
    duration_s      REAL,
    created_at      DATETIME NOT NULL
)`

const createEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_workflow_events_execution
    ON workflow_events (execution_id, created_at)`

const eventColumns = `id, execution_id, kind, invocation_name, state, attempt, error, duration_s, created_at`

// ErrNotFound is returned when an execution has no journal entries.
var ErrNotFound = errors.New("execution not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across queries.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertEvent appends an event to the journal.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e model.Event) error {
	var duration sql.NullFloat64
	if e.DurationSeconds != nil {
		duration = sql.NullFloat64{Float64: *e.DurationSeconds, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExecutionID, string(e.Kind), e.InvocationName, string(e.State),
		e.Attempt, e.Error, duration, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns all events for an execution, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, executionID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM workflow_events
		WHERE execution_id = ? ORDER BY created_at ASC, rowid ASC`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// ListRecentEvents returns up to limit events across all executions, newest
// first.
func (s *SQLiteStore) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM workflow_events
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	return scanEvents(rows)
}

// GetStats aggregates the journal. The final state breakdown and average
// duration only consider completed events.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &Stats{
		CountByKind:       make(map[string]int),
		CountByFinalState: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT execution_id) FROM workflow_events",
	).Scan(&stats.Executions); err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	if err := countInto(ctx, tx, stats.CountByKind,
		"SELECT kind, COUNT(*) FROM workflow_events GROUP BY kind"); err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}

	if err := countInto(ctx, tx, stats.CountByFinalState,
		"SELECT state, COUNT(*) FROM workflow_events WHERE kind = 'completed' GROUP BY state"); err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_s) FROM workflow_events WHERE kind = 'completed' AND duration_s IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationSeconds = avg.Float64
	}

	return stats, nil
}

func countInto(ctx context.Context, tx *sql.Tx, dst map[string]int, query string) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e        model.Event
			kind     string
			state    string
			duration sql.NullFloat64
		)
		if err := rows.Scan(
			&e.ID, &e.ExecutionID, &kind, &e.InvocationName, &state,
			&e.Attempt, &e.Error, &duration, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		e.State = model.State(state)
		if duration.Valid {
			d := duration.Float64
			e.DurationSeconds = &d
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

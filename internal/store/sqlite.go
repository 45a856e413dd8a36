package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bytemomo/armada/internal/domain"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    devices     INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    passed      INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    timed_out   INTEGER NOT NULL DEFAULT 0,
    abandoned   INTEGER NOT NULL DEFAULT 0,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    run_id          TEXT NOT NULL REFERENCES runs(id),
    serial          TEXT NOT NULL,
    source          TEXT,
    status          TEXT NOT NULL,
    failure_kind    TEXT,
    failure_message TEXT,
    tests           TEXT,
    artifacts       TEXT,
    logs            TEXT,
    started_at      DATETIME,
    finished_at     DATETIME,
    duration_ms     INTEGER,
    PRIMARY KEY (run_id, serial)
)`

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
	// Device results arrive concurrently; a single connection serialises
	// writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for name, stmt := range map[string]string{"runs": createRunsTable, "results": createResultsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a running run. Creating an existing run is a no-op.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID string, devices int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, devices, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET devices = excluded.devices`,
		runID, RunRunning, devices, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RunStarted implements domain.RunListener.
func (s *SQLiteStore) RunStarted(ctx context.Context, runID string, devices []domain.Device) error {
	return s.CreateRun(ctx, runID, len(devices))
}

// Save upserts one device result. The latest result for a serial wins.
func (s *SQLiteStore) Save(ctx context.Context, runID string, res domain.ExecutionResult) error {
	tests, err := json.Marshal(res.Tests)
	if err != nil {
		return fmt.Errorf("encode tests: %w", err)
	}
	artifacts, err := json.Marshal(res.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	logs, err := json.Marshal(res.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}

	var kind, msg sql.NullString
	if res.Failure != nil {
		kind = sql.NullString{String: string(res.Failure.Kind), Valid: true}
		msg = sql.NullString{String: res.Failure.Message, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		runID, RunRunning, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO results (
			run_id, serial, source, status, failure_kind, failure_message,
			tests, artifacts, logs, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Device.Serial, string(res.Device.Source), string(res.Status), kind, msg,
		string(tests), string(artifacts), string(logs),
		res.StartedAt.UTC(), res.FinishedAt.UTC(), res.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// FinishRun stores the counts of a sealed outcome.
func (s *SQLiteStore) FinishRun(ctx context.Context, outcome *domain.AggregateOutcome) error {
	c := outcome.Counts()
	status := RunPassed
	switch {
	case outcome.Empty():
		status = RunEmpty
	case !outcome.AllPassed():
		status = RunFailed
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, devices, total, passed, failed, timed_out, abandoned, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			passed = excluded.passed,
			failed = excluded.failed,
			timed_out = excluded.timed_out,
			abandoned = excluded.abandoned,
			finished_at = excluded.finished_at`,
		outcome.RunID, status, c.Total, c.Total, c.Passed, c.Failed, c.TimedOut, c.Abandoned, now, now,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RunFinished implements domain.RunListener.
func (s *SQLiteStore) RunFinished(ctx context.Context, outcome *domain.AggregateOutcome) error {
	return s.FinishRun(ctx, outcome)
}

const selectRun = `SELECT id, status, devices, total, passed, failed, timed_out, abandoned, started_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	err := row.Scan(
		&r.ID, &r.Status, &r.Devices,
		&r.Counts.Total, &r.Counts.Passed, &r.Counts.Failed, &r.Counts.TimedOut, &r.Counts.Abandoned,
		&r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of runs, newest first, along with the total count.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, total, nil
}

// ListResults returns the device results of a run ordered by serial.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]domain.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT serial, source, status, failure_kind, failure_message,
			tests, artifacts, logs, started_at, finished_at, duration_ms
		FROM results WHERE run_id = ? ORDER BY serial`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionResult
	for rows.Next() {
		var (
			res                    domain.ExecutionResult
			source, status         string
			kind, msg              sql.NullString
			tests, artifacts, logs sql.NullString
			startedAt, finishedAt  time.Time
			durationMS             int64
		)
		if err := rows.Scan(
			&res.Device.Serial, &source, &status, &kind, &msg,
			&tests, &artifacts, &logs, &startedAt, &finishedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Device.Source = domain.DeviceSource(source)
		res.Status = domain.Status(status)
		res.StartedAt, res.FinishedAt = startedAt, finishedAt
		res.Duration = time.Duration(durationMS) * time.Millisecond
		if kind.Valid {
			res.Failure = &domain.Failure{Kind: domain.FailureKind(kind.String), Message: msg.String}
		}
		if err := decodeList(tests, &res.Tests); err != nil {
			return nil, fmt.Errorf("decode tests: %w", err)
		}
		if err := decodeList(artifacts, &res.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
		if err := decodeList(logs, &res.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func decodeList(col sql.NullString, v any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), v)
}

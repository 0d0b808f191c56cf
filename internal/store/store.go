// Package store persists brief generation runs: workflow status with an
// append-only log per request, and the finished reports with their cited
// sources.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/briefs/internal/logging"
)

// ErrNotFound indicates the request ID has no stored run.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of one generation run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Run is the queryable state of one generation request.
type Run struct {
	RequestID   uuid.UUID
	Status      Status
	LastUpdated time.Time
	Logs        []string
}

// Store wraps the SQLite database holding runs and reports.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) a run store at path. Use ":memory:" for an
// in-memory store.
func Open(path string) (*Store, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		request_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		logs TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS brief_reports (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		watchlist_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		is_empty INTEGER NOT NULL DEFAULT 0,
		report_period_start TIMESTAMP NOT NULL,
		report_period_end TIMESTAMP NOT NULL,
		novelty_enabled INTEGER NOT NULL DEFAULT 1,
		report TEXT NOT NULL,
		sources TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_request ON brief_reports(request_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun registers a new request in the queued state.
func (s *Store) CreateRun(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (request_id, status, last_updated, logs)
		VALUES (?, ?, ?, '[]')`,
		requestID.String(), string(StatusQueued), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateStatus transitions a run to the given status.
func (s *Store) UpdateStatus(ctx context.Context, requestID uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = ?, last_updated = ? WHERE request_id = ?`,
		string(status), time.Now().UTC(), requestID.String())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog adds a message to the run's append-only log.
func (s *Store) AppendLog(ctx context.Context, requestID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT logs FROM workflow_runs WHERE request_id = ?`,
		requestID.String()).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read logs: %w", err)
	}

	var logs []string
	if err := json.Unmarshal([]byte(encoded), &logs); err != nil {
		return fmt.Errorf("decode logs: %w", err)
	}
	logs = append(logs, message)

	updated, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET logs = ?, last_updated = ? WHERE request_id = ?`,
		string(updated), time.Now().UTC(), requestID.String())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// GetRun returns the status and logs of a run.
func (s *Store) GetRun(ctx context.Context, requestID uuid.UUID) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		run     Run
		status  string
		encoded string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, last_updated, logs FROM workflow_runs WHERE request_id = ?`,
		requestID.String()).Scan(&status, &run.LastUpdated, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal([]byte(encoded), &run.Logs); err != nil {
		return Run{}, fmt.Errorf("decode logs: %w", err)
	}
	run.RequestID = requestID
	run.Status = Status(status)
	return run, nil
}

// SavedReport is one persisted report row.
type SavedReport struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	WatchlistID string
	CreatedAt   time.Time
	IsEmpty     bool
	PeriodStart time.Time
	PeriodEnd   time.Time
	Novelty     bool
	Report      json.RawMessage
	Sources     json.RawMessage
}

// SaveReport persists a finished report with its cited sources. Failures are
// logged but also returned; completion of the run does not depend on them.
func (s *Store) SaveReport(ctx context.Context, rep SavedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brief_reports
			(id, request_id, watchlist_id, created_at, is_empty,
			 report_period_start, report_period_end, novelty_enabled, report, sources)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID.String(), rep.RequestID.String(), rep.WatchlistID, rep.CreatedAt,
		rep.IsEmpty, rep.PeriodStart.UTC(), rep.PeriodEnd.UTC(), rep.Novelty,
		string(rep.Report), string(rep.Sources))
	if err != nil {
		logging.Error("Failed to save report", "request_id", rep.RequestID, "error", err)
		return fmt.Errorf("save report: %w", err)
	}
	logging.Debug("Report saved", "report_id", rep.ID, "request_id", rep.RequestID)
	return nil
}

// GetReport returns the report persisted for a request, or ErrNotFound.
func (s *Store) GetReport(ctx context.Context, requestID uuid.UUID) (SavedReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rep       SavedReport
		id        string
		reportRaw string
		sourceRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, watchlist_id, created_at, is_empty,
		       report_period_start, report_period_end, novelty_enabled, report, sources
		FROM brief_reports WHERE request_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		requestID.String()).Scan(&id, &rep.WatchlistID, &rep.CreatedAt, &rep.IsEmpty,
		&rep.PeriodStart, &rep.PeriodEnd, &rep.Novelty, &reportRaw, &sourceRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedReport{}, ErrNotFound
	}
	if err != nil {
		return SavedReport{}, fmt.Errorf("query report: %w", err)
	}

	rep.ID, err = uuid.Parse(id)
	if err != nil {
		return SavedReport{}, fmt.Errorf("parse report ID: %w", err)
	}
	rep.RequestID = requestID
	rep.Report = json.RawMessage(reportRaw)
	rep.Sources = json.RawMessage(sourceRaw)
	return rep, nil
}

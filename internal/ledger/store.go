// Package ledger records extraction runs in SQLite: every scale attempt,
// every region-month outcome and every checkpoint flush. It answers which
// region-months came back empty in a run.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const timestampLayout = time.RFC3339Nano

// Store is the run ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open opens (creating if needed) the ledger database at path and migrates
// it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one invocation of the service.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
}

// StartRun creates a running run and returns its id.
func (s *Store) StartRun(ctx context.Context, command string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, command, started_at, status)
		VALUES (?, ?, ?, ?)
	`, id, command, formatTimestamp(now()), StatusRunning)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// CompleteRun marks the run completed, or failed when runErr is non-nil.
func (s *Store) CompleteRun(ctx context.Context, runID string, runErr error) error {
	status := StatusCompleted
	var msg sql.NullString
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?
	`, formatTimestamp(now()), status, msg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete run: unknown run %s", runID)
	}
	return nil
}

// GetRun returns the run with id, or sql.ErrNoRows.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var (
		r          Run
		started    string
		finished   sql.NullString
		runErrText sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, command, started_at, finished_at, status, error FROM runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Command, &started, &finished, &r.Status, &runErrText)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = time.Parse(timestampLayout, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(timestampLayout, finished.String)
	}
	r.Error = runErrText.String
	return r, nil
}

// ExtractionEntry is the outcome of one (dataset, region, month).
type ExtractionEntry struct {
	DatasetID string
	RegionID  string
	Month     time.Time
	Attempts  []domain.Attempt
	Empty     bool
}

// RecordExtraction stores the entry and its attempts in one transaction.
// Re-recording the same region-month in a run replaces the outcome.
func (s *Store) RecordExtraction(ctx context.Context, runID string, e ExtractionEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	month := e.Month.Format(domain.DateLayout)
	for _, a := range e.Attempts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (run_id, dataset, region_id, month, scale, outcome, reason, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, e.DatasetID, e.RegionID, month, a.Scale, a.Outcome.String(), a.Reason, a.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
	}

	var scale sql.NullInt64
	if !e.Empty && len(e.Attempts) > 0 {
		scale = sql.NullInt64{Int64: int64(e.Attempts[len(e.Attempts)-1].Scale), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO extractions (run_id, dataset, region_id, month, scale, empty, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, dataset, region_id, month) DO UPDATE SET
			scale = excluded.scale,
			empty = excluded.empty,
			recorded_at = excluded.recorded_at
	`, runID, e.DatasetID, e.RegionID, month, scale, e.Empty, formatTimestamp(now())); err != nil {
		return fmt.Errorf("upsert extraction: %w", err)
	}

	return tx.Commit()
}

// FlushEntry describes one written checkpoint.
type FlushEntry struct {
	DatasetID string
	Year      int
	Records   int
	Path      string
}

// RecordFlush stores a checkpoint flush.
func (s *Store) RecordFlush(ctx context.Context, runID string, f FlushEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flushes (run_id, dataset, year, records, path, flushed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, f.DatasetID, f.Year, f.Records, f.Path, formatTimestamp(now()))
	if err != nil {
		return fmt.Errorf("record flush: %w", err)
	}
	return nil
}

// Missing is a region-month for which no scale produced data.
type Missing struct {
	DatasetID string
	RegionID  string
	Month     time.Time
}

// MissingExtractions lists the run's empty region-months ordered by
// dataset, month and region.
func (s *Store) MissingExtractions(ctx context.Context, runID string) ([]Missing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset, region_id, month FROM extractions
		WHERE run_id = ? AND empty = TRUE
		ORDER BY dataset, month, region_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query missing extractions: %w", err)
	}
	defer rows.Close()

	var out []Missing
	for rows.Next() {
		var (
			m     Missing
			month string
		)
		if err := rows.Scan(&m.DatasetID, &m.RegionID, &month); err != nil {
			return nil, err
		}
		if m.Month, err = domain.ParseDate(month); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AttemptCounts returns the number of attempts per outcome for the run.
func (s *Store) AttemptCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM attempts WHERE run_id = ? GROUP BY outcome
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempt counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func now() time.Time {
	return domain.Now()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the database file created under the state directory.
const FileName = "history.db"

// Status is the outcome of one stage execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusEmpty marks a stage 0 run that found no new lines.
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Run is one recorded stage execution.
type Run struct {
	ID             string
	SourceID       string
	StageIndex     int
	Stage          string
	Status         Status
	StartedAt      time.Time
	FinishedAt     time.Time
	LineCount      int
	InputReports   int
	ReportPath     string
	FailedWorkers  []string
	ReduceFallback bool
	Error          string
}

// Duration returns the wall-clock time of the run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows List results.
type Filter struct {
	SourceID string
	Status   Status
	// Limit defaults to 50.
	Limit int
}

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultListLimit        = 50
)

const runColumns = "id, source_id, stage_index, stage_name, status, started_at, finished_at, line_count, input_reports, report_path, failed_workers, reduce_fallback, error_message"

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts run, assigning an id when empty, and returns the stored row.
func (s *Store) Record(ctx context.Context, run Run) (Run, error) {
	if s == nil || s.db == nil {
		return run, errors.New("history: store not open")
	}
	if strings.TrimSpace(run.SourceID) == "" {
		return run, errors.New("history: source id is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusSucceeded
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	err := s.execWithRetry(ctx,
		"INSERT INTO runs ("+runColumns+", duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID,
		run.SourceID,
		run.StageIndex,
		run.Stage,
		string(run.Status),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.LineCount,
		run.InputReports,
		nullableString(run.ReportPath),
		nullableString(strings.Join(run.FailedWorkers, "\n")),
		boolToInt(run.ReduceFallback),
		nullableString(run.Error),
		run.Duration().Milliseconds(),
	)
	if err != nil {
		return run, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	return s.query(ctx, query, args...)
}

// Latest returns the most recent run of each stage of sourceID, keyed by
// stage index.
func (s *Store) Latest(ctx context.Context, sourceID string) (map[int]Run, error) {
	runs, err := s.query(ctx,
		"SELECT "+runColumns+" FROM runs r WHERE source_id = ? AND started_at = "+
			"(SELECT MAX(started_at) FROM runs WHERE source_id = r.source_id AND stage_index = r.stage_index) "+
			"ORDER BY stage_index, id",
		sourceID,
	)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]Run, len(runs))
	for _, run := range runs {
		if _, seen := latest[run.StageIndex]; !seen {
			latest[run.StageIndex] = run
		}
	}
	return latest, nil
}

// Prune deletes runs that started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", formatTime(cutoff))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return affected, nil
}

// RenameSource moves every run of oldID to newID.
func (s *Store) RenameSource(ctx context.Context, oldID, newID string) error {
	if err := s.execWithRetry(ctx, "UPDATE runs SET source_id = ? WHERE source_id = ?", newID, oldID); err != nil {
		return fmt.Errorf("rename source runs: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history: store not open")
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run            Run
		status         string
		startedRaw     string
		finishedRaw    string
		reportPath     sql.NullString
		failedWorkers  sql.NullString
		reduceFallback int
		errorMessage   sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.SourceID,
		&run.StageIndex,
		&run.Stage,
		&status,
		&startedRaw,
		&finishedRaw,
		&run.LineCount,
		&run.InputReports,
		&reportPath,
		&failedWorkers,
		&reduceFallback,
		&errorMessage,
	); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.ReportPath = reportPath.String
	run.ReduceFallback = reduceFallback != 0
	run.Error = errorMessage.String
	if failedWorkers.String != "" {
		run.FailedWorkers = strings.Split(failedWorkers.String, "\n")
	}
	if t, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedRaw); err == nil {
		run.FinishedAt = t
	}
	return run, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	ctx = ensureContext(ctx)
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// formatTime stores UTC with a fixed-width fraction so text ordering matches
// time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

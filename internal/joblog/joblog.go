// Package joblog is the local ledger of submitted jobs and their step
// history, backed by SQLite. It powers `listforge status` and
// `listforge retry` without re-asking the backend, and it is the durable
// record of which attempt of a batch a job belongs to.
package joblog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Status is the ledger-level job status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when a job id or batch has no ledger entry.
var ErrNotFound = errors.New("joblog: job not found")

// Job is one ledger entry. Retries of the same logical submission share a
// BatchID with increasing Attempt numbers. Files and Fields capture the
// original submission so a retry can rebuild the upload from scratch.
type Job struct {
	ID        string
	BatchID   string
	Attempt   int
	Status    Status
	Error     string
	Files     []string
	Fields    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
	Steps     []StepEntry
}

// StepEntry is the latest recorded state of one client step of a job.
type StepEntry struct {
	Step      string
	State     string
	Error     string
	UpdatedAt time.Time
}

// Store is the SQLite-backed job ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the ledger database at path and applies pending
// schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return nil, fmt.Errorf("joblog: creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("joblog: opening %s: %w", path, err)
	}

	// SQLite allows one writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("joblog: enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob records a newly submitted job along with the file paths and
// scalar fields of the submission, so a retry can rebuild the upload.
func (s *Store) CreateJob(ctx context.Context, id, batchID string, attempt int, files []string, fields map[string]string) error {
	now := time.Now().Unix()

	if files == nil {
		files = []string{}
	}

	if fields == nil {
		fields = map[string]string{}
	}

	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("joblog: encoding files for job %s: %w", id, err)
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("joblog: encoding fields for job %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, batch_id, attempt, status, files, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, batchID, attempt, StatusRunning, string(filesJSON), string(fieldsJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("joblog: creating job %s: %w", id, err)
	}

	s.logger.Debug("job recorded",
		slog.String("job_id", id),
		slog.String("batch_id", batchID),
		slog.Int("attempt", attempt),
	)

	return nil
}

// SetStatus updates a job's terminal status and error text.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errText, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("joblog: updating job %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("joblog: updating job %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("joblog: updating job %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordStep upserts the latest state of one client step for a job. Only
// the last received record per step is kept; earlier history for other
// steps is never rewritten.
func (s *Store) RecordStep(ctx context.Context, jobID, step, state, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_steps (job_id, step, state, error, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, step) DO UPDATE SET
		   state = excluded.state,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		jobID, step, state, errText, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("joblog: recording step %s for job %s: %w", step, jobID, err)
	}

	return nil
}

// GetJob loads one job with its step entries.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, attempt, status, error, files, fields, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	steps, err := s.jobSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Steps = steps

	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, attempt, status, error, files, fields, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("joblog: listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("joblog: listing jobs: %w", err)
	}

	return jobs, nil
}

// LatestJob returns the most recently created job, or ErrNotFound for an
// empty ledger.
func (s *Store) LatestJob(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, attempt, status, error, files, fields, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC, id DESC LIMIT 1`)

	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	steps, err := s.jobSteps(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	job.Steps = steps

	return job, nil
}

// LatestForBatch returns the newest attempt recorded for a batch.
func (s *Store) LatestForBatch(ctx context.Context, batchID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, attempt, status, error, files, fields, created_at, updated_at
		 FROM jobs WHERE batch_id = ? ORDER BY attempt DESC LIMIT 1`, batchID)

	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	steps, err := s.jobSteps(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	job.Steps = steps

	return job, nil
}

// jobSteps loads the step entries for a job in recorded order.
func (s *Store) jobSteps(ctx context.Context, jobID string) ([]StepEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, state, error, updated_at FROM job_steps
		 WHERE job_id = ? ORDER BY rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("joblog: loading steps for %s: %w", jobID, err)
	}
	defer rows.Close()

	var steps []StepEntry

	for rows.Next() {
		var (
			entry StepEntry
			ts    int64
		)

		if err := rows.Scan(&entry.Step, &entry.State, &entry.Error, &ts); err != nil {
			return nil, fmt.Errorf("joblog: scanning step for %s: %w", jobID, err)
		}

		entry.UpdatedAt = time.Unix(ts, 0)
		steps = append(steps, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("joblog: loading steps for %s: %w", jobID, err)
	}

	return steps, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row, translating sql.ErrNoRows to ErrNotFound.
func scanJob(row rowScanner) (*Job, error) {
	var (
		job                   Job
		filesJSON, fieldsJSON string
		createdAt, updatedAt  int64
	)

	err := row.Scan(&job.ID, &job.BatchID, &job.Attempt, &job.Status, &job.Error,
		&filesJSON, &fieldsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("joblog: scanning job: %w", err)
	}

	if err := json.Unmarshal([]byte(filesJSON), &job.Files); err != nil {
		return nil, fmt.Errorf("joblog: decoding files for job %s: %w", job.ID, err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &job.Fields); err != nil {
		return nil, fmt.Errorf("joblog: decoding fields for job %s: %w", job.ID, err)
	}

	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)

	return &job, nil
}

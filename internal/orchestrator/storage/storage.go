package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
	"github.com/matthewtibby/Stellar-Astro-sub002/shared/postgresql"
)

// Storage is the job store adapter. It is the only shared mutable resource
// of the orchestrator; every state transition is a guarded read-modify-write
// so concurrent observers of the same job id converge on the same value.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

const jobColumns = `
	job_id, idempotency_key, user_id, project_id, job_type,
	status, progress, payload, result, error,
	created_at, updated_at, completed_at
`

// CreateJob inserts a new job record.
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO calibration_jobs (
			job_id, idempotency_key, user_id, project_id, job_type,
			status, progress, payload, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.IdempotencyKey,
		job.UserID,
		job.ProjectID,
		job.JobType,
		job.Status,
		job.Progress,
		job.Payload,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by its ID.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM calibration_jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// MarkRunning transitions a job from queued to running. Returns false when
// the job was not in queued (already running, or terminal).
func (s *Storage) MarkRunning(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE calibration_jobs
		SET status = $2, updated_at = $3
		WHERE job_id = $1 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning, time.Now(), domain.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}

// UpdateProgress records a progress observation for a running job.
// GREATEST keeps progress monotonically non-decreasing even if status
// responses arrive out of order.
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	query := `
		UPDATE calibration_jobs
		SET progress = GREATEST(progress, $2), updated_at = $3
		WHERE job_id = $1 AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query, jobID, progress, time.Now(), domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// MarkTerminal moves a job to a terminal status. The WHERE guard refuses to
// move a job that is already terminal, so a late poll response can never
// overwrite a cancellation. Returns false when the guard rejected the update.
func (s *Storage) MarkTerminal(ctx context.Context, jobID, status, errMsg string) (bool, error) {
	if !domain.IsTerminalStatus(status) {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	progressExpr := "progress"
	if status == domain.JobStatusSuccess {
		progressExpr = "100"
	}

	query := fmt.Sprintf(`
		UPDATE calibration_jobs
		SET status = $2, error = $3, progress = %s, completed_at = $4, updated_at = $4
		WHERE job_id = $1 AND status NOT IN ($5, $6, $7)
	`, progressExpr)

	var errValue sql.NullString
	if errMsg != "" {
		errValue = sql.NullString{String: errMsg, Valid: true}
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, query,
		jobID, status, errValue, now,
		domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job terminal: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}

// SetResult attaches the materialized result to a successful job.
func (s *Storage) SetResult(ctx context.Context, jobID, resultJSON string) error {
	query := `
		UPDATE calibration_jobs
		SET result = $2, updated_at = $3
		WHERE job_id = $1 AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query, jobID, resultJSON, time.Now(), domain.JobStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to set job result: %w", err)
	}

	return nil
}

// ListActiveJobs returns all jobs still in a non-terminal status. Used to
// resume polling after a process restart.
func (s *Storage) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM calibration_jobs
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	return jobs, nil
}

type JobFilter struct {
	UserID    string
	ProjectID string
	JobType   string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs matching the filter, newest first, using keyset
// pagination on (created_at, job_id).
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM calibration_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND project_id = $%d", argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

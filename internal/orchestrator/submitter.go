package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
)

// Submitter performs the one-shot worker call that hands a built payload to
// the worker. Every submission attempt ends in a persisted job: queued on
// acceptance, failed on rejection. A failed submission never vanishes into
// an idle state the caller cannot track.
type Submitter struct {
	store   JobStore
	worker  WorkerClient
	cleaner *Cleaner
	logger  *slog.Logger
}

// NewSubmitter creates a new job submitter
func NewSubmitter(store JobStore, worker WorkerClient, cleaner *Cleaner, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:   store,
		worker:  worker,
		cleaner: cleaner,
		logger:  logger,
	}
}

// Submit sends the built payload to the worker and persists the resulting
// job record. Returns the job id in both outcomes; the error reports why a
// failed submission failed.
func (s *Submitter) Submit(ctx context.Context, req *domain.SubmitRequest, sub *Submission) (string, error) {
	resp, err := s.worker.Submit(ctx, sub.Payload)
	if err != nil {
		return s.recordFailure(ctx, req, sub, err)
	}

	now := time.Now()
	job := &model.Job{
		JobID:          resp.JobID,
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		JobType:        req.JobType,
		Status:         domain.JobStatusQueued,
		Progress:       0,
		Payload:        sub.PayloadJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		// The worker has accepted the job and owns its temporary objects
		// now, so the cleanup saga must not run here.
		s.logger.Error("Worker accepted job but persisting the record failed",
			slog.String("job_id", resp.JobID),
			slog.String("error", err.Error()),
		)
		return resp.JobID, domain.SubmissionError("store.create_job", err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", resp.JobID),
		slog.String("job_type", req.JobType),
		slog.String("user_id", req.UserID),
		slog.Int("input_count", len(req.InputPaths)),
	)

	return resp.JobID, nil
}

// recordFailure persists a failed job for a submission the worker never
// accepted and runs the cleanup saga over the attempt's temporary objects.
func (s *Submitter) recordFailure(ctx context.Context, req *domain.SubmitRequest, sub *Submission, cause error) (string, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		JobID:          jobID,
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		JobType:        req.JobType,
		Status:         domain.JobStatusQueued,
		Progress:       0,
		Payload:        sub.PayloadJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error("Failed to persist failed submission",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	} else if _, err := s.store.MarkTerminal(ctx, jobID, domain.JobStatusFailed, cause.Error()); err != nil {
		s.logger.Error("Failed to mark failed submission terminal",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Error("Job submission failed",
		slog.String("job_id", jobID),
		slog.String("job_type", req.JobType),
		slog.String("error", cause.Error()),
	)

	s.cleaner.Run(ctx, jobID, sub.TempObjects)

	return jobID, domain.SubmissionError("worker.submit", cause)
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
)

// Retriever fetches the final structured result of a successful job. The
// worker may report success before the result payload is queryable, so
// pending responses are retried on a short fixed delay up to a bound.
type Retriever struct {
	store       JobStore
	worker      WorkerClient
	sink        *Sink
	retryDelay  time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewRetriever creates a new result retriever
func NewRetriever(store JobStore, worker WorkerClient, sink *Sink, retryDelay time.Duration, maxAttempts int, logger *slog.Logger) *Retriever {
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Retriever{
		store:       store,
		worker:      worker,
		sink:        sink,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Fetch returns the result for a successful job. Idempotent: a result that
// is already persisted is served from the job store without touching the
// worker, so UI re-renders and reconnects are free.
//
// Exhausting the retry budget returns ErrResultNotReady. The job itself
// stays in success; only the display of results degrades, because the worker
// finished the job even if reporting is delayed.
func (r *Retriever) Fetch(ctx context.Context, jobID string) (*domain.CalibrationResult, error) {
	job, err := r.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != domain.JobStatusSuccess {
		return nil, fmt.Errorf("job %s is %s, results exist only after success", jobID, job.Status)
	}

	if job.Result.Valid && job.Result.String != "" {
		var cached domain.CalibrationResult
		if err := json.Unmarshal([]byte(job.Result.String), &cached); err != nil {
			return nil, fmt.Errorf("failed to decode persisted result: %w", err)
		}
		return &cached, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.worker.Results(ctx, jobID)
		if err != nil {
			// A flaky results endpoint is treated like a pending response:
			// retried within the same budget
			lastErr = err
			r.logger.Warn("Results query failed",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else if resp.Pending || resp.Result == nil {
			lastErr = domain.ErrResultNotReady
			r.logger.Debug("Result not yet materialized",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", r.maxAttempts),
			)
		} else {
			return r.persist(ctx, job.JobID, job.JobType, resp.Result)
		}

		if attempt == r.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}

	r.logger.Warn("Result retrieval exhausted retry budget",
		slog.String("job_id", jobID),
		slog.Int("attempts", r.maxAttempts),
		slog.String("last_error", lastErr.Error()),
	)

	return nil, fmt.Errorf("%w: gave up after %d attempts", domain.ErrResultNotReady, r.maxAttempts)
}

// persist stores the materialized result on the job record and hands the
// diagnostic summary to the notification sink.
func (r *Retriever) persist(ctx context.Context, jobID, jobType string, result *domain.CalibrationResult) (*domain.CalibrationResult, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	if err := r.store.SetResult(ctx, jobID, string(resultJSON)); err != nil {
		return nil, err
	}

	r.logger.Info("Job result materialized",
		slog.String("job_id", jobID),
		slog.Int("frames_used", result.FramesUsed),
		slog.Int("frames_rejected", result.FramesRejected),
	)

	r.sink.Announce(domain.ResultSummary{
		JobID:          jobID,
		JobType:        jobType,
		Outcome:        domain.JobStatusSuccess,
		FramesUsed:     result.FramesUsed,
		FramesRejected: result.FramesRejected,
	})

	return result, nil
}

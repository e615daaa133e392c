package orchestrator

import (
	"context"
	"log/slog"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
)

// Canceller handles user-initiated cancellation. Cancellation is advisory on
// failure and authoritative on success: only a worker-acknowledged cancel
// forces the local state machine to cancelled; if the worker call fails the
// poll loop keeps running and the caller is told the attempt failed.
type Canceller struct {
	store  JobStore
	worker WorkerClient
	poller *Poller
	logger *slog.Logger
}

// NewCanceller creates a new cancellation controller
func NewCanceller(store JobStore, worker WorkerClient, poller *Poller, logger *slog.Logger) *Canceller {
	return &Canceller{
		store:  store,
		worker: worker,
		poller: poller,
		logger: logger,
	}
}

// Cancel requests cancellation of a queued or running job.
func (c *Canceller) Cancel(ctx context.Context, jobID string) error {
	job, err := c.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	if domain.IsTerminalStatus(job.Status) {
		return domain.ErrJobNotCancellable
	}

	if _, err := c.worker.Cancel(ctx, jobID); err != nil {
		c.logger.Warn("Worker refused cancellation, job keeps running",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return domain.CancellationError("worker.cancel", err)
	}

	// The worker acknowledged: the local transition is forced regardless of
	// the worker's eventual outcome. The terminal guard in the store keeps
	// any in-flight poll tick from overwriting it.
	applied, err := c.store.MarkTerminal(ctx, jobID, domain.JobStatusCancelled, "")
	if err != nil {
		return err
	}

	if applied {
		c.poller.broadcast(Update{
			JobID:    jobID,
			Status:   domain.JobStatusCancelled,
			Progress: job.Progress,
		})
	}

	c.poller.Stop(jobID)

	c.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)

	return nil
}

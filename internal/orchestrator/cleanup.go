package orchestrator

import (
	"context"
	"log/slog"
)

// Cleaner removes temporary storage objects created in anticipation of a job
// that the worker never accepted. It is the compensating half of the
// submission saga and runs from exactly two call sites: a worker rejection
// during submission, and an unexpected error on the submission code path.
type Cleaner struct {
	objects ObjectStore
	logger  *slog.Logger
}

// NewCleaner creates a new cleanup saga runner
func NewCleaner(objects ObjectStore, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		objects: objects,
		logger:  logger,
	}
}

// Run attempts to delete every listed object exactly once. Deletions are
// independent: one failure never prevents the remaining attempts, and no
// failure escalates past logging, so the original submission error stays the
// one reported to the user. Returns the paths that could not be deleted.
func (c *Cleaner) Run(ctx context.Context, jobID string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	c.logger.Info("Cleaning up temporary objects for failed submission",
		slog.String("job_id", jobID),
		slog.Int("object_count", len(paths)),
	)

	var failed []string
	for _, path := range paths {
		if err := c.objects.Delete(ctx, path); err != nil {
			failed = append(failed, path)
			c.logger.Error("Failed to delete temporary object",
				slog.String("job_id", jobID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.logger.Debug("Temporary object deleted",
			slog.String("job_id", jobID),
			slog.String("path", path),
		)
	}

	return failed
}

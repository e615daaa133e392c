// Package orchestrator is the client-side job orchestration layer for
// long-running image-calibration jobs. The image processing itself happens
// in an external, stateless worker; this package owns exactly-once
// submission, the polling-driven lifecycle state machine, eventual-consistent
// result retrieval, cancellation, and compensating cleanup of temporary
// storage objects.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/worker"
)

// JobStore is the narrow persistence surface the orchestrator needs.
// Implemented by internal/orchestrator/storage.Storage.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	MarkRunning(ctx context.Context, jobID string) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	MarkTerminal(ctx context.Context, jobID, status, errMsg string) (bool, error)
	SetResult(ctx context.Context, jobID, resultJSON string) error
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
}

// WorkerClient is the external worker contract. Implemented by
// internal/orchestrator/worker.Client.
type WorkerClient interface {
	Submit(ctx context.Context, payload *domain.WorkerPayload) (*worker.SubmitResponse, error)
	Status(ctx context.Context, jobID string) (*worker.StatusResponse, error)
	Results(ctx context.Context, jobID string) (*worker.ResultsResponse, error)
	Cancel(ctx context.Context, jobID string) (*worker.CancelResponse, error)
}

// ObjectStore is the object storage surface the orchestrator needs.
// Implemented by shared/objectstore.Client.
type ObjectStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	PublicURL(ctx context.Context, path string) (string, error)
}

// Config holds orchestration tuning knobs.
type Config struct {
	PollInterval         time.Duration
	MaxPollFailures      int
	ResultRetryDelay     time.Duration
	ResultMaxAttempts    int
	ExistenceConcurrency int
}

// Orchestrator wires the submission builder, submitter, poller, result
// retriever, canceller, cleanup saga, and notification sink behind the
// UI-facing surface.
type Orchestrator struct {
	store     JobStore
	objects   ObjectStore
	builder   *Builder
	submitter *Submitter
	poller    *Poller
	retriever *Retriever
	canceller *Canceller
	logger    *slog.Logger

	closeOnce sync.Once
}

// New creates a new orchestrator
func New(cfg *Config, store JobStore, workerClient WorkerClient, objects ObjectStore, publisher Publisher, logger *slog.Logger) *Orchestrator {
	sink := NewSink(publisher, logger)
	cleaner := NewCleaner(objects, logger)
	builder := NewBuilder(objects, cfg.ExistenceConcurrency, logger)
	submitter := NewSubmitter(store, workerClient, cleaner, logger)
	poller := NewPoller(store, workerClient, cfg.PollInterval, cfg.MaxPollFailures, logger)
	retriever := NewRetriever(store, workerClient, sink, cfg.ResultRetryDelay, cfg.ResultMaxAttempts, logger)
	canceller := NewCanceller(store, workerClient, poller, logger)

	o := &Orchestrator{
		store:     store,
		objects:   objects,
		builder:   builder,
		submitter: submitter,
		poller:    poller,
		retriever: retriever,
		canceller: canceller,
		logger:    logger,
	}

	// Terminal-state hooks: success triggers detached result retrieval,
	// failure announces the outcome. Both run outside the poll loop.
	poller.onSuccess = func(jobID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := retriever.Fetch(ctx, jobID); err != nil {
				logger.Warn("Background result retrieval failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	poller.onFailed = func(jobID, errMsg string) {
		job, err := store.GetJobByID(context.Background(), jobID)
		jobType := ""
		if err == nil {
			jobType = job.JobType
		}
		sink.Announce(domain.ResultSummary{
			JobID:   jobID,
			JobType: jobType,
			Outcome: domain.JobStatusFailed,
			Error:   errMsg,
		})
	}

	return o
}

// SubmitJob validates, builds, and submits a calibration job, then starts
// its poll loop. Control returns as soon as the job is persisted; the
// lifecycle is observed through Observe.
func (o *Orchestrator) SubmitJob(ctx context.Context, req *domain.SubmitRequest) (string, error) {
	sub, err := o.builder.Build(ctx, req)
	if err != nil {
		// Validation failures create no job and no temporary objects
		return "", err
	}

	jobID, err := o.submitter.Submit(ctx, req, sub)
	if err != nil {
		return jobID, err
	}

	o.poller.Start(jobID)

	return jobID, nil
}

// GetJob returns the persisted job record.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return o.store.GetJobByID(ctx, jobID)
}

// CancelJob requests cancellation of a queued or running job.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	return o.canceller.Cancel(ctx, jobID)
}

// FetchResult returns the result of a successful job, retrying while the
// worker has not yet materialized it. Safe to call repeatedly.
func (o *Orchestrator) FetchResult(ctx context.Context, jobID string) (*domain.CalibrationResult, error) {
	return o.retriever.Fetch(ctx, jobID)
}

// ResultDownloadURL returns a presigned download URL for a stored object
// path, typically the master frame or a diagnostic artifact of a finished job.
func (o *Orchestrator) ResultDownloadURL(ctx context.Context, path string) (string, error) {
	return o.objects.PublicURL(ctx, path)
}

// Observe returns a stream of lifecycle updates for the job, starting with
// a snapshot of the current persisted state. The channel closes when the job
// reaches a terminal state or the returned stop function is called. Polling
// is hidden behind the channel, so a push transport could replace it without
// changing this contract.
func (o *Orchestrator) Observe(ctx context.Context, jobID string) (<-chan Update, func(), error) {
	job, err := o.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	snapshot := Update{
		JobID:    job.JobID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error.String,
	}

	out := make(chan Update, 16)
	out <- snapshot

	if domain.IsTerminalStatus(job.Status) {
		close(out)
		return out, func() {}, nil
	}

	sub, unsubscribe := o.poller.Subscribe(jobID)

	stop := make(chan struct{})
	var stopOnce sync.Once
	stopFn := func() {
		stopOnce.Do(func() {
			close(stop)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case update, ok := <-sub:
				if !ok {
					return
				}
				select {
				case out <- update:
				default:
					// Slow observer: drop rather than stall
				}
				if domain.IsTerminalStatus(update.Status) {
					unsubscribe()
					return
				}
			case <-stop:
				unsubscribe()
				return
			}
		}
	}()

	return out, stopFn, nil
}

// Resume restarts poll loops for every persisted non-terminal job. Called
// once at startup so jobs survive a process restart without resubmission.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		o.poller.Start(job.JobID)
	}

	if len(jobs) > 0 {
		o.logger.Info("Resumed polling for active jobs",
			slog.Int("job_count", len(jobs)),
		)
	}

	return nil
}

// PollerActive reports whether a poll loop currently exists for the job id.
func (o *Orchestrator) PollerActive(jobID string) bool {
	return o.poller.Active(jobID)
}

// Close stops all poll loops and waits for them to drain.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.poller.Close()
	})
}

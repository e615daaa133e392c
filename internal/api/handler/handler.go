package handler

import (
	"context"
	"log/slog"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/storage"
)

// JobService is the orchestration surface the handlers call. Implemented by
// internal/orchestrator.Orchestrator.
type JobService interface {
	SubmitJob(ctx context.Context, req *domain.SubmitRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	FetchResult(ctx context.Context, jobID string) (*domain.CalibrationResult, error)
	ResultDownloadURL(ctx context.Context, path string) (string, error)
}

// JobLister is the listing surface the handlers call. Implemented by
// internal/orchestrator/storage.Storage.
type JobLister interface {
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service JobService
	Lister  JobLister
	// Health reports backing-store reachability for the health endpoint.
	// May be nil, in which case the endpoint only reports liveness.
	Health func(ctx context.Context) error
}

// JobHandler handles calibration-job HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service JobService
	lister  JobLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
		lister:  deps.Lister,
	}
}

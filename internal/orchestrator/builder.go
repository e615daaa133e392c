package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
)

// Submission is a validated, worker-ready request plus the compensation list
// for the attempt. TempObjects are deleted by the cleanup saga if the worker
// never accepts the job.
type Submission struct {
	Payload     *domain.WorkerPayload
	PayloadJSON string
	TempObjects []string
}

// Builder turns user-selected inputs and processing settings into a
// validated worker request. It performs no mutation of storage or the job
// store; a failed build leaves nothing to clean up.
type Builder struct {
	objects     ObjectStore
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a new submission builder
func NewBuilder(objects ObjectStore, concurrency int, logger *slog.Logger) *Builder {
	if concurrency <= 0 {
		concurrency = 8
	}

	return &Builder{
		objects:     objects,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Build validates the request and constructs the worker payload.
// For batch jobs (superdark creation) every selected input is verified to
// exist in object storage before any worker request is made; a single
// missing file fails the whole submission.
func (b *Builder) Build(ctx context.Context, req *domain.SubmitRequest) (*Submission, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.JobType == domain.JobTypeSuperdark {
		missing, err := b.findMissingInputs(ctx, req.InputPaths)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("failed to verify input existence: %v", err))
		}
		if len(missing) > 0 {
			b.logger.Warn("Submission rejected, inputs missing from storage",
				slog.String("user_id", req.UserID),
				slog.Int("missing_count", len(missing)),
			)
			return nil, domain.NewValidationError("selected inputs not found in storage", missing...)
		}
	}

	settings := req.Settings
	applySettingsDefaults(&settings)

	payload := &domain.WorkerPayload{
		JobType:    req.JobType,
		UserID:     req.UserID,
		ProjectID:  req.ProjectID,
		InputPaths: req.InputPaths,
		Settings:   settings,
		OutputPath: outputPath(req),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker payload: %w", err)
	}

	return &Submission{
		Payload:     payload,
		PayloadJSON: string(payloadJSON),
		TempObjects: req.TempObjects,
	}, nil
}

// validateRequest checks the request shape and settings before any storage
// lookups happen.
func validateRequest(req *domain.SubmitRequest) error {
	if req.UserID == "" {
		return domain.NewValidationError("user_id is required")
	}

	if req.ProjectID == "" {
		return domain.NewValidationError("project_id is required")
	}

	if !domain.IsValidJobType(req.JobType) {
		return domain.NewValidationError(fmt.Sprintf("unknown job type %q", req.JobType))
	}

	if len(req.InputPaths) == 0 {
		return domain.NewValidationError("at least one input frame is required")
	}

	if req.JobType == domain.JobTypeSuperdark && len(req.InputPaths) < 2 {
		return domain.NewValidationError("superdark creation requires at least two dark frames")
	}

	for _, p := range req.InputPaths {
		if p == "" {
			return domain.NewValidationError("input paths must not be empty")
		}
	}

	if req.Settings.Method != "" && !domain.IsValidStackMethod(req.Settings.Method) {
		return domain.NewValidationError(fmt.Sprintf("unknown stacking method %q", req.Settings.Method))
	}

	if req.Settings.SigmaLow < 0 || req.Settings.SigmaHigh < 0 {
		return domain.NewValidationError("sigma thresholds must not be negative")
	}

	return nil
}

func applySettingsDefaults(settings *domain.StackSettings) {
	if settings.Method == "" {
		settings.Method = domain.StackMethodSigmaClip
	}

	switch settings.Method {
	case domain.StackMethodSigmaClip, domain.StackMethodWinsorize:
		if settings.SigmaLow == 0 {
			settings.SigmaLow = 3.0
		}
		if settings.SigmaHigh == 0 {
			settings.SigmaHigh = 3.0
		}
	}
}

func outputPath(req *domain.SubmitRequest) string {
	suffix := "master"
	if req.JobType == domain.JobTypeSuperdark {
		suffix = "superdark"
	}
	return fmt.Sprintf("%s/%s/masters/%s_%d.fits", req.UserID, req.ProjectID, suffix, time.Now().UnixNano())
}

type existenceCheck struct {
	path   string
	exists bool
	err    error
}

// findMissingInputs fans out existence checks over a bounded worker pool and
// collects every missing path. Checks run concurrently because a sequential
// scan over many frames would dominate submission latency, but the fan-out is
// bounded to avoid overwhelming the storage backend.
func (b *Builder) findMissingInputs(ctx context.Context, paths []string) ([]string, error) {
	jobs := make(chan string)
	results := make(chan existenceCheck, len(paths))

	workers := b.concurrency
	if workers > len(paths) {
		workers = len(paths)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				exists, err := b.objects.Exists(ctx, p)
				results <- existenceCheck{path: p, exists: exists, err: err}
			}
		}()
	}

	for _, p := range paths {
		jobs <- p
	}
	close(jobs)

	wg.Wait()
	close(results)

	var missing []string
	var firstErr error
	for check := range results {
		if check.err != nil {
			if firstErr == nil {
				firstErr = check.err
			}
			continue
		}
		if !check.exists {
			missing = append(missing, check.path)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	// Deterministic ordering for error messages and tests
	sort.Strings(missing)

	return missing, nil
}

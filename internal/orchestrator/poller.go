package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
)

// Update is one observation of a job's lifecycle, delivered to observers.
type Update struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// pollTarget is the handle for one job's poll loop.
type pollTarget struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (t *pollTarget) requestStop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// Poller drives the job state machine by querying the worker on a fixed
// interval until the job reaches a terminal state. Each job gets its own
// timer-driven goroutine; loops share no mutable state beyond the job store.
type Poller struct {
	store       JobStore
	worker      WorkerClient
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	// onSuccess runs detached when a job reaches success (result retrieval).
	// onFailed runs when a job reaches failed (notification).
	onSuccess func(jobID string)
	onFailed  func(jobID string, errMsg string)

	mu        sync.Mutex
	targets   map[string]*pollTarget
	subs      map[string]map[int]chan Update
	nextSubID int
	closed    bool

	wg sync.WaitGroup
}

// NewPoller creates a new status poller
func NewPoller(store JobStore, worker WorkerClient, interval time.Duration, maxFailures int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &Poller{
		store:       store,
		worker:      worker,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger,
		targets:     make(map[string]*pollTarget),
		subs:        make(map[string]map[int]chan Update),
	}
}

// Start launches a poll loop for the job id. Starting a loop for a job that
// already has one is a no-op; at most one loop exists per job id. Returns
// whether a new loop was started.
func (p *Poller) Start(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	if _, exists := p.targets[jobID]; exists {
		return false
	}

	target := &pollTarget{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.targets[jobID] = target

	p.wg.Add(1)
	go p.loop(jobID, target)

	p.logger.Info("Poll loop started",
		slog.String("job_id", jobID),
		slog.Duration("interval", p.interval),
	)

	return true
}

// Stop signals the poll loop for the job id to terminate. Safe to call for
// jobs with no active loop and safe to call repeatedly.
func (p *Poller) Stop(jobID string) {
	p.mu.Lock()
	target, exists := p.targets[jobID]
	p.mu.Unlock()

	if exists {
		target.requestStop()
	}
}

// Close stops every poll loop and waits for them to finish.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	targets := make([]*pollTarget, 0, len(p.targets))
	for _, t := range p.targets {
		targets = append(targets, t)
	}
	p.mu.Unlock()

	for _, t := range targets {
		t.requestStop()
	}

	p.wg.Wait()
}

// Active reports whether the job id currently has a poll loop.
func (p *Poller) Active(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.targets[jobID]
	return exists
}

// Subscribe registers an observer for the job's updates. The returned
// cancel function detaches the observer; the channel is closed when the
// job's poll loop terminates.
func (p *Poller) Subscribe(jobID string) (<-chan Update, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Update, 16)
	if p.subs[jobID] == nil {
		p.subs[jobID] = make(map[int]chan Update)
	}
	id := p.nextSubID
	p.nextSubID++
	p.subs[jobID][id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if chans, ok := p.subs[jobID]; ok {
			if _, ok := chans[id]; ok {
				delete(chans, id)
				close(ch)
			}
		}
	}

	return ch, cancel
}

// broadcast delivers an update to every observer of the job. Sends are
// non-blocking; a slow observer misses intermediate updates rather than
// stalling the poll loop.
func (p *Poller) broadcast(update Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs[update.JobID] {
		select {
		case ch <- update:
		default:
		}
	}
}

// closeSubs closes and removes every observer channel for the job.
func (p *Poller) closeSubs(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.subs[jobID] {
		delete(p.subs[jobID], id)
		close(ch)
	}
	delete(p.subs, jobID)
}

// loop is the per-job poll loop. The ticker is disposed on every exit path;
// a leaked timer would keep querying the worker about a job the caller
// believes is finished.
func (p *Poller) loop(jobID string, target *pollTarget) {
	defer p.wg.Done()
	defer close(target.done)
	defer func() {
		p.mu.Lock()
		delete(p.targets, jobID)
		p.mu.Unlock()
		p.closeSubs(jobID)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-target.stop:
			p.logger.Info("Poll loop stopped",
				slog.String("job_id", jobID),
			)
			return

		case <-ticker.C:
			done := p.tick(jobID, &consecutiveFailures)
			if done {
				return
			}
		}
	}
}

// tick performs one status query and applies at most one state transition.
// Returns true when the loop should terminate.
func (p *Poller) tick(jobID string, consecutiveFailures *int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	// Read the authoritative state first: a cancellation forced between
	// ticks must terminate the loop before any worker response is applied.
	job, err := p.store.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			p.logger.Warn("Polled job no longer exists, stopping",
				slog.String("job_id", jobID),
			)
			return true
		}
		p.logger.Error("Failed to read job state",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if domain.IsTerminalStatus(job.Status) {
		p.broadcast(Update{
			JobID:    jobID,
			Status:   job.Status,
			Progress: job.Progress,
			Error:    job.Error.String,
		})
		return true
	}

	status, err := p.worker.Status(ctx, jobID)
	if err != nil {
		*consecutiveFailures++
		p.logger.Warn("Status query failed",
			slog.String("job_id", jobID),
			slog.Int("consecutive_failures", *consecutiveFailures),
			slog.Int("max_failures", p.maxFailures),
			slog.String("error", err.Error()),
		)

		if *consecutiveFailures < p.maxFailures {
			// Transient: absorbed silently, not surfaced to the user
			return false
		}

		return p.markFailed(ctx, jobID, "worker unreachable: "+err.Error())
	}

	*consecutiveFailures = 0

	switch status.Status {
	case domain.JobStatusQueued:
		// No new information
		return false

	case domain.JobStatusRunning:
		return p.applyRunning(ctx, job.Status, jobID, job.Progress, status.Progress)

	case domain.JobStatusSuccess:
		applied, err := p.store.MarkTerminal(ctx, jobID, domain.JobStatusSuccess, "")
		if err != nil {
			p.logger.Error("Failed to persist success",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !applied {
			// Lost a race against cancellation; the terminal state stands
			return true
		}

		p.logger.Info("Job succeeded",
			slog.String("job_id", jobID),
		)
		p.broadcast(Update{JobID: jobID, Status: domain.JobStatusSuccess, Progress: 100})

		if p.onSuccess != nil {
			p.onSuccess(jobID)
		}
		return true

	case domain.JobStatusFailed:
		errMsg := status.Error
		if errMsg == "" {
			errMsg = "worker reported failure"
		}
		return p.markFailed(ctx, jobID, errMsg)

	default:
		p.logger.Warn("Worker reported unknown status",
			slog.String("job_id", jobID),
			slog.String("status", status.Status),
		)
		return false
	}
}

// applyRunning handles the queued→running transition and progress updates.
func (p *Poller) applyRunning(ctx context.Context, localStatus, jobID string, lastProgress, reported int) bool {
	if localStatus == domain.JobStatusQueued {
		applied, err := p.store.MarkRunning(ctx, jobID)
		if err != nil {
			p.logger.Error("Failed to mark job running",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !applied {
			// Job left queued some other way; re-read on the next tick
			return false
		}
	}

	progress := clampProgress(reported)

	// Monotonicity: a stale or out-of-order response never lowers progress
	if progress < lastProgress {
		progress = lastProgress
	} else if progress > lastProgress {
		if err := p.store.UpdateProgress(ctx, jobID, progress); err != nil {
			p.logger.Error("Failed to update job progress",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	p.broadcast(Update{JobID: jobID, Status: domain.JobStatusRunning, Progress: progress})
	return false
}

// markFailed persists a failed terminal state and reports whether the loop
// should terminate.
func (p *Poller) markFailed(ctx context.Context, jobID, errMsg string) bool {
	applied, err := p.store.MarkTerminal(ctx, jobID, domain.JobStatusFailed, errMsg)
	if err != nil {
		p.logger.Error("Failed to persist failure",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !applied {
		return true
	}

	p.logger.Error("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", errMsg),
	)
	p.broadcast(Update{JobID: jobID, Status: domain.JobStatusFailed, Error: errMsg})

	if p.onFailed != nil {
		p.onFailed(jobID, errMsg)
	}
	return true
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/worker"
)

// fakeStore is an in-memory JobStore that mirrors the SQL guards of the real
// adapter: terminal states are never overwritten and progress never drops.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*model.Job)}
}

func (s *fakeStore) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return domain.ErrDuplicateSubmission
	}
	if job.IdempotencyKey != "" {
		for _, j := range s.jobs {
			if j.IdempotencyKey == job.IdempotencyKey {
				return domain.ErrDuplicateSubmission
			}
		}
	}

	copied := *job
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *fakeStore) GetJobByID(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) MarkRunning(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusQueued {
		return false, nil
	}
	job.Status = domain.JobStatusRunning
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning {
		return nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) MarkTerminal(_ context.Context, jobID, status, errMsg string) (bool, error) {
	if !domain.IsTerminalStatus(status) {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || domain.IsTerminalStatus(job.Status) {
		return false, nil
	}

	job.Status = status
	if errMsg != "" {
		job.Error.String = errMsg
		job.Error.Valid = true
	}
	if status == domain.JobStatusSuccess {
		job.Progress = 100
	}
	job.CompletedAt.Time = time.Now()
	job.CompletedAt.Valid = true
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeStore) SetResult(_ context.Context, jobID, resultJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusSuccess {
		return nil
	}
	job.Result.String = resultJSON
	job.Result.Valid = true
	return nil
}

func (s *fakeStore) ListActiveJobs(_ context.Context) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Job
	for _, job := range s.jobs {
		if !domain.IsTerminalStatus(job.Status) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeStore) put(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.JobID] = &copied
}

func (s *fakeStore) status(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		return job.Status
	}
	return ""
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// statusStep is one scripted response of the fake worker's status endpoint.
type statusStep struct {
	resp *worker.StatusResponse
	err  error
}

// fakeWorker scripts the external worker's four calls. Status steps are
// consumed in order; the final step repeats once the script is exhausted.
type fakeWorker struct {
	mu sync.Mutex

	submitResp *worker.SubmitResponse
	submitErr  error

	statusScript []statusStep

	resultsScript []*worker.ResultsResponse
	resultsErrs   int // first N Results calls fail

	cancelErr error

	submitCalls  int
	statusCalls  int
	resultsCalls int
	cancelCalls  int
}

func (w *fakeWorker) Submit(_ context.Context, _ *domain.WorkerPayload) (*worker.SubmitResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitCalls++
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	return w.submitResp, nil
}

func (w *fakeWorker) Status(_ context.Context, _ string) (*worker.StatusResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statusCalls++

	if len(w.statusScript) == 0 {
		return &worker.StatusResponse{Status: domain.JobStatusQueued}, nil
	}

	step := w.statusScript[0]
	if len(w.statusScript) > 1 {
		w.statusScript = w.statusScript[1:]
	}
	return step.resp, step.err
}

func (w *fakeWorker) Results(_ context.Context, _ string) (*worker.ResultsResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resultsCalls++

	if w.resultsErrs > 0 {
		w.resultsErrs--
		return nil, fmt.Errorf("connection reset")
	}
	if len(w.resultsScript) == 0 {
		return &worker.ResultsResponse{Pending: true}, nil
	}

	resp := w.resultsScript[0]
	if len(w.resultsScript) > 1 {
		w.resultsScript = w.resultsScript[1:]
	}
	return resp, nil
}

func (w *fakeWorker) Cancel(_ context.Context, _ string) (*worker.CancelResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelCalls++
	if w.cancelErr != nil {
		return nil, w.cancelErr
	}
	return &worker.CancelResponse{Cancelled: true}, nil
}

func (w *fakeWorker) calls() (submit, status, results, cancel int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitCalls, w.statusCalls, w.resultsCalls, w.cancelCalls
}

// fakeObjects is an in-memory ObjectStore. Deletions for paths listed in
// failDeletes return an error but are still recorded as attempts.
type fakeObjects struct {
	mu          sync.Mutex
	existing    map[string]bool
	failDeletes map[string]bool
	deleted     []string
	attempts    map[string]int
}

func newFakeObjects(existing ...string) *fakeObjects {
	m := make(map[string]bool, len(existing))
	for _, p := range existing {
		m[p] = true
	}
	return &fakeObjects{
		existing:    m,
		failDeletes: make(map[string]bool),
		attempts:    make(map[string]int),
	}
}

func (o *fakeObjects) Exists(_ context.Context, path string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.existing[path], nil
}

func (o *fakeObjects) Delete(_ context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[path]++
	if o.failDeletes[path] {
		return fmt.Errorf("delete %s: storage unavailable", path)
	}
	delete(o.existing, path)
	o.deleted = append(o.deleted, path)
	return nil
}

func (o *fakeObjects) PublicURL(_ context.Context, path string) (string, error) {
	return "https://storage.example.com/" + path, nil
}

func (o *fakeObjects) deleteAttempts(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts[path]
}

// fakePublisher records notification payloads.
type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, body)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) last() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		return nil
	}
	return p.published[len(p.published)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls a condition until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func queuedJob(jobID string) *model.Job {
	now := time.Now()
	return &model.Job{
		JobID:     jobID,
		UserID:    "user-1",
		ProjectID: "project-1",
		JobType:   domain.JobTypeMasterFrame,
		Status:    domain.JobStatusQueued,
		Payload:   `{"job_type":"master_frame_calibration"}`,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

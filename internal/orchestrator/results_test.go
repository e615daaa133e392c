package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/worker"
)

func successJob(jobID string) *fakeStore {
	store := newFakeStore()
	job := queuedJob(jobID)
	job.Status = domain.JobStatusSuccess
	job.Progress = 100
	store.put(job)
	return store
}

func sampleResult() *domain.CalibrationResult {
	return &domain.CalibrationResult{
		FramesUsed:     18,
		FramesRejected: 2,
		RejectionReasons: map[string]string{
			"user-1/darks/d07.fits": "sigma outlier",
			"user-1/darks/d12.fits": "sigma outlier",
		},
		MasterFramePath: "user-1/project-1/masters/superdark_1.fits",
		DiagnosticPaths: []string{"user-1/project-1/masters/superdark_1_histogram.png"},
	}
}

func newTestRetriever(store JobStore, w WorkerClient, pub Publisher) *Retriever {
	sink := NewSink(pub, testLogger())
	return NewRetriever(store, w, sink, time.Millisecond, 3, testLogger())
}

func TestRetriever_PendingThenReady(t *testing.T) {
	store := successJob("job-1")
	w := &fakeWorker{
		resultsScript: []*worker.ResultsResponse{
			{Pending: true},
			{Result: sampleResult()},
		},
	}
	pub := &fakePublisher{}
	r := newTestRetriever(store, w, pub)

	result, err := r.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 18, result.FramesUsed)
	assert.Equal(t, 2, result.FramesRejected)
	assert.Len(t, result.RejectionReasons, 2)

	job, err := store.GetJobByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, job.Result.Valid, "result must be persisted on the job record")

	var persisted domain.CalibrationResult
	require.NoError(t, json.Unmarshal([]byte(job.Result.String), &persisted))
	assert.Equal(t, result.MasterFramePath, persisted.MasterFramePath)

	waitFor(t, time.Second, func() bool { return pub.count() == 1 }, "summary should be announced")

	var summary domain.ResultSummary
	require.NoError(t, json.Unmarshal(pub.last(), &summary))
	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, domain.JobStatusSuccess, summary.Outcome)
	assert.Equal(t, 18, summary.FramesUsed)
}

func TestRetriever_ExhaustsRetryBudget(t *testing.T) {
	store := successJob("job-1")
	w := &fakeWorker{} // always pending
	r := newTestRetriever(store, w, nil)

	_, err := r.Fetch(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResultNotReady)

	// Display degrades but the job stays successful
	assert.Equal(t, domain.JobStatusSuccess, store.status("job-1"))

	_, _, resultsCalls, _ := w.calls()
	assert.Equal(t, 3, resultsCalls, "retry budget is bounded")
}

func TestRetriever_RepeatedFetchesServeCachedResult(t *testing.T) {
	store := successJob("job-1")
	w := &fakeWorker{
		resultsScript: []*worker.ResultsResponse{{Result: sampleResult()}},
	}
	r := newTestRetriever(store, w, nil)

	first, err := r.Fetch(context.Background(), "job-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := r.Fetch(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, first.MasterFramePath, again.MasterFramePath)
	}

	_, _, resultsCalls, _ := w.calls()
	assert.Equal(t, 1, resultsCalls, "persisted result must be served without querying the worker")
	assert.Equal(t, domain.JobStatusSuccess, store.status("job-1"))
}

func TestRetriever_TransientErrorsRetriedWithinBudget(t *testing.T) {
	store := successJob("job-1")
	w := &fakeWorker{
		resultsErrs:   2,
		resultsScript: []*worker.ResultsResponse{{Result: sampleResult()}},
	}
	r := newTestRetriever(store, w, nil)

	result, err := r.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 18, result.FramesUsed)
}

func TestRetriever_NonSuccessJobRefused(t *testing.T) {
	store := newFakeStore()
	store.put(queuedJob("job-1"))
	r := newTestRetriever(store, &fakeWorker{}, nil)

	_, err := r.Fetch(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "results exist only after success")
}

func TestRetriever_UnknownJob(t *testing.T) {
	r := newTestRetriever(newFakeStore(), &fakeWorker{}, nil)

	_, err := r.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

// Package worker is the HTTP client for the external, stateless calibration
// worker. The worker is a black box honoring a four-call contract: submit,
// status, results, cancel.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
)

// Config holds worker client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client talks to the external calibration worker over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new worker client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// RejectionError is returned when the worker understood the request and
// refused it. It is distinct from transport errors: a rejection means the
// worker never accepted ownership of the job.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("worker rejected request (status %d): %s", e.StatusCode, e.Message)
}

// SubmitResponse is the worker's acknowledgement of an accepted job.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse reports the worker-side state of a job.
type StatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// ResultsResponse carries a materialized result, or Pending when the worker
// has finished the job but not yet published its result.
type ResultsResponse struct {
	Pending bool                      `json:"pending,omitempty"`
	Result  *domain.CalibrationResult `json:"result,omitempty"`
}

// CancelResponse is the worker's acknowledgement of a cancellation.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit sends the built payload to the worker and returns the worker job id.
func (c *Client) Submit(ctx context.Context, payload *domain.WorkerPayload) (*SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	url := c.baseURL + "/api/v1/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.rejection(resp)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}

	if out.JobID == "" {
		return nil, fmt.Errorf("worker returned empty job id")
	}

	c.logger.Debug("Job submitted to worker",
		slog.String("job_id", out.JobID),
		slog.String("job_type", payload.JobType),
	)

	return &out, nil
}

// Status queries the worker for the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/status", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.rejection(resp)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &out, nil
}

// Results fetches the final result of a job. A 202 response means the worker
// has accepted the query but the result is not yet materialized.
func (c *Client) Results(ctx context.Context, jobID string) (*ResultsResponse, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/results", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build results request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return &ResultsResponse{Pending: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.rejection(resp)
	}

	var out ResultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode results response: %w", err)
	}

	return &out, nil
}

// Cancel asks the worker to abort a job.
func (c *Client) Cancel(ctx context.Context, jobID string) (*CancelResponse, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/cancel", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build cancel request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.rejection(resp)
	}

	var out CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode cancel response: %w", err)
	}

	return &out, nil
}

// rejection turns a non-success worker response into a RejectionError,
// preserving the worker's message when the body carries one.
func (c *Client) rejection(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	message := ""
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		message = er.Error
	} else {
		message = http.StatusText(resp.StatusCode)
	}

	return &RejectionError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

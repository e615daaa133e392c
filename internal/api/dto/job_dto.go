package dto

import "encoding/json"

// StackSettingsDTO carries the processing settings of a calibration job.
type StackSettingsDTO struct {
	Method       string  `json:"method"`
	SigmaLow     float64 `json:"sigma_low"`
	SigmaHigh    float64 `json:"sigma_high"`
	ScaleDarks   bool    `json:"scale_darks"`
	SubtractBias bool    `json:"subtract_bias"`
}

type CreateJobRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	UserID         string           `json:"user_id" binding:"required"`
	ProjectID      string           `json:"project_id" binding:"required"`
	JobType        string           `json:"job_type" binding:"required"`
	InputPaths     []string         `json:"input_paths" binding:"required"`
	TempObjects    []string         `json:"temp_objects"`
	Settings       StackSettingsDTO `json:"settings"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	UserID    string `form:"user_id"`
	ProjectID string `form:"project_id"`
	JobType   string `form:"job_type"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	ProjectID   string          `json:"project_id"`
	JobType     string          `json:"job_type"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

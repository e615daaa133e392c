package domain

// StackSettings holds the processing settings shared by all job types plus
// the type-specific options the worker understands.
type StackSettings struct {
	Method       string  `json:"method"`
	SigmaLow     float64 `json:"sigma_low,omitempty"`
	SigmaHigh    float64 `json:"sigma_high,omitempty"`
	ScaleDarks   bool    `json:"scale_darks,omitempty"`
	SubtractBias bool    `json:"subtract_bias,omitempty"`
}

// SubmitRequest is the caller-facing request to submit a calibration job.
type SubmitRequest struct {
	UserID         string
	ProjectID      string
	IdempotencyKey string
	JobType        string
	InputPaths     []string
	Settings       StackSettings
	// TempObjects lists storage paths created by the caller in anticipation
	// of this job (e.g. a staged intermediate frame). They form the
	// compensation list deleted by the cleanup saga if submission fails.
	TempObjects []string
}

// WorkerPayload is the exact request handed to the external worker.
// It is persisted verbatim on the job record and never mutated afterwards.
type WorkerPayload struct {
	JobType    string        `json:"job_type"`
	UserID     string        `json:"user_id"`
	ProjectID  string        `json:"project_id"`
	InputPaths []string      `json:"input_paths"`
	Settings   StackSettings `json:"settings"`
	OutputPath string        `json:"output_path"`
}

// CalibrationResult is the worker-supplied outcome of a successful job.
type CalibrationResult struct {
	FramesUsed       int               `json:"frames_used"`
	FramesRejected   int               `json:"frames_rejected"`
	RejectionReasons map[string]string `json:"rejection_reasons,omitempty"`
	MasterFramePath  string            `json:"master_frame_path"`
	DiagnosticPaths  []string          `json:"diagnostic_paths,omitempty"`
}

// ResultSummary is the condensed terminal-outcome view handed to the
// notification sink and returned alongside fetched results.
type ResultSummary struct {
	JobID          string `json:"job_id"`
	JobType        string `json:"job_type"`
	Outcome        string `json:"outcome"`
	FramesUsed     int    `json:"frames_used"`
	FramesRejected int    `json:"frames_rejected"`
	Error          string `json:"error,omitempty"`
}

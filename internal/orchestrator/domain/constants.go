package domain

// Job type constants
const (
	JobTypeMasterFrame = "master_frame_calibration"
	JobTypeSuperdark   = "superdark_creation"
)

// Job status constants.
// "idle" exists only in the orchestrator's local view before a job id is
// obtained; it is never persisted.
const (
	JobStatusIdle      = "idle"
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSuccess   = "success"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsValidJobType reports whether the given job type is known.
func IsValidJobType(jobType string) bool {
	switch jobType {
	case JobTypeMasterFrame, JobTypeSuperdark:
		return true
	}
	return false
}

// Stacking method constants accepted in job settings
const (
	StackMethodSigmaClip = "sigma_clip"
	StackMethodMedian    = "median"
	StackMethodMean      = "mean"
	StackMethodWinsorize = "winsorized_sigma_clip"
)

// IsValidStackMethod reports whether the given stacking method is known.
func IsValidStackMethod(method string) bool {
	switch method {
	case StackMethodSigmaClip, StackMethodMedian, StackMethodMean, StackMethodWinsorize:
		return true
	}
	return false
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/api/dto"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/domain"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/model"
	"github.com/matthewtibby/Stellar-Astro-sub002/internal/orchestrator/storage"
)

// CreateJob handles POST /api/v1/jobs
// Submits a new calibration job to the external worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	submitReq := &domain.SubmitRequest{
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		IdempotencyKey: req.IdempotencyKey,
		JobType:        req.JobType,
		InputPaths:     req.InputPaths,
		TempObjects:    req.TempObjects,
		Settings: domain.StackSettings{
			Method:       req.Settings.Method,
			SigmaLow:     req.Settings.SigmaLow,
			SigmaHigh:    req.Settings.SigmaHigh,
			ScaleDarks:   req.Settings.ScaleDarks,
			SubtractBias: req.Settings.SubtractBias,
		},
	}

	jobID, err := h.service.SubmitJob(c.Request.Context(), submitReq)
	if err != nil {
		h.respondSubmitError(c, jobID, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  jobID,
		Status: domain.JobStatusQueued,
	})
}

// respondSubmitError maps submission failures to HTTP responses. A failed
// submission still carries a job id the caller can track.
func (h *JobHandler) respondSubmitError(c *gin.Context, jobID string, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          validationErr.Message,
			"missing_inputs": validationErr.MissingInputs,
		})
		return
	}

	if errors.Is(err, domain.ErrDuplicateSubmission) {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.logger.Error("Job submission failed",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusBadGateway, gin.H{
		"error":  err.Error(),
		"job_id": jobID,
		"status": domain.JobStatusFailed,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the persisted state of a calibration job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists calibration jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		JobType:   req.JobType,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	}

	jobs, err := h.lister.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Requests cancellation of a queued or running job
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	err := h.service.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrJobNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job is already in a terminal state",
			})
		case errors.Is(err, domain.ErrCancellation):
			// The worker refused: the job keeps running and the caller may retry
			c.JSON(http.StatusBadGateway, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusCancelled,
	})
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
// Returns the materialized result of a successful job
func (h *JobHandler) GetJobResult(c *gin.Context) {
	jobID := c.Param("job_id")

	result, err := h.service.FetchResult(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrResultNotReady):
			// Execution succeeded but reporting is delayed; not a job failure
			c.JSON(http.StatusAccepted, gin.H{
				"job_id":  jobID,
				"pending": true,
			})
		default:
			h.logger.Error("Failed to fetch job result", slog.String("error", err.Error()))
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
			})
		}
		return
	}

	response := gin.H{
		"job_id": jobID,
		"result": result,
	}

	// A presign failure degrades the response, not the result itself
	if result.MasterFramePath != "" {
		url, err := h.service.ResultDownloadURL(c.Request.Context(), result.MasterFramePath)
		if err != nil {
			h.logger.Warn("Failed to presign master frame",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		} else {
			response["master_frame_url"] = url
		}
	}

	c.JSON(http.StatusOK, response)
}

// toJobDTO converts a persisted job record to its API representation.
func toJobDTO(job *model.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     job.JobID,
		UserID:    job.UserID,
		ProjectID: job.ProjectID,
		JobType:   job.JobType,
		Status:    job.Status,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.Error.Valid {
		out.Error = job.Error.String
	}

	if job.Result.Valid && job.Result.String != "" {
		out.Result = json.RawMessage(job.Result.String)
	}

	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}

	return out
}

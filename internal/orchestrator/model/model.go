package model

import (
	"database/sql"
	"time"
)

// Job is the persisted job record. Payload is the exact worker request as
// JSON and is immutable once submitted. Result and Error are mutually
// exclusive and stay unset while the status is non-terminal.
type Job struct {
	JobID          string         `db:"job_id"`
	IdempotencyKey string         `db:"idempotency_key"`
	UserID         string         `db:"user_id"`
	ProjectID      string         `db:"project_id"`
	JobType        string         `db:"job_type"`
	Status         string         `db:"status"`
	Progress       int            `db:"progress"`
	Payload        string         `db:"payload"`
	Result         sql.NullString `db:"result"`
	Error          sql.NullString `db:"error"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

package models

import "time"

// JobStatus is the lifecycle state of a video job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further provider polling happens in this state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed:
		return true
	case JobPending, JobProcessing:
		return false
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// moving forward: pending -> processing -> completed|failed.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	switch s {
	case JobPending:
		return true
	case JobProcessing:
		return next != JobPending
	case JobCompleted, JobFailed:
		return next == s
	}
	return false
}

// CancelledByUser is the error text stored on user-cancelled jobs.
const CancelledByUser = "cancelled by user"

// GenerationParams are the sizing knobs of a generation request.
type GenerationParams struct {
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Model           string `json:"model,omitempty"`
}

// VideoJob tracks one video-generation request. ID is internal and distinct
// from ProviderOperationID, which is fixed at creation.
type VideoJob struct {
	ID                  string     `json:"id"`
	SessionID           string     `json:"session_id,omitempty"`
	Prompt              string     `json:"prompt"`
	Status              JobStatus  `json:"status"`
	Progress            int        `json:"progress"`
	VideoURL            string     `json:"video_url,omitempty"`
	ThumbnailURL        string     `json:"thumbnail_url,omitempty"`
	Error               string     `json:"error,omitempty"`
	EstimatedCost       float64    `json:"estimated_cost"`
	ProviderOperationID string     `json:"provider_operation_id"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	Version             int64      `json:"version"`
}

// Session is the UI-facing envelope that mirrors a job's terminal status.
type Session struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	JobID     string    `json:"job_id,omitempty"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobTransition is a journal row describing a job status change.
type JobTransition struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	FromStatus JobStatus `json:"from_status"`
	ToStatus   JobStatus `json:"to_status"`
	Progress   int       `json:"progress"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Package provider talks to the generative video provider's long-running
// operation API.
package provider

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/reelforge/reelforge/pkg/models"
)

// ErrUnavailable wraps transport failures and 5xx responses from the provider.
var ErrUnavailable = errors.New("provider unavailable")

// SubmitRequest starts a generation.
type SubmitRequest struct {
	Prompt string
	Params models.GenerationParams
}

// Operation is the provider's handle for a started generation.
type Operation struct {
	ID string
}

// OperationStatus is the provider's view of an operation, already mapped
// to the local job lifecycle.
type OperationStatus struct {
	Status       models.JobStatus
	Progress     int
	VideoURL     string
	ThumbnailURL string
	Error        string
}

// Provider starts, polls and cancels generations.
type Provider interface {
	Submit(ctx context.Context, req SubmitRequest) (*Operation, error)
	Poll(ctx context.Context, operationID string) (*OperationStatus, error)
	// Cancel asks the provider to stop an operation. false means the provider
	// did not confirm the cancellation.
	Cancel(ctx context.Context, operationID string) (bool, error)
	EstimateCost(params models.GenerationParams) float64
}

// Fetcher downloads provider-hosted assets.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, contentType string, err error)
}

// MapStatus converts a provider status string to a job status. Unknown
// values are reported as processing so polling continues.
func MapStatus(raw string) models.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued", "submitted", "state_pending":
		return models.JobPending
	case "running", "processing", "in_progress", "state_running":
		return models.JobProcessing
	case "succeeded", "success", "completed", "complete", "done", "state_succeeded":
		return models.JobCompleted
	case "failed", "error", "cancelled", "canceled", "state_failed", "state_cancelled":
		return models.JobFailed
	default:
		return models.JobProcessing
	}
}

package provider

import (
	"context"

	"orchestrator/internal/domain"
	"orchestrator/internal/steps"
)

// Callback registers a push endpoint with the provider for the listed event types.
type Callback struct {
	URL   string   `json:"url"`
	Types []string `json:"type"`
}

// DefaultCallbackTypes subscribe to every workflow and step status change.
var DefaultCallbackTypes = []string{"workflow:*", "step:*"}

// SubmitRequest is one workflow submission.
type SubmitRequest struct {
	Steps          []steps.Template     `json:"steps"`
	Priority       domain.PriorityLevel `json:"priority"`
	Callbacks      []Callback           `json:"callbacks,omitempty"`
	Tags           []string             `json:"tags,omitempty"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	IdempotencyKey string               `json:"-"`
}

// Client is the contract with the external compute provider.
type Client interface {
	// SubmitWorkflow returns the accepted workflow or a *domain.SubmissionError.
	SubmitWorkflow(ctx context.Context, req SubmitRequest) (domain.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	// CancelWorkflow asks the provider to cancel; the workflow stays in its current
	// status until the provider confirms.
	CancelWorkflow(ctx context.Context, id string) error
}

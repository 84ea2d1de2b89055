// Package push receives provider status events, either from the HTTP callback or
// from the JetStream stream the callbacks are fanned out on.
package push

import (
	"encoding/json"
	"fmt"
	"strings"

	"orchestrator/internal/domain"
	"orchestrator/internal/tracking"
)

// Event is the provider's callback payload.
type Event struct {
	Type       string         `json:"type,omitempty"`
	WorkflowID string         `json:"workflowId"`
	StepName   string         `json:"stepName,omitempty"`
	Status     string         `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// IsStep reports whether the event concerns a single step.
func (e Event) IsStep() bool {
	return e.StepName != ""
}

// DecodeEvent parses and validates a raw payload.
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode push event: %w", err)
	}
	if _, err := e.Update(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Update converts the event for the tracker. Status tokens must match exactly.
func (e Event) Update() (tracking.Update, error) {
	id := strings.TrimSpace(e.WorkflowID)
	if id == "" {
		return tracking.Update{}, fmt.Errorf("push event: workflowId is required")
	}
	status, err := domain.ParseStatus(e.Status)
	if err != nil {
		return tracking.Update{}, fmt.Errorf("push event for %s: %w", id, err)
	}
	return tracking.Update{
		WorkflowID: id,
		StepName:   strings.TrimSpace(e.StepName),
		Status:     status,
		Detail:     e.Detail,
		Output:     e.Output,
		Source:     tracking.SourcePush,
	}, nil
}

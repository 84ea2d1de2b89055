package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a provider workflow or one of its steps. The
// lowercase tokens are shared verbatim with the compute provider.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusPreparing  Status = "preparing"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCanceled   Status = "canceled"
)

const terminalRank = 4

// ParseStatus accepts only the exact provider tokens.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if s.Rank() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Rank orders statuses along the forward-only graph. All terminal statuses share
// the highest rank; unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusUnassigned:
		return 0
	case StatusPreparing:
		return 1
	case StatusScheduled:
		return 2
	case StatusProcessing:
		return 3
	case StatusSucceeded, StatusFailed, StatusExpired, StatusCanceled:
		return terminalRank
	default:
		return -1
	}
}

func (s Status) IsTerminal() bool {
	return s.Rank() == terminalRank
}

// IsPollable reports whether a workflow in this status must still be observed.
func (s Status) IsPollable() bool {
	r := s.Rank()
	return r >= 0 && r < terminalRank
}

// PollableStatuses lists the non-terminal statuses in graph order.
func PollableStatuses() []Status {
	return []Status{StatusUnassigned, StatusPreparing, StatusScheduled, StatusProcessing}
}

// Step is the provider's echo of a submitted step template.
type Step struct {
	Name   string         `json:"name"`
	Type   string         `json:"$type"`
	Status Status         `json:"status"`
	Detail string         `json:"detail,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Workflow is the provider-side job record as observed by the orchestrator.
type Workflow struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	Steps           []Step        `json:"steps"`
	Priority        PriorityLevel `json:"priority"`
	RequesterID     string        `json:"requesterId,omitempty"`
	IdempotencyKey  string        `json:"idempotencyKey,omitempty"`
	Detail          string        `json:"detail,omitempty"`
	CancelRequested bool          `json:"cancelRequested,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the step slice.
func (w Workflow) Clone() Workflow {
	out := w
	if w.Steps != nil {
		out.Steps = append([]Step(nil), w.Steps...)
	}
	return out
}

// StepByName returns the index of the named step or -1.
func (w Workflow) StepByName(name string) int {
	name = strings.TrimSpace(name)
	for i, step := range w.Steps {
		if step.Name == name {
			return i
		}
	}
	return -1
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrProviderFailure    = errors.New("provider failure")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrNotCancelable      = errors.New("workflow not cancelable")
	ErrInvalidStatus      = errors.New("invalid workflow status")
)

// CompatibilityReason names why a resource, workflow and engine combination was rejected.
type CompatibilityReason string

const (
	ReasonUnknownWorkflow     CompatibilityReason = "unknown-workflow"
	ReasonUnknownEcosystem    CompatibilityReason = "unknown-ecosystem"
	ReasonWorkflowUnsupported CompatibilityReason = "workflow-unsupported"
	ReasonEngineNotFound      CompatibilityReason = "engine-not-found"
	ReasonEngineDisabled      CompatibilityReason = "engine-disabled"
	ReasonEngineWorkflow      CompatibilityReason = "engine-unsupported-workflow"
	ReasonEngineEcosystem     CompatibilityReason = "engine-unsupported-ecosystem"
	ReasonEngineConstraint    CompatibilityReason = "engine-constraint"
	ReasonNoCompatibleEngine  CompatibilityReason = "no-compatible-engine"
)

// CompatibilityError is returned before submission when a request cannot run.
type CompatibilityError struct {
	Reason     CompatibilityReason
	Workflow   string
	Engine     string
	ResourceID string
}

func (e *CompatibilityError) Error() string {
	var b strings.Builder
	b.WriteString("incompatible request: ")
	b.WriteString(string(e.Reason))
	if e.Workflow != "" {
		fmt.Fprintf(&b, " workflow=%s", e.Workflow)
	}
	if e.Engine != "" {
		fmt.Fprintf(&b, " engine=%s", e.Engine)
	}
	if e.ResourceID != "" {
		fmt.Fprintf(&b, " resource=%s", e.ResourceID)
	}
	return b.String()
}

// FieldError tags a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level problems found while building step input.
type ValidationError struct {
	Step   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	prefix := "validation failed"
	if e.Step != "" {
		prefix += " (" + e.Step + ")"
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Add records a problem with field. The first message per field wins.
func (e *ValidationError) Add(field, format string, args ...any) {
	if e.Has(field) {
		return
	}
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Has reports whether field already carries an error.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// SubmissionErrorKind separates "fix your input" from "try again later".
type SubmissionErrorKind string

const (
	SubmissionRejectedInput       SubmissionErrorKind = "rejected-input"
	SubmissionProviderUnavailable SubmissionErrorKind = "provider-unavailable"
)

// SubmissionError classifies a failed provider submission.
type SubmissionError struct {
	Kind       SubmissionErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := "submission " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same submission may succeed later.
func (e *SubmissionError) Retryable() bool {
	return e != nil && e.Kind == SubmissionProviderUnavailable
}

// IsRetryableSubmission reports whether err carries a retryable SubmissionError.
func IsRetryableSubmission(err error) bool {
	var subErr *SubmissionError
	return errors.As(err, &subErr) && subErr.Retryable()
}

package handlers

import (
	"errors"
	"net/http"

	"orchestrator/internal/domain"
)

type compatibilityDetails struct {
	Reason     domain.CompatibilityReason `json:"reason"`
	Workflow   string                     `json:"workflow,omitempty"`
	Engine     string                     `json:"engine,omitempty"`
	ResourceID string                     `json:"resourceId,omitempty"`
}

type validationDetails struct {
	Step   string              `json:"step,omitempty"`
	Fields []domain.FieldError `json:"fields"`
}

type submissionDetails struct {
	Kind     domain.SubmissionErrorKind `json:"kind"`
	Attempts int                        `json:"attempts"`
}

// fail maps domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		compatErr *domain.CompatibilityError
		verr      *domain.ValidationError
		subErr    *domain.SubmissionError
	)
	switch {
	case errors.As(err, &compatErr):
		a.json(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "incompatible",
			Message: compatErr.Error(),
			Details: compatibilityDetails{Reason: compatErr.Reason, Workflow: compatErr.Workflow, Engine: compatErr.Engine, ResourceID: compatErr.ResourceID},
		})
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_input",
			Message: verr.Error(),
			Details: validationDetails{Step: verr.Step, Fields: verr.Fields},
		})
	case errors.As(err, &subErr):
		code, kind := http.StatusServiceUnavailable, "provider_unavailable"
		if !subErr.Retryable() {
			code, kind = http.StatusBadGateway, "provider_rejected"
		}
		a.json(w, code, errorBody{
			Error:   kind,
			Message: subErr.Error(),
			Details: submissionDetails{Kind: subErr.Kind, Attempts: subErr.Attempts},
		})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNotCancelable):
		a.error(w, http.StatusConflict, "not_cancelable", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "provider_failure", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

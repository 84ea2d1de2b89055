package handlers

import (
	"errors"
	"io"
	"net/http"

	"orchestrator/internal/domain"
	"orchestrator/internal/push"
)

// CallbackReceive accepts provider status events signed with the shared secret.
func (a *App) CallbackReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil || len(body) > maxRequestBody {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if !push.Verify(a.CallbackSecret, body, r.Header.Get(push.SignatureHeader)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	event, err := push.DecodeEvent(body)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("malformed callback")
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.Push.Deliver(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Accepted by the provider but not stored yet; ask for redelivery.
			a.Logger.Info().Str("workflow_id", event.WorkflowID).Msg("callback before workflow stored")
			w.Header().Set("Retry-After", "1")
			a.error(w, http.StatusServiceUnavailable, "not_ready", "workflow not stored yet")
			return
		}
		a.Logger.Error().Err(err).Str("workflow_id", event.WorkflowID).Msg("deliver callback")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "event not accepted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

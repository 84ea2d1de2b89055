package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orchestrator/internal/middleware"
)

const maxWait = 25 * time.Second

// WorkflowGet returns the workflow. With ?wait=<duration> it long-polls until
// the workflow is terminal or the wait elapses.
func (a *App) WorkflowGet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		wf, err := a.Orchestrator.Workflow(r.Context(), userID, id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, wf)
		return
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "wait must be a positive duration")
		return
	}
	if wait > maxWait {
		wait = maxWait
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	wf, err := a.Orchestrator.Wait(ctx, userID, id)
	if err != nil && ctx.Err() == nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, wf)
}

func (a *App) WorkflowCancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	wf, err := a.Orchestrator.Cancel(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, wf)
}

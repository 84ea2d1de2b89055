package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"orchestrator/internal/catalog"
	"orchestrator/internal/middleware"
)

type engineView struct {
	Key        string   `json:"key"`
	Disabled   bool     `json:"disabled"`
	Order      int      `json:"order"`
	Workflows  []string `json:"workflows"`
	Ecosystems []string `json:"ecosystems,omitempty"`
}

func toEngineView(e catalog.Engine) engineView {
	return engineView{Key: e.Key, Disabled: e.Disabled, Order: e.Order, Workflows: e.Workflows, Ecosystems: e.Ecosystems}
}

func (a *App) EnginesList(w http.ResponseWriter, r *http.Request) {
	engines := a.Orchestrator.Engines()
	items := make([]engineView, 0, len(engines))
	for _, e := range engines {
		items = append(items, toEngineView(e))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

type engineUpdate struct {
	Disabled *bool `json:"disabled"`
}

func (a *App) EngineUpdate(w http.ResponseWriter, r *http.Request) {
	key := catalog.NormalizeKey(chi.URLParam(r, "engine"))
	var body engineUpdate
	if err := decodeJSON(r, &body); err != nil || body.Disabled == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "disabled is required")
		return
	}
	if err := a.Engines.SetDisabled(r.Context(), key, *body.Disabled); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().
		Str("engine", key).
		Bool("disabled", *body.Disabled).
		Str("by", middleware.UserIDFromContext(r.Context())).
		Msg("engine state changed")
	for _, e := range a.Orchestrator.Engines() {
		if e.Key == key {
			a.json(w, http.StatusOK, toEngineView(e))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

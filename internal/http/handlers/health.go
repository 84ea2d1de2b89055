package handlers

import (
	"net/http"
)

type healthBody struct {
	Status         string `json:"status"`
	Service        string `json:"service,omitempty"`
	CatalogVersion uint64 `json:"catalogVersion"`
}

// Health reports liveness along with the catalog generation this instance serves.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Service: a.Service}
	if a.Orchestrator != nil {
		body.CatalogVersion = a.Orchestrator.CatalogVersion()
	}
	a.json(w, http.StatusOK, body)
}

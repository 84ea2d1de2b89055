package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"orchestrator/internal/domain"
	"orchestrator/internal/middleware"
	"orchestrator/internal/resources"
)

const maxRequestBody = 1 << 20

type generationRequest struct {
	Workflow       string                 `json:"workflow"`
	Engine         string                 `json:"engine,omitempty"`
	Resources      []resources.Binding    `json:"resources,omitempty"`
	Params         map[string]any         `json:"params,omitempty"`
	Upscale        *domain.UpscaleOptions `json:"upscale,omitempty"`
	Auction        *domain.AuctionContext `json:"auction,omitempty"`
	Callbacks      []string               `json:"callbacks,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

// GenerationsCreate validates and submits one generation. It answers 202 with
// the accepted workflow; replays of the same request return the same workflow.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var body generationRequest
	if err := decodeJSON(r, &body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Workflow) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "workflow is required")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && body.IdempotencyKey == "" {
		body.IdempotencyKey = key
	}

	inputs, err := resources.ResolveAll(r.Context(), a.Resources, body.Resources)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	wf, err := a.Orchestrator.Generate(r.Context(), domain.GenerationRequest{
		Workflow:       body.Workflow,
		Engine:         body.Engine,
		Resources:      inputs,
		Params:         body.Params,
		Upscale:        body.Upscale,
		Requester:      domain.Requester{ID: userID, ClientIP: clientIP(r)},
		Auction:        body.Auction,
		Callbacks:      body.Callbacks,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/workflows/"+wf.ID)
	a.json(w, http.StatusAccepted, wf)
}

// decodeJSON keeps numbers as json.Number so integer parameters stay exact.
func decodeJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return errors.New("unreadable body")
	}
	if len(raw) > maxRequestBody {
		return errors.New("body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

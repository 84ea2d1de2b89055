package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
	"orchestrator/internal/push"
)

// Orchestrator is the generation surface the handlers drive.
type Orchestrator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.Workflow, error)
	Workflow(ctx context.Context, requesterID, id string) (domain.Workflow, error)
	Wait(ctx context.Context, requesterID, id string) (domain.Workflow, error)
	Cancel(ctx context.Context, requesterID, id string) (domain.Workflow, error)
	Engines() []catalog.Engine
	CatalogVersion() uint64
}

// EngineToggler records engine overrides for every instance.
type EngineToggler interface {
	SetDisabled(ctx context.Context, engine string, disabled bool) error
}

type App struct {
	Service        string
	Orchestrator   Orchestrator
	Resources      domain.ResourceRepository
	Engines        EngineToggler
	Push           push.Sink
	CallbackSecret string
	Logger         zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// PriorityLevel is the provider scheduling weight. Lower values run sooner.
type PriorityLevel int

const (
	PriorityHigh   PriorityLevel = 10
	PriorityNormal PriorityLevel = 20
	PriorityLow    PriorityLevel = 30
)

func (p PriorityLevel) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ResourceRef is the model catalog's snapshot of a generation resource.
type ResourceRef struct {
	ID           string `json:"id"`
	EcosystemKey string `json:"ecosystem"`
	ModelType    string `json:"modelType"`
	NSFW         bool   `json:"nsfw"`
}

// ResourceInput binds a resource to a request with its weight and role.
type ResourceInput struct {
	Ref      ResourceRef `json:"resource"`
	Strength float64     `json:"strength,omitempty"`
	Role     string      `json:"role,omitempty"`
}

// UpscaleOptions chains an upscaler step after generation.
type UpscaleOptions struct {
	ScaleFactor float64 `json:"scaleFactor"`
}

// AuctionContext names the auction slot a requester may hold a bid for.
type AuctionContext struct {
	SlotKey string `json:"slotKey"`
}

// Requester identifies who asked for a generation.
type Requester struct {
	ID       string
	ClientIP string
}

// GenerationRequest is an immutable instruction to run one workflow.
type GenerationRequest struct {
	Workflow       string
	Engine         string
	Resources      []ResourceInput
	Params         map[string]any
	Upscale        *UpscaleOptions
	Requester      Requester
	Auction        *AuctionContext
	Callbacks      []string
	IdempotencyKey string
}

// Refs returns the plain resource snapshots of the request.
func (r GenerationRequest) Refs() []ResourceRef {
	refs := make([]ResourceRef, 0, len(r.Resources))
	for _, res := range r.Resources {
		refs = append(refs, res.Ref)
	}
	return refs
}

// WithEngine returns a copy of the request bound to engine.
func (r GenerationRequest) WithEngine(engine string) GenerationRequest {
	out := r
	out.Engine = engine
	return out
}

type hashedResource struct {
	ID       string  `json:"id"`
	Strength float64 `json:"strength"`
	Role     string  `json:"role"`
}

type hashedRequest struct {
	Workflow  string           `json:"workflow"`
	Engine    string           `json:"engine"`
	Resources []hashedResource `json:"resources"`
	Params    map[string]any   `json:"params"`
	Upscale   *UpscaleOptions  `json:"upscale"`
}

// ContentHash digests everything that determines the generated output. Requester,
// priority and callbacks are excluded.
func (r GenerationRequest) ContentHash() string {
	payload := hashedRequest{
		Workflow: r.Workflow,
		Engine:   r.Engine,
		Params:   r.Params,
		Upscale:  r.Upscale,
	}
	for _, res := range r.Resources {
		payload.Resources = append(payload.Resources, hashedResource{ID: res.Ref.ID, Strength: res.Strength, Role: res.Role})
	}
	// encoding/json sorts map keys, so equal params hash equally.
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(r.Workflow)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

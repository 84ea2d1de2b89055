// Package orchestrator runs a generation request end to end: compatibility,
// step templates, priority, submission and tracking.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/catalog"
	"orchestrator/internal/compat"
	"orchestrator/internal/domain"
	"orchestrator/internal/priority"
	"orchestrator/internal/steps"
	"orchestrator/internal/submission"
	"orchestrator/internal/tracking"
)

// Deps are the collaborators a Service is assembled from.
type Deps struct {
	Catalog   *catalog.Holder
	Builder   *steps.Builder
	Priority  *priority.Resolver
	Submitter *submission.Manager
	Store     domain.WorkflowRepository
	Hub       *tracking.Hub
	// CallbackURL, when set, is registered with every submission.
	CallbackURL string
	Logger      zerolog.Logger
	Now         func() time.Time
}

type Service struct {
	catalog     *catalog.Holder
	builder     *steps.Builder
	priority    *priority.Resolver
	submitter   *submission.Manager
	store       domain.WorkflowRepository
	hub         *tracking.Hub
	callbackURL string
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Builder == nil {
		d.Builder = steps.NewBuilder()
	}
	if d.Priority == nil {
		d.Priority = priority.NewResolver(nil, nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		catalog:     d.Catalog,
		builder:     d.Builder,
		priority:    d.Priority,
		submitter:   d.Submitter,
		store:       d.Store,
		hub:         d.Hub,
		callbackURL: d.CallbackURL,
		logger:      d.Logger,
		now:         d.Now,
	}
}

// Generate validates req against one catalog generation, submits it and starts
// tracking the accepted workflow. Nothing reaches the provider unless every
// resource is compatible and the step input is valid.
func (s *Service) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Workflow, error) {
	gen := s.catalog.Current()
	result := compat.ValidateIn(gen, req.Refs(), req.Workflow, req.Engine)
	if !result.OK {
		s.logger.Info().
			Str("workflow", req.Workflow).
			Str("engine", req.Engine).
			Str("reason", string(result.Reason)).
			Str("resource_id", result.OffendingResourceID).
			Msg("generation rejected")
		return domain.Workflow{}, result.Err()
	}
	def, _ := gen.Workflow(result.Workflow)
	req = req.WithEngine(result.Engine)
	req.Workflow = def.Key

	templates, err := s.builder.Build(req, def)
	if err != nil {
		return domain.Workflow{}, err
	}

	level := s.priority.Resolve(ctx, req.Requester, req.Auction)
	key := idempotencyKey(req)
	callbacks := append([]string(nil), req.Callbacks...)
	if s.callbackURL != "" {
		callbacks = append(callbacks, s.callbackURL)
	}

	wf, err := s.submitter.Submit(ctx, submission.Submission{
		Templates:      templates,
		Priority:       level,
		Callbacks:      callbacks,
		IdempotencyKey: key,
		RequesterID:    req.Requester.ID,
		Tags:           []string{def.Key, req.Engine},
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return s.persist(ctx, wf), nil
}

// idempotencyKey scopes the replay key to the requester. A caller-supplied key
// replaces the content hash but never the requester, so two requesters reusing
// the same key get separate workflows.
func idempotencyKey(req domain.GenerationRequest) string {
	switch {
	case req.IdempotencyKey != "":
		return submission.IdempotencyKey(req.Requester.ID, "key:"+req.IdempotencyKey)
	case req.Requester.ID != "":
		return submission.IdempotencyKey(req.Requester.ID, req.ContentHash())
	default:
		return ""
	}
}

// persist stores a newly accepted workflow under this hub's lease and starts
// tracking it. A workflow that was already stored (an idempotent replay) is
// attached instead, so a hub that already observes it keeps doing so. Store
// failures are logged: the provider has accepted the job and push or poll still
// reach the tracker.
func (s *Service) persist(ctx context.Context, wf domain.Workflow) domain.Workflow {
	now := s.now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}
	err := s.store.Create(ctx, wf, s.hub.Lease())
	switch {
	case err == nil:
		return s.hub.Track(wf).Snapshot()
	case errors.Is(err, domain.ErrDuplicateOperation):
		stored, attachErr := s.hub.Attach(ctx, wf.ID)
		if attachErr != nil {
			s.logger.Warn().Err(attachErr).Str("workflow_id", wf.ID).Msg("read replayed workflow")
			return wf
		}
		return stored
	default:
		s.logger.Error().Err(err).Str("workflow_id", wf.ID).Msg("store accepted workflow")
		return s.hub.Track(wf).Snapshot()
	}
}

// Workflow returns the latest known state. A requester only sees its own
// workflows; an empty requester id reads any workflow.
func (s *Service) Workflow(ctx context.Context, requesterID, id string) (domain.Workflow, error) {
	wf, err := s.hub.Get(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if !owns(wf, requesterID) {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return wf, nil
}

// Wait blocks until the workflow is terminal or ctx ends, returning the latest state.
func (s *Service) Wait(ctx context.Context, requesterID, id string) (domain.Workflow, error) {
	wf, err := s.Workflow(ctx, requesterID, id)
	if err != nil || wf.Status.IsTerminal() {
		return wf, err
	}
	tr, ok := s.hub.Tracker(id)
	if !ok {
		return s.Workflow(ctx, requesterID, id)
	}
	return tr.Wait(ctx)
}

// Cancel asks the provider to cancel the workflow.
func (s *Service) Cancel(ctx context.Context, requesterID, id string) (domain.Workflow, error) {
	if _, err := s.Workflow(ctx, requesterID, id); err != nil {
		return domain.Workflow{}, err
	}
	wf, err := s.hub.Cancel(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	s.logger.Info().Str("workflow_id", id).Msg("cancel requested")
	return wf, nil
}

// Engines lists the engines of the current catalog generation in selection order.
func (s *Service) Engines() []catalog.Engine {
	return s.catalog.Current().Engines()
}

// CatalogVersion is the version of the catalog generation currently served.
func (s *Service) CatalogVersion() uint64 {
	return s.catalog.Current().Version
}

func owns(wf domain.Workflow, requesterID string) bool {
	return requesterID == "" || wf.RequesterID == "" || wf.RequesterID == requesterID
}

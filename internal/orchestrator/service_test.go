package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/adapter/memory"
	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
	"orchestrator/internal/priority"
	"orchestrator/internal/provider/sim"
	"orchestrator/internal/steps"
	"orchestrator/internal/submission"
	"orchestrator/internal/tracking"
)

type fixture struct {
	svc   *Service
	sim   *sim.Provider
	store *memory.WorkflowRepository
	hub   *tracking.Hub
}

type winningLedger struct{}

func (winningLedger) ActivePriorityFor(ctx context.Context, requesterID, slotKey string) (*priority.Bid, error) {
	if requesterID != "bidder" {
		return nil, nil
	}
	return &priority.Bid{Tier: "gold", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen, err := catalog.DefaultFile().Build()
	require.NoError(t, err)

	provider := sim.New()
	store := memory.NewWorkflowRepository()
	hub := tracking.NewHub(provider, store, tracking.Config{
		PollInterval:    time.Hour,
		PollMaxInterval: time.Hour,
		PollTimeout:     time.Second,
		MaxAge:          24 * time.Hour,
	})
	t.Cleanup(hub.Close)
	provider.SetChangeHook(func(wf domain.Workflow) {
		_, _ = hub.ApplyPush(context.Background(), tracking.Update{WorkflowID: wf.ID, Status: wf.Status, Steps: wf.Steps})
	})

	manager := submission.NewManager(provider, memory.NewIdempotencyRepository(time.Minute), submission.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		AttemptTimeout: time.Second,
	})
	holder := catalog.NewHolder(gen)
	svc := NewService(Deps{
		Catalog:     holder,
		Builder:     steps.NewBuilder(),
		Priority:    priority.NewResolver(winningLedger{}, nil),
		Submitter:   manager,
		Store:       store,
		Hub:         hub,
		CallbackURL: "https://orchestrator.example/v1/callbacks/workflows",
		Logger:      zerolog.Nop(),
	})
	return &fixture{svc: svc, sim: provider, store: store, hub: hub}
}

func sdxl(id string) domain.ResourceInput {
	return domain.ResourceInput{Ref: domain.ResourceRef{ID: id, EcosystemKey: "sdxl", ModelType: "checkpoint"}}
}

func txt2img(requester string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Workflow:  "txt2img",
		Resources: []domain.ResourceInput{sdxl("1")},
		Params:    map[string]any{"prompt": "a lighthouse at dusk"},
		Requester: domain.Requester{ID: requester},
	}
}

func TestGenerateSubmitsAndTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wf, err := f.svc.Generate(ctx, txt2img("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnassigned, wf.Status)
	assert.Equal(t, domain.PriorityNormal, wf.Priority)
	assert.Equal(t, "user-1", wf.RequesterID)
	assert.NotEmpty(t, wf.IdempotencyKey)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, string(steps.TypeTextToImage), wf.Steps[0].Type)

	stored, err := f.store.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, stored.ID)

	_, err = f.sim.Advance(wf.ID, domain.StatusProcessing)
	require.NoError(t, err)
	got, err := f.svc.Workflow(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	_, err = f.sim.Advance(wf.ID, domain.StatusSucceeded)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	final, err := f.svc.Wait(waitCtx, "user-1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, final.Status)
	assert.NotNil(t, final.Steps[0].Output)

	stored, err = f.store.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, stored.Status)
}

func TestIncompatibleRequestNeverReachesProvider(t *testing.T) {
	f := newFixture(t)
	req := domain.GenerationRequest{
		Workflow: "img2img",
		Resources: []domain.ResourceInput{
			sdxl("1"),
			{Ref: domain.ResourceRef{ID: "2", EcosystemKey: "sd3"}},
		},
		Params:    map[string]any{"prompt": "x", "sourceUrl": "https://example.com/a.png"},
		Requester: domain.Requester{ID: "user-1"},
	}
	_, err := f.svc.Generate(context.Background(), req)
	var compatErr *domain.CompatibilityError
	require.ErrorAs(t, err, &compatErr)
	assert.Equal(t, domain.ReasonWorkflowUnsupported, compatErr.Reason)
	assert.Equal(t, "2", compatErr.ResourceID)
	assert.Equal(t, 0, f.sim.Submissions())
}

func TestInvalidInputNeverReachesProvider(t *testing.T) {
	f := newFixture(t)
	req := txt2img("user-1")
	req.Params = map[string]any{"width": 100}
	_, err := f.svc.Generate(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("prompt"))
	assert.True(t, verr.Has("width"))
	assert.Equal(t, 0, f.sim.Submissions())
}

func TestReplayReturnsSameWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.svc.Generate(ctx, txt2img("user-1"))
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, txt2img("user-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.sim.Submissions())
	assert.Equal(t, 1, f.hub.Len())

	other, err := f.svc.Generate(ctx, txt2img("user-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCallerKeyIsScopedToRequester(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := txt2img("alice")
	alice.IdempotencyKey = "order-1"
	first, err := f.svc.Generate(ctx, alice)
	require.NoError(t, err)

	bob := txt2img("bob")
	bob.Params = map[string]any{"prompt": "a harbor at noon"}
	bob.IdempotencyKey = "order-1"
	second, err := f.svc.Generate(ctx, bob)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, "bob", second.RequesterID)
	assert.Equal(t, 2, f.sim.Submissions())

	got, err := f.svc.Workflow(ctx, "bob", second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	_, err = f.svc.Workflow(ctx, "bob", first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Same requester, same caller key, different content: still a replay.
	alice.Params = map[string]any{"prompt": "something else entirely"}
	again, err := f.svc.Generate(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, f.sim.Submissions())
}

func TestWinningBidRaisesPriority(t *testing.T) {
	f := newFixture(t)
	req := txt2img("bidder")
	req.Auction = &domain.AuctionContext{SlotKey: "featured"}
	wf, err := f.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, wf.Priority)
}

func TestEngineIsPickedAndUpscaleChained(t *testing.T) {
	f := newFixture(t)
	req := domain.GenerationRequest{
		Workflow:  "txt2vid",
		Params:    map[string]any{"prompt": "waves"},
		Upscale:   &domain.UpscaleOptions{ScaleFactor: 2},
		Requester: domain.Requester{ID: "user-1"},
	}
	wf, err := f.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, string(steps.TypeVideoGen), wf.Steps[0].Type)
	assert.Equal(t, string(steps.TypeVideoUpscaler), wf.Steps[1].Type)
}

func TestWorkflowIsScopedToRequester(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wf, err := f.svc.Generate(ctx, txt2img("user-1"))
	require.NoError(t, err)

	_, err = f.svc.Workflow(ctx, "user-2", wf.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.svc.Cancel(ctx, "user-2", wf.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.svc.Workflow(ctx, "user-1", "wf-missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCancelWaitsForProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wf, err := f.svc.Generate(ctx, txt2img("user-1"))
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, domain.StatusUnassigned, got.Status)

	f.sim.Step()
	got, err = f.svc.Workflow(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status)

	_, err = f.svc.Cancel(ctx, "user-1", wf.ID)
	assert.True(t, errors.Is(err, domain.ErrNotCancelable))
}

func TestEnginesFollowCatalog(t *testing.T) {
	f := newFixture(t)
	engines := f.svc.Engines()
	require.NotEmpty(t, engines)
	assert.Equal(t, "standard", engines[0].Key)
}

func TestCatalogVersionTracksHolder(t *testing.T) {
	gen, err := catalog.DefaultFile().Build()
	require.NoError(t, err)
	holder := catalog.NewHolder(gen)
	svc := NewService(Deps{Catalog: holder, Logger: zerolog.Nop()})

	before := svc.CatalogVersion()
	require.NoError(t, holder.SetEngineDisabled("kling", true))
	assert.Greater(t, svc.CatalogVersion(), before)
}

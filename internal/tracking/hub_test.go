package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/adapter/memory"
	"orchestrator/internal/domain"
	"orchestrator/internal/provider"
)

type fakeClient struct {
	mu        sync.Mutex
	polls     []domain.Workflow
	pollErr   error
	cancelErr error
	canceled  []string
	gets      int
}

func (f *fakeClient) SubmitWorkflow(ctx context.Context, req provider.SubmitRequest) (domain.Workflow, error) {
	return domain.Workflow{}, errors.New("not implemented")
}

// GetWorkflow returns the queued poll results in order and repeats the last one.
func (f *fakeClient) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.pollErr != nil {
		return domain.Workflow{}, f.pollErr
	}
	if len(f.polls) == 0 {
		return domain.Workflow{}, domain.ErrNotFound
	}
	wf := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	wf.ID = id
	return wf, nil
}

func (f *fakeClient) CancelWorkflow(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return f.cancelErr
}

func (f *fakeClient) cancelCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func quietConfig() Config {
	return Config{PollInterval: time.Hour, PollMaxInterval: time.Hour, PollTimeout: time.Second, MaxAge: 24 * time.Hour}
}

func newHub(t *testing.T, client provider.Client, store domain.WorkflowRepository, cfg Config, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(client, store, cfg, opts...)
	t.Cleanup(h.Close)
	return h
}

func seed(t *testing.T, store *memory.WorkflowRepository, wf domain.Workflow) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), wf, domain.Lease{}))
}

func seedLeased(t *testing.T, store *memory.WorkflowRepository, wf domain.Workflow, lease domain.Lease) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), wf, lease))
}

// regressingClient answers every poll with a status behind the pushed one.
type regressingClient struct {
	fakeClient
	polls atomic.Int64
}

func (c *regressingClient) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	n := c.polls.Add(1)
	status := domain.StatusScheduled
	if n%2 == 0 {
		status = domain.StatusPreparing
	}
	return domain.Workflow{ID: id, Status: status, Steps: []domain.Step{{Name: "$0", Status: status}}}, nil
}

func TestHubPushThenStalePoll(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	client := &fakeClient{polls: []domain.Workflow{{Status: domain.StatusScheduled}}}
	h := newHub(t, client, store, quietConfig())

	wf := domain.Workflow{ID: "wf-123", Status: domain.StatusUnassigned, CreatedAt: time.Now()}
	seed(t, store, wf)
	h.Track(wf)

	outcome, err := h.ApplyPush(ctx, Update{WorkflowID: "wf-123", Status: domain.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	h.mu.Lock()
	e, ok := h.trackers["wf-123"]
	h.mu.Unlock()
	require.True(t, ok)
	h.pollOnce(e)

	got, err := h.Get(ctx, "wf-123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	stored, err := store.Get(ctx, "wf-123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
}

func TestHubForgetsTerminalWorkflows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	h := newHub(t, &fakeClient{}, store, quietConfig())
	wf := domain.Workflow{ID: "wf-1", Status: domain.StatusScheduled, CreatedAt: time.Now()}
	seed(t, store, wf)
	tr := h.Track(wf)
	assert.Same(t, tr, h.Track(wf), "tracking twice returns the same tracker")
	assert.Equal(t, 1, h.Len())

	outcome, err := h.ApplyPush(ctx, Update{WorkflowID: "wf-1", Status: domain.StatusSucceeded})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0, h.Len())

	stored, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, stored.Status)

	outcome, err = h.ApplyPush(ctx, Update{WorkflowID: "wf-1", Status: domain.StatusSucceeded})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome, "late pushes for finished workflows are discarded")
	assert.Equal(t, 0, h.Len())
}

func TestHubPushAdoptsStoredWorkflow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	h := newHub(t, &fakeClient{}, store, quietConfig())
	seed(t, store, domain.Workflow{ID: "wf-2", Status: domain.StatusPreparing, CreatedAt: time.Now()})

	outcome, err := h.ApplyPush(ctx, Update{WorkflowID: "wf-2", Status: domain.StatusScheduled})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, h.Len())

	_, err = h.ApplyPush(ctx, Update{WorkflowID: "missing", Status: domain.StatusScheduled})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHubPollsUntilTerminal(t *testing.T) {
	store := memory.NewWorkflowRepository()
	client := &fakeClient{polls: []domain.Workflow{
		{Status: domain.StatusScheduled},
		{Status: domain.StatusProcessing, Steps: []domain.Step{{Name: "$0", Status: domain.StatusProcessing}}},
		{Status: domain.StatusSucceeded, Steps: []domain.Step{{Name: "$0", Status: domain.StatusSucceeded, Output: map[string]any{"images": []any{}}}}},
	}}
	cfg := Config{PollInterval: 5 * time.Millisecond, PollMaxInterval: 20 * time.Millisecond, PollTimeout: time.Second, MaxAge: time.Hour}
	h := newHub(t, client, store, cfg)

	wf := domain.Workflow{
		ID:        "wf-3",
		Status:    domain.StatusUnassigned,
		Steps:     []domain.Step{{Name: "$0", Status: domain.StatusUnassigned}},
		CreatedAt: time.Now(),
	}
	seed(t, store, wf)
	tr := h.Track(wf)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := tr.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, final.Status)
	assert.NotNil(t, final.Steps[0].Output)

	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
	stored, err := store.Get(context.Background(), "wf-3")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, stored.Status)
}

func TestHubExpiresOldWorkflows(t *testing.T) {
	store := memory.NewWorkflowRepository()
	client := &fakeClient{}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return created.Add(3 * time.Hour) }
	cfg := Config{PollInterval: time.Hour, PollMaxInterval: time.Hour, PollTimeout: time.Second, MaxAge: 2 * time.Hour}
	h := newHub(t, client, store, cfg, WithClock(clock))

	wf := domain.Workflow{ID: "wf-4", Status: domain.StatusProcessing, CreatedAt: created, UpdatedAt: created}
	seed(t, store, wf)
	tr := h.Track(wf)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := tr.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, final.Status)

	require.Eventually(t, func() bool { return len(client.cancelCalls()) == 1 }, time.Second, 5*time.Millisecond)
	stored, err := store.Get(context.Background(), "wf-4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestHubCancel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	client := &fakeClient{}
	h := newHub(t, client, store, quietConfig())
	wf := domain.Workflow{ID: "wf-5", Status: domain.StatusProcessing, CreatedAt: time.Now()}
	seed(t, store, wf)
	h.Track(wf)

	got, err := h.Cancel(ctx, "wf-5")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, domain.StatusProcessing, got.Status, "status waits for the provider")
	assert.Equal(t, []string{"wf-5"}, client.cancelCalls())

	stored, err := store.Get(ctx, "wf-5")
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)

	_, err = h.ApplyPush(ctx, Update{WorkflowID: "wf-5", Status: domain.StatusCanceled})
	require.NoError(t, err)
	_, err = h.Cancel(ctx, "wf-5")
	assert.True(t, errors.Is(err, domain.ErrNotCancelable))
}

func TestHubCancelPropagatesProviderRefusal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	client := &fakeClient{cancelErr: domain.ErrNotCancelable}
	h := newHub(t, client, store, quietConfig())
	wf := domain.Workflow{ID: "wf-6", Status: domain.StatusProcessing, CreatedAt: time.Now()}
	seed(t, store, wf)
	h.Track(wf)

	got, err := h.Cancel(ctx, "wf-6")
	assert.True(t, errors.Is(err, domain.ErrNotCancelable))
	assert.False(t, got.CancelRequested)
}

func TestHubResumeAndAdopt(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memory.NewWorkflowRepository()
	seed(t, store, domain.Workflow{ID: "a", Status: domain.StatusScheduled, CreatedAt: now, UpdatedAt: now.Add(-time.Hour)})
	seed(t, store, domain.Workflow{ID: "b", Status: domain.StatusProcessing, CreatedAt: now, UpdatedAt: now})
	seed(t, store, domain.Workflow{ID: "c", Status: domain.StatusFailed, CreatedAt: now, UpdatedAt: now.Add(-time.Hour)})

	h := newHub(t, &fakeClient{}, store, quietConfig(), WithOwner("api"))
	n, err := h.Resume(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.Len())

	other := newHub(t, &fakeClient{}, store, quietConfig(), WithOwner("worker"))
	adopted, err := other.Adopt(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, adopted, "everything is leased to the api hub")
	assert.Equal(t, 0, other.Len())
}

func TestLiveWorkflowIsNotAdoptedByAnotherHub(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	store := memory.NewWorkflowRepository().WithClock(clock)
	cfg := quietConfig()
	cfg.LeaseTTL = 2 * time.Minute

	api := newHub(t, &fakeClient{}, store, cfg, WithOwner("api"))
	worker := newHub(t, &fakeClient{}, store, cfg, WithOwner("worker"))

	wf := domain.Workflow{ID: "wf-live", Status: domain.StatusProcessing, CreatedAt: clock(), UpdatedAt: clock()}
	seedLeased(t, store, wf, api.Lease())
	api.Track(wf)

	// A long video job: no status change for minutes, the api hub keeps renewing.
	for i := 0; i < 5; i++ {
		advance(40 * time.Second)
		api.renew(ctx)
	}
	adopted, err := worker.Adopt(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, adopted)
	assert.Equal(t, 1, api.Len())
	assert.Equal(t, 0, worker.Len())

	// A push delivered to the worker is stored but does not start a second tracker.
	_, err = worker.ApplyPush(ctx, Update{WorkflowID: "wf-live", Status: domain.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, 0, worker.Len())

	// The api hub stops renewing (crash): the lease lapses and the worker takes over.
	advance(3 * time.Minute)
	adopted, err = worker.Adopt(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, adopted)

	// If the api hub comes back it notices the lost lease and lets go.
	api.renew(ctx)
	assert.Equal(t, 0, api.Len())
	assert.Equal(t, 1, worker.Len())
}

func TestPushForWorkflowOwnedElsewhereIsStored(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	seedLeased(t, store, domain.Workflow{ID: "wf-7", Status: domain.StatusScheduled, CreatedAt: time.Now()}, domain.Lease{Owner: "other", TTL: time.Hour})

	h := newHub(t, &fakeClient{}, store, quietConfig(), WithOwner("api"))
	outcome, err := h.ApplyPush(ctx, Update{WorkflowID: "wf-7", Status: domain.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0, h.Len())

	stored, err := store.Get(ctx, "wf-7")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	owner, held := store.Holder("wf-7")
	assert.True(t, held)
	assert.Equal(t, "other", owner)

	got, err := h.Attach(ctx, "wf-7")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, 0, h.Len())
}

func TestCloseReleasesLeases(t *testing.T) {
	store := memory.NewWorkflowRepository()
	h := NewHub(&fakeClient{}, store, quietConfig(), WithOwner("api"))
	wf := domain.Workflow{ID: "wf-8", Status: domain.StatusScheduled, CreatedAt: time.Now()}
	seedLeased(t, store, wf, h.Lease())
	h.Track(wf)
	h.Close()

	_, held := store.Holder("wf-8")
	assert.False(t, held)
	next := newHub(t, &fakeClient{}, store, quietConfig(), WithOwner("next"))
	adopted, err := next.Resume(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, adopted)
}

func TestConcurrentPushesBeatRegressingPolls(t *testing.T) {
	ctx := context.Background()
	store := memory.NewWorkflowRepository()
	client := &regressingClient{}
	h := newHub(t, client, store, Config{
		PollInterval:    time.Millisecond,
		PollMaxInterval: time.Millisecond,
		PollTimeout:     time.Second,
		MaxAge:          time.Hour,
	})
	wf := domain.Workflow{
		ID:        "wf-race",
		Status:    domain.StatusUnassigned,
		Steps:     []domain.Step{{Name: "$0", Status: domain.StatusUnassigned}},
		CreatedAt: time.Now(),
	}
	seedLeased(t, store, wf, h.Lease())
	h.Track(wf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := Update{WorkflowID: wf.ID, Status: domain.StatusProcessing}
			if i%2 == 0 {
				u.StepName = "$0"
			}
			_, err := h.ApplyPush(ctx, u)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Eventually(t, func() bool { return client.polls.Load() >= 20 }, 5*time.Second, time.Millisecond)

	got, err := h.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, domain.StatusProcessing, got.Steps[0].Status)

	stored, err := store.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
}

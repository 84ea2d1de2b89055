package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
	"orchestrator/internal/metrics"
	"orchestrator/internal/provider"
)

// Config bounds polling and local expiry.
type Config struct {
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollTimeout     time.Duration
	MaxAge          time.Duration
	// LeaseTTL is how long another hub waits before adopting a workflow this hub
	// stopped renewing.
	LeaseTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		PollMaxInterval: time.Minute,
		PollTimeout:     10 * time.Second,
		MaxAge:          2 * time.Hour,
		LeaseTTL:        2 * time.Minute,
	}
}

const releaseTimeout = 5 * time.Second

type entry struct {
	tracker *Tracker
	wake    chan struct{}
	stop    chan struct{}
}

// Hub owns one tracker per live workflow, runs its poller and persists every
// applied transition. Trackers are dropped once terminal; reads then go to the
// store.
//
// Ownership is a lease in the store. The hub renews the leases of everything it
// tracks, only adopts workflows whose lease lapsed, and applies pushes for
// workflows another hub owns straight to the store.

type Hub struct {
	client  provider.Client
	store   domain.WorkflowRepository
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	owner   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	trackers map[string]*entry
}

type Option func(*Hub)

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(h *Hub) { h.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithOwner names the hub in the leases it takes. The default is a random id.
func WithOwner(owner string) Option {
	return func(h *Hub) { h.owner = owner }
}

func NewHub(client provider.Client, store domain.WorkflowRepository, cfg Config, opts ...Option) *Hub {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = cfg.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		client:   client,
		store:    store,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		now:      time.Now,
		owner:    uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		trackers: map[string]*entry{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.wg.Add(1)
	go h.heartbeat()
	return h
}

// Lease is what this hub writes into the store for workflows it observes.
func (h *Hub) Lease() domain.Lease {
	return domain.Lease{Owner: h.owner, TTL: h.cfg.LeaseTTL}
}

// Close stops every poller, waits for them to exit and releases the leases so
// another hub can adopt the workflows right away.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
	ids := h.trackedIDs()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := h.store.Renew(ctx, domain.Lease{Owner: h.owner}, ids); err != nil {
		h.logger.Warn().Err(err).Int("count", len(ids)).Msg("release workflow leases")
	}
}

// Len reports how many workflows are being observed.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trackers)
}

// Track starts observing wf, which must already be leased to this hub (created
// with Lease or claimed). Tracking an already observed workflow returns the
// existing tracker.
func (h *Hub) Track(wf domain.Workflow) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.trackers[wf.ID]; ok {
		return e.tracker
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = h.now().UTC()
	}
	e := &entry{tracker: newTracker(wf, h.now), wake: make(chan struct{}, 1), stop: make(chan struct{})}
	if wf.Status.IsTerminal() {
		return e.tracker
	}
	h.trackers[wf.ID] = e
	h.wg.Add(1)
	go h.poll(e)
	return e.tracker
}

// Tracker returns the live tracker for id, if any.
func (h *Hub) Tracker(id string) (*Tracker, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.trackers[id]
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// Attach returns the latest state of a stored workflow, tracking it here when no
// other hub holds it. Replayed submissions go through Attach.
func (h *Hub) Attach(ctx context.Context, id string) (domain.Workflow, error) {
	e, err := h.entryFor(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if e == nil {
		return h.store.Get(ctx, id)
	}
	return e.tracker.Snapshot(), nil
}

// Get returns the live state of a tracked workflow or the stored record.
func (h *Hub) Get(ctx context.Context, id string) (domain.Workflow, error) {
	if t, ok := h.Tracker(id); ok {
		return t.Snapshot(), nil
	}
	return h.store.Get(ctx, id)
}

// ApplyPush routes a pushed update. Pushes for workflows this hub does not observe
// are adopted when their lease lapsed and otherwise written to the store for the
// owner to pick up. Pushes for unknown workflows fail with domain.ErrNotFound.
func (h *Hub) ApplyPush(ctx context.Context, u Update) (Outcome, error) {
	u.Source = SourcePush
	e, err := h.entryFor(ctx, u.WorkflowID)
	if err != nil {
		return OutcomeStale, err
	}
	if e == nil {
		h.discarded(ctx, u, OutcomeStale)
		return OutcomeStale, nil
	}
	outcome := h.apply(ctx, e, u)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return outcome, nil
}

// Cancel asks the provider to cancel id. The status is unchanged until the provider
// confirms, or the workflow finishes first.
func (h *Hub) Cancel(ctx context.Context, id string) (domain.Workflow, error) {
	e, err := h.entryFor(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if e == nil {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotCancelable)
	}
	if err := h.client.CancelWorkflow(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotCancelable) {
			h.nudge(e)
		}
		return e.tracker.Snapshot(), err
	}
	if e.tracker.markCancelRequested() {
		h.persist(ctx, e.tracker.Snapshot())
	}
	h.nudge(e)
	return e.tracker.Snapshot(), nil
}

// Resume adopts stored workflows whose lease lapsed, for use at startup.
func (h *Hub) Resume(ctx context.Context, limit int) (int, error) {
	return h.Adopt(ctx, limit)
}

// Adopt claims up to limit workflows whose owner stopped renewing and tracks them
// here.
func (h *Hub) Adopt(ctx context.Context, limit int) (int, error) {
	list, err := h.store.ClaimStale(ctx, h.Lease(), limit)
	if err != nil {
		return 0, err
	}
	adopted := 0
	for _, wf := range list {
		if _, ok := h.Tracker(wf.ID); ok {
			continue
		}
		h.Track(wf)
		adopted++
	}
	return adopted, nil
}

// entryFor returns the entry for id. A workflow not observed here is claimed and
// tracked when its lease lapsed; when another hub holds it the entry is detached:
// updates still persist but nothing polls. A nil entry with nil error means the
// workflow is already terminal.
func (h *Hub) entryFor(ctx context.Context, id string) (*entry, error) {
	h.mu.Lock()
	e, ok := h.trackers[id]
	h.mu.Unlock()
	if ok {
		return e, nil
	}
	wf, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status.IsTerminal() {
		return nil, nil
	}
	claimed, ok, err := h.store.Claim(ctx, id, h.Lease())
	if err != nil {
		return nil, err
	}
	if !ok {
		return &entry{tracker: newTracker(wf, h.now)}, nil
	}
	h.Track(claimed)
	h.mu.Lock()
	e, ok = h.trackers[id]
	h.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (h *Hub) apply(ctx context.Context, e *entry, u Update) Outcome {
	outcome := e.tracker.Apply(u)
	if outcome != OutcomeApplied {
		h.discarded(ctx, u, outcome)
		return outcome
	}
	snap := e.tracker.Snapshot()
	h.metrics.Transition(ctx, string(u.Source), string(snap.Status))
	h.logger.Debug().
		Str("workflow_id", snap.ID).
		Str("source", string(u.Source)).
		Str("step", u.StepName).
		Str("status", string(snap.Status)).
		Msg("workflow transition")
	h.persist(ctx, snap)
	if snap.Status.IsTerminal() {
		h.forget(snap.ID)
		h.logger.Info().Str("workflow_id", snap.ID).Str("status", string(snap.Status)).Msg("workflow finished")
	}
	return outcome
}

func (h *Hub) discarded(ctx context.Context, u Update, outcome Outcome) {
	h.metrics.Discarded(ctx, string(u.Source), outcome.String())
	h.logger.Debug().
		Str("workflow_id", u.WorkflowID).
		Str("source", string(u.Source)).
		Str("status", string(u.Status)).
		Str("outcome", outcome.String()).
		Msg("update discarded")
}

func (h *Hub) persist(ctx context.Context, wf domain.Workflow) {
	if err := h.store.Update(context.WithoutCancel(ctx), wf); err != nil {
		h.logger.Error().Err(err).Str("workflow_id", wf.ID).Msg("persist workflow")
	}
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.trackers, id)
	h.mu.Unlock()
}

func (h *Hub) trackedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.trackers))
	for id := range h.trackers {
		ids = append(ids, id)
	}
	return ids
}

// heartbeat renews the leases of tracked workflows three times per TTL.
func (h *Hub) heartbeat() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.renew(h.ctx)
		}
	}
}

// renew extends this hub's leases and stops tracking any workflow whose lease
// moved to another hub.
func (h *Hub) renew(ctx context.Context) {
	ids := h.trackedIDs()
	if len(ids) == 0 {
		return
	}
	held, err := h.store.Renew(ctx, h.Lease(), ids)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn().Err(err).Int("count", len(ids)).Msg("renew workflow leases")
		}
		return
	}
	keep := make(map[string]struct{}, len(held))
	for _, id := range held {
		keep[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			h.drop(ctx, id)
		}
	}
}

// drop stops observing id without persisting. The tracker catches up with the
// stored row first so waiters see the latest state.
func (h *Hub) drop(ctx context.Context, id string) {
	h.mu.Lock()
	e, ok := h.trackers[id]
	if ok {
		delete(h.trackers, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(e.stop)
	if wf, err := h.store.Get(ctx, id); err == nil {
		e.tracker.Apply(Update{WorkflowID: id, Status: wf.Status, Detail: wf.Detail, Steps: wf.Steps, Source: SourcePoll})
	}
	h.logger.Info().Str("workflow_id", id).Msg("workflow lease lost; stopped tracking")
}

func (h *Hub) nudge(e *entry) {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.PollInterval
	b.MaxInterval = h.cfg.PollMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// poll is the fallback channel. It backs off while nothing changes, restarts the
// schedule whenever a push arrives, and expires the workflow locally at MaxAge.
func (h *Hub) poll(e *entry) {
	defer h.wg.Done()
	t := e.tracker
	b := h.newBackOff()
	deadline := t.deadline(h.cfg.MaxAge)

	timer := time.NewTimer(h.nextWait(b, deadline))
	defer timer.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-e.stop:
			return
		case <-t.Done():
			return
		case <-e.wake:
			b.Reset()
			resetTimer(timer, h.nextWait(b, deadline))
		case <-timer.C:
			if t.expired(h.cfg.MaxAge) {
				h.expire(e)
				return
			}
			h.pollOnce(e)
			resetTimer(timer, h.nextWait(b, deadline))
		}
	}
}

func (h *Hub) pollOnce(e *entry) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.PollTimeout)
	defer cancel()
	wf, err := h.client.GetWorkflow(ctx, e.tracker.ID())
	if err != nil {
		if h.ctx.Err() == nil {
			h.logger.Warn().Err(err).Str("workflow_id", e.tracker.ID()).Msg("poll workflow")
		}
		return
	}
	h.apply(ctx, e, Update{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		Detail:     wf.Detail,
		Steps:      wf.Steps,
		Source:     SourcePoll,
	})
}

func (h *Hub) expire(e *entry) {
	id := e.tracker.ID()
	h.apply(h.ctx, e, Update{
		WorkflowID: id,
		Status:     domain.StatusExpired,
		Detail:     fmt.Sprintf("not finished within %s", h.cfg.MaxAge),
		Source:     SourceLocal,
	})
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.PollTimeout)
	defer cancel()
	if err := h.client.CancelWorkflow(ctx, id); err != nil {
		h.logger.Debug().Err(err).Str("workflow_id", id).Msg("cancel expired workflow")
	}
}

func (h *Hub) nextWait(b *backoff.ExponentialBackOff, deadline time.Time) time.Duration {
	wait := b.NextBackOff()
	if wait == backoff.Stop {
		wait = h.cfg.PollMaxInterval
	}
	if !deadline.IsZero() {
		if until := deadline.Sub(h.now()); until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

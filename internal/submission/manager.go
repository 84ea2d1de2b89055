package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"orchestrator/internal/domain"
	"orchestrator/internal/metrics"
	"orchestrator/internal/provider"
	"orchestrator/internal/steps"
)

var idempotencyNamespace = uuid.MustParse("3a85afcd-f52e-454d-823c-3700d8c13c60")

// IdempotencyKey derives a stable key from the requester and the request content.
func IdempotencyKey(requesterID, contentHash string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(requesterID+"\x00"+contentHash)).String()
}

// Submission is everything sent to the provider for one workflow.
type Submission struct {
	Templates      []steps.Template
	Priority       domain.PriorityLevel
	Callbacks      []string
	IdempotencyKey string
	RequesterID    string
	Tags           []string
}

// Config controls retries of provider-unavailable failures.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 20 * time.Second,
	}
}

// Manager submits workflows. Submissions sharing an idempotency key reach the
// provider at most once while the key is remembered.
type Manager struct {
	client  provider.Client
	keys    domain.IdempotencyRepository
	cfg     Config
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager accepts a nil keys repository, in which case only concurrent
// duplicates are collapsed.
func NewManager(client provider.Client, keys domain.IdempotencyRepository, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	m := &Manager{client: client, keys: keys, cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit returns the accepted workflow in status unassigned, or the workflow
// previously accepted under the same idempotency key.
func (m *Manager) Submit(ctx context.Context, sub Submission) (domain.Workflow, error) {
	if len(sub.Templates) == 0 {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionRejectedInput, Err: errors.New("no step templates")}
	}
	if sub.IdempotencyKey == "" {
		return m.submit(ctx, sub)
	}
	v, err, _ := m.group.Do(sub.IdempotencyKey, func() (any, error) {
		if wf, ok := m.lookup(ctx, sub.IdempotencyKey); ok {
			return wf, nil
		}
		wf, err := m.submit(ctx, sub)
		if err != nil {
			return nil, err
		}
		if m.keys != nil {
			if err := m.keys.Remember(ctx, sub.IdempotencyKey, wf.ID); err != nil {
				m.logger.Warn().Err(err).Str("workflow_id", wf.ID).Msg("remember idempotency key failed")
			}
		}
		return wf, nil
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return v.(domain.Workflow).Clone(), nil
}

func (m *Manager) lookup(ctx context.Context, key string) (domain.Workflow, bool) {
	if m.keys == nil {
		return domain.Workflow{}, false
	}
	id, ok, err := m.keys.Lookup(ctx, key)
	if err != nil {
		m.logger.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency lookup failed")
		return domain.Workflow{}, false
	}
	if !ok {
		return domain.Workflow{}, false
	}
	m.metrics.Submission(ctx, "deduplicated")
	wf, err := m.client.GetWorkflow(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("workflow_id", id).Msg("reused workflow not readable from provider")
		return domain.Workflow{ID: id, Status: domain.StatusUnassigned, IdempotencyKey: key}, true
	}
	wf.IdempotencyKey = key
	return wf, true
}

func (m *Manager) submit(ctx context.Context, sub Submission) (domain.Workflow, error) {
	req := provider.SubmitRequest{
		Steps:          sub.Templates,
		Priority:       sub.Priority,
		IdempotencyKey: sub.IdempotencyKey,
		Tags:           sub.Tags,
	}
	for _, url := range sub.Callbacks {
		req.Callbacks = append(req.Callbacks, provider.Callback{URL: url, Types: provider.DefaultCallbackTypes})
	}
	if sub.RequesterID != "" {
		req.Metadata = map[string]string{"requesterId": sub.RequesterID}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.cfg.BaseDelay
	exp.Multiplier = m.cfg.Multiplier
	exp.MaxInterval = m.cfg.MaxDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(m.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	op := func() (domain.Workflow, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
		wf, err := m.client.SubmitWorkflow(attemptCtx, req)
		if err == nil {
			return wf, nil
		}
		if ctx.Err() != nil {
			return wf, backoff.Permanent(ctx.Err())
		}
		subErr := classify(err)
		if !subErr.Retryable() {
			return wf, backoff.Permanent(subErr)
		}
		return wf, subErr
	}
	notify := func(err error, wait time.Duration) {
		m.metrics.Retry(ctx)
		m.logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("provider unavailable, retrying submission")
	}

	wf, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		var subErr *domain.SubmissionError
		if !errors.As(err, &subErr) {
			// parent context ended between attempts
			subErr = &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: err}
		}
		subErr.Attempts = attempts
		if subErr.Kind == domain.SubmissionRejectedInput {
			m.metrics.Submission(ctx, "rejected")
			m.logger.Error().Err(subErr).Int("status", subErr.StatusCode).Msg("provider rejected input that passed local validation")
		} else {
			m.metrics.Submission(ctx, "unavailable")
			m.logger.Error().Err(subErr).Int("attempts", attempts).Msg("provider unavailable, giving up")
		}
		return domain.Workflow{}, subErr
	}

	m.metrics.Submission(ctx, "accepted")
	if wf.Status == "" {
		wf.Status = domain.StatusUnassigned
	}
	wf.Priority = sub.Priority
	wf.RequesterID = sub.RequesterID
	wf.IdempotencyKey = sub.IdempotencyKey
	m.logger.Info().Str("workflow_id", wf.ID).Int("attempts", attempts).Str("priority", sub.Priority.String()).Msg("workflow submitted")
	return wf, nil
}

// classify maps any client failure onto a SubmissionError. Timeouts and unknown
// transport failures are treated as transient.
func classify(err error) *domain.SubmissionError {
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		if errors.Is(subErr.Err, context.DeadlineExceeded) {
			return &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, StatusCode: subErr.StatusCode, Err: subErr.Err}
		}
		return subErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: fmt.Errorf("attempt timed out: %w", err)}
	}
	return &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: err}
}

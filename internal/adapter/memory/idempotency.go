package memory

import (
	"context"
	"sync"
	"time"

	"orchestrator/internal/domain"
)

type idemEntry struct {
	workflowID string
	expiresAt  time.Time
}

// IdempotencyRepository expires keys after ttl, first writer wins.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]idemEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewIdempotencyRepository(ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{keys: map[string]idemEntry{}, ttl: ttl, now: time.Now}
}

func (r *IdempotencyRepository) WithClock(now func() time.Time) *IdempotencyRepository {
	r.now = now
	return r
}

func (r *IdempotencyRepository) Lookup(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.keys[key]
	if !ok || !r.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.workflowID, true, nil
}

func (r *IdempotencyRepository) Remember(_ context.Context, key, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if e, ok := r.keys[key]; ok && now.Before(e.expiresAt) {
		return nil
	}
	r.keys[key] = idemEntry{workflowID: workflowID, expiresAt: now.Add(r.ttl)}
	return nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)

// Package memory holds in-process repositories for tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orchestrator/internal/domain"
)

type lease struct {
	owner string
	until time.Time
}

// WorkflowRepository mirrors the PostgreSQL repository's forward-only and lease
// rules.
type WorkflowRepository struct {
	mu     sync.Mutex
	rows   map[string]domain.Workflow
	leases map[string]lease
	now    func() time.Time
}

func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		rows:   map[string]domain.Workflow{},
		leases: map[string]lease{},
		now:    time.Now,
	}
}

// WithClock replaces the clock used for leases.
func (r *WorkflowRepository) WithClock(now func() time.Time) *WorkflowRepository {
	r.now = now
	return r
}

func (r *WorkflowRepository) Create(_ context.Context, wf domain.Workflow, l domain.Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[wf.ID]; ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrDuplicateOperation)
	}
	r.rows[wf.ID] = wf.Clone()
	r.leases[wf.ID] = lease{owner: l.Owner, until: r.now().Add(l.TTL)}
	return nil
}

func (r *WorkflowRepository) Update(_ context.Context, wf domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[wf.ID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrNotFound)
	}
	stored, next := cur.Status.Rank(), wf.Status.Rank()
	if next < stored || (next == stored && cur.Status.IsTerminal()) {
		return nil
	}
	row := wf.Clone()
	row.Priority = cur.Priority
	row.RequesterID = cur.RequesterID
	row.IdempotencyKey = cur.IdempotencyKey
	row.CreatedAt = cur.CreatedAt
	row.CancelRequested = cur.CancelRequested || wf.CancelRequested
	r.rows[wf.ID] = row
	return nil
}

func (r *WorkflowRepository) Get(_ context.Context, id string) (domain.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.rows[id]
	if !ok {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return wf.Clone(), nil
}

func (r *WorkflowRepository) Claim(_ context.Context, id string, l domain.Lease) (domain.Workflow, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.rows[id]
	if !ok {
		return domain.Workflow{}, false, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	now := r.now()
	if !wf.Status.IsPollable() {
		return domain.Workflow{}, false, nil
	}
	if cur := r.leases[id]; cur.owner != l.Owner && r.heldLocked(id, now) {
		return domain.Workflow{}, false, nil
	}
	r.leases[id] = lease{owner: l.Owner, until: now.Add(l.TTL)}
	return wf.Clone(), true, nil
}

func (r *WorkflowRepository) ClaimStale(_ context.Context, l domain.Lease, limit int) ([]domain.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := r.pollableLocked(limit, func(wf domain.Workflow) bool {
		return !r.heldLocked(wf.ID, now)
	})
	for _, wf := range out {
		r.leases[wf.ID] = lease{owner: l.Owner, until: now.Add(l.TTL)}
	}
	return out, nil
}

func (r *WorkflowRepository) Renew(_ context.Context, l domain.Lease, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var held []string
	for _, id := range ids {
		wf, ok := r.rows[id]
		if !ok || !wf.Status.IsPollable() || r.leases[id].owner != l.Owner || l.Owner == "" {
			continue
		}
		r.leases[id] = lease{owner: l.Owner, until: now.Add(l.TTL)}
		held = append(held, id)
	}
	return held, nil
}

// Holder reports who holds the lease on id, if it has not lapsed.
func (r *WorkflowRepository) Holder(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.heldLocked(id, r.now()) {
		return "", false
	}
	return r.leases[id].owner, true
}

// heldLocked reports whether a live owner holds id at now.
func (r *WorkflowRepository) heldLocked(id string, now time.Time) bool {
	cur, ok := r.leases[id]
	return ok && cur.owner != "" && cur.until.After(now)
}

func (r *WorkflowRepository) pollableLocked(limit int, keep func(domain.Workflow) bool) []domain.Workflow {
	var out []domain.Workflow
	for _, wf := range r.rows {
		if wf.Status.IsPollable() && keep(wf) {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ domain.WorkflowRepository = (*WorkflowRepository)(nil)

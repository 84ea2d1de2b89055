package domain

import (
	"context"
	"time"
)

// Lease marks which hub observes a workflow. A hub keeps its leases alive while it
// tracks them; a lapsed lease may be claimed by any hub.
type Lease struct {
	Owner string
	TTL   time.Duration
}

// WorkflowRepository persists what is needed to resume observing workflows.
type WorkflowRepository interface {
	// Create stores an accepted workflow leased to lease.Owner. An empty owner
	// leaves it immediately claimable.
	Create(ctx context.Context, wf Workflow, lease Lease) error
	// Update stores wf unless the stored status is already further along. It never
	// changes the lease, and a recorded cancel request is never cleared.
	Update(ctx context.Context, wf Workflow) error
	Get(ctx context.Context, id string) (Workflow, error)
	// Claim leases one pollable workflow if its lease lapsed or lease.Owner already
	// holds it. It reports false when another live owner holds it or the workflow
	// is terminal.
	Claim(ctx context.Context, id string, lease Lease) (Workflow, bool, error)
	// ClaimStale leases up to limit pollable workflows whose lease lapsed.
	ClaimStale(ctx context.Context, lease Lease, limit int) ([]Workflow, error)
	// Renew extends the leases lease.Owner still holds among ids and returns those
	// ids. A zero TTL releases them.
	Renew(ctx context.Context, lease Lease, ids []string) ([]string, error)
}

// IdempotencyRepository maps idempotency keys to accepted workflow ids.
type IdempotencyRepository interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, workflowID string) error
}

// ResourceRepository is the model catalog collaborator.
type ResourceRepository interface {
	GetResource(ctx context.Context, id string) (ResourceRef, error)
}

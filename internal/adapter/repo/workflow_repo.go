package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/sqlinline"
)

// WorkflowRepositoryPG implements domain.WorkflowRepository on PostgreSQL.
type WorkflowRepositoryPG struct {
	exec infra.SQLExecutor
}

// NewWorkflowRepository creates a workflow repository backed by PostgreSQL.
func NewWorkflowRepository(exec infra.SQLExecutor) *WorkflowRepositoryPG {
	return &WorkflowRepositoryPG{exec: exec}
}

// Create inserts the accepted workflow leased to lease.Owner. Re-inserting the same
// id fails with domain.ErrDuplicateOperation so callers can fall back to the
// stored record.
func (r *WorkflowRepositoryPG) Create(ctx context.Context, wf domain.Workflow, lease domain.Lease) error {
	steps, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	tag, err := r.exec.Exec(ctx, sqlinline.QWorkflowInsert,
		wf.ID,
		string(wf.Status),
		wf.Status.Rank(),
		int(wf.Priority),
		wf.RequesterID,
		wf.IdempotencyKey,
		wf.Detail,
		wf.CancelRequested,
		steps,
		wf.CreatedAt,
		wf.UpdatedAt,
		lease.Owner,
		lease.TTL.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", wf.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrDuplicateOperation)
	}
	return nil
}

// Update advances the stored row. A row that is already further along is left
// untouched and no error is returned.
func (r *WorkflowRepositoryPG) Update(ctx context.Context, wf domain.Workflow) error {
	steps, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	tag, err := r.exec.Exec(ctx, sqlinline.QWorkflowAdvance,
		wf.ID,
		string(wf.Status),
		wf.Status.Rank(),
		wf.Detail,
		wf.CancelRequested,
		steps,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", wf.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.exec.QueryRow(ctx, sqlinline.QWorkflowExists, wf.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check workflow %s: %w", wf.ID, err)
	}
	if !exists {
		return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrNotFound)
	}
	return nil
}

// Get fetches a workflow by its provider id.
func (r *WorkflowRepositoryPG) Get(ctx context.Context, id string) (domain.Workflow, error) {
	wf, err := scanWorkflow(r.exec.QueryRow(ctx, sqlinline.QWorkflowGet, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
		}
		return domain.Workflow{}, err
	}
	return wf, nil
}

// Claim leases id to lease.Owner unless another owner still holds it.
func (r *WorkflowRepositoryPG) Claim(ctx context.Context, id string, lease domain.Lease) (domain.Workflow, bool, error) {
	wf, err := scanWorkflow(r.exec.QueryRow(ctx, sqlinline.QWorkflowClaim, id, lease.Owner, lease.TTL.Seconds()))
	if err == nil {
		return wf, true, nil
	}
	if !infra.IsNoRows(err) {
		return domain.Workflow{}, false, fmt.Errorf("claim workflow %s: %w", id, err)
	}
	var exists bool
	if err := r.exec.QueryRow(ctx, sqlinline.QWorkflowExists, id).Scan(&exists); err != nil {
		return domain.Workflow{}, false, fmt.Errorf("check workflow %s: %w", id, err)
	}
	if !exists {
		return domain.Workflow{}, false, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return domain.Workflow{}, false, nil
}

// ClaimStale leases up to limit pollable workflows whose lease lapsed, least
// recently updated first. Concurrent claimers skip each other's rows.
func (r *WorkflowRepositoryPG) ClaimStale(ctx context.Context, lease domain.Lease, limit int) ([]domain.Workflow, error) {
	rows, err := r.exec.Query(ctx, sqlinline.QWorkflowClaimStale, lease.Owner, lease.TTL.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale workflows: %w", err)
	}
	return collectWorkflows(rows)
}

// Renew extends the leases lease.Owner still holds among ids.
func (r *WorkflowRepositoryPG) Renew(ctx context.Context, lease domain.Lease, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.exec.Query(ctx, sqlinline.QWorkflowRenewLeases, lease.Owner, ids, lease.TTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("renew workflow leases: %w", err)
	}
	held, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("renew workflow leases: %w", err)
	}
	return held, nil
}

func collectWorkflows(rows pgx.Rows) ([]domain.Workflow, error) {
	defer rows.Close()
	var out []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (domain.Workflow, error) {
	var (
		wf       domain.Workflow
		status   string
		priority int
		steps    []byte
	)
	if err := row.Scan(
		&wf.ID,
		&status,
		&priority,
		&wf.RequesterID,
		&wf.IdempotencyKey,
		&wf.Detail,
		&wf.CancelRequested,
		&steps,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	); err != nil {
		return domain.Workflow{}, err
	}
	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	wf.Status = parsed
	wf.Priority = domain.PriorityLevel(priority)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &wf.Steps); err != nil {
			return domain.Workflow{}, fmt.Errorf("decode steps of %s: %w", wf.ID, err)
		}
	}
	return wf, nil
}

func encodeSteps(steps []domain.Step) ([]byte, error) {
	if steps == nil {
		steps = []domain.Step{}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}
	return raw, nil
}

var _ domain.WorkflowRepository = (*WorkflowRepositoryPG)(nil)

package sqlinline

const QWorkflowInsert = `--sql e1b1caed-8a80-4783-9fec-2161715182b4
insert into orchestrator_workflows (
    id, status, status_rank, priority, requester_id, idempotency_key,
    detail, cancel_requested, steps, created_at, updated_at,
    lease_owner, lease_until
) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now() + make_interval(secs => $13))
on conflict (id) do nothing;
`

// QWorkflowAdvance never moves a row backwards and never rewrites a terminal row.
// The lease and a recorded cancel request are left alone.
const QWorkflowAdvance = `--sql 800c149e-470d-4e8c-b6a0-8e7063cae270
update orchestrator_workflows
set status = $2,
    status_rank = $3,
    detail = $4,
    cancel_requested = cancel_requested or $5,
    steps = $6,
    updated_at = $7
where id = $1
  and (status_rank < $3 or (status_rank = $3 and status_rank < 4));
`

const QWorkflowExists = `--sql 89b5c7af-09b1-4131-b10c-881a7c6f8b4d
select exists(select 1 from orchestrator_workflows where id = $1);
`

const QWorkflowGet = `--sql 64b49550-709e-4cdf-8ba7-89ada1540755
select id, status, priority, requester_id, idempotency_key, detail,
       cancel_requested, steps, created_at, updated_at
from orchestrator_workflows
where id = $1;
`

// QWorkflowClaim takes one live workflow when its lease lapsed or $2 already holds it.
const QWorkflowClaim = `--sql 421c5551-4967-4673-b3ce-4b03b2e56d71
update orchestrator_workflows
set lease_owner = $2,
    lease_until = now() + make_interval(secs => $3)
where id = $1
  and status_rank < 4
  and (lease_owner = $2 or lease_until is null or lease_until <= now())
returning id, status, priority, requester_id, idempotency_key, detail,
          cancel_requested, steps, created_at, updated_at;
`

const QWorkflowClaimStale = `--sql a3ac7dc7-14d9-42e2-967e-5986ca49c8ef
with stale as (
    select id
    from orchestrator_workflows
    where status_rank < 4
      and (lease_until is null or lease_until <= now())
    order by updated_at asc
    limit $3
    for update skip locked
)
update orchestrator_workflows w
set lease_owner = $1,
    lease_until = now() + make_interval(secs => $2)
from stale
where w.id = stale.id
returning w.id, w.status, w.priority, w.requester_id, w.idempotency_key, w.detail,
          w.cancel_requested, w.steps, w.created_at, w.updated_at;
`

// QWorkflowRenewLeases extends only the leases $1 still holds. A zero interval
// releases them.
const QWorkflowRenewLeases = `--sql e98a19a5-d57b-47f0-9644-f7636ac2cd81
update orchestrator_workflows
set lease_until = now() + make_interval(secs => $3)
where lease_owner = $1
  and id = any($2)
  and status_rank < 4
returning id;
`

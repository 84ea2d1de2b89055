package sqlinline

const QIdempotencyLookup = `--sql 1381d61c-e527-4315-ba3f-1442ed7bbf14
select workflow_id
from orchestrator_idempotency
where key = $1 and expires_at > now();
`

const QIdempotencyRemember = `--sql b59499a4-b9c3-4092-898a-4ab500a189be
insert into orchestrator_idempotency (key, workflow_id, expires_at)
values ($1, $2, now() + make_interval(secs => $3))
on conflict (key) do update
set workflow_id = excluded.workflow_id, expires_at = excluded.expires_at
where orchestrator_idempotency.expires_at <= now();
`

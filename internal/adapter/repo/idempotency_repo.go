package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/sqlinline"
)

// IdempotencyRepositoryPG keeps idempotency keys in PostgreSQL until they expire.
type IdempotencyRepositoryPG struct {
	exec infra.SQLExecutor
	ttl  time.Duration
}

func NewIdempotencyRepository(exec infra.SQLExecutor, ttl time.Duration) *IdempotencyRepositoryPG {
	return &IdempotencyRepositoryPG{exec: exec, ttl: ttl}
}

func (r *IdempotencyRepositoryPG) Lookup(ctx context.Context, key string) (string, bool, error) {
	var id string
	if err := r.exec.QueryRow(ctx, sqlinline.QIdempotencyLookup, key).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return id, true, nil
}

// Remember stores key only when no live mapping exists; the first writer wins.
func (r *IdempotencyRepositoryPG) Remember(ctx context.Context, key, workflowID string) error {
	if _, err := r.exec.Exec(ctx, sqlinline.QIdempotencyRemember, key, workflowID, r.ttl.Seconds()); err != nil {
		return fmt.Errorf("remember idempotency key: %w", err)
	}
	return nil
}

const idempotencyPrefix = "orchestrator:idem:"

// IdempotencyRepositoryRedis keeps idempotency keys in Redis with a TTL. It lets
// several API instances share one window without touching PostgreSQL.
type IdempotencyRepositoryRedis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyRepository(client *redis.Client, ttl time.Duration) *IdempotencyRepositoryRedis {
	return &IdempotencyRepositoryRedis{client: client, ttl: ttl}
}

func (r *IdempotencyRepositoryRedis) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := r.client.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return id, true, nil
}

func (r *IdempotencyRepositoryRedis) Remember(ctx context.Context, key, workflowID string) error {
	if err := r.client.SetNX(ctx, idempotencyPrefix+key, workflowID, r.ttl).Err(); err != nil {
		return fmt.Errorf("remember idempotency key: %w", err)
	}
	return nil
}

var (
	_ domain.IdempotencyRepository = (*IdempotencyRepositoryPG)(nil)
	_ domain.IdempotencyRepository = (*IdempotencyRepositoryRedis)(nil)
)

// Package enginestate shares runtime engine overrides between instances and
// applies them to the published catalog.
package enginestate

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"

	"orchestrator/internal/catalog"
)

const (
	redisKey     = "orchestrator:engines:disabled"
	redisChannel = "orchestrator:engines:changed"
)

// Store persists engine overrides. Watch delivers a signal whenever another
// writer changes them; the channel closes when ctx ends.
type Store interface {
	Load(ctx context.Context) (map[string]bool, error)
	Set(ctx context.Context, engine string, disabled bool) error
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// RedisStore keeps overrides in one hash and announces writes on a channel.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]bool, error) {
	raw, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load engine states: %w", err)
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			continue
		}
		out[catalog.NormalizeKey(k)] = disabled
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, engine string, disabled bool) error {
	engine = catalog.NormalizeKey(engine)
	if err := s.client.HSet(ctx, redisKey, engine, strconv.FormatBool(disabled)).Err(); err != nil {
		return fmt.Errorf("set engine state: %w", err)
	}
	if err := s.client.Publish(ctx, redisChannel, engine).Err(); err != nil {
		return fmt.Errorf("announce engine state: %w", err)
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	sub := s.client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe engine states: %w", err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]bool
	watchers []chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]bool{}}
}

func (s *MemoryStore) Load(context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, engine string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[catalog.NormalizeKey(engine)] = disabled
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

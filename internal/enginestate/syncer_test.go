package enginestate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
)

func newHolder(t *testing.T) *catalog.Holder {
	t.Helper()
	gen, err := catalog.DefaultFile().Build()
	require.NoError(t, err)
	return catalog.NewHolder(gen)
}

func disabled(h *catalog.Holder, key string) bool {
	e, _ := h.Current().Engine(key)
	return e.Disabled
}

func TestSetDisabledPublishesGeneration(t *testing.T) {
	ctx := context.Background()
	holder := newHolder(t)
	s := NewSyncer(holder, NewMemoryStore(), time.Hour, zerolog.Nop())

	require.NoError(t, s.SetDisabled(ctx, "Kling", true))
	assert.True(t, disabled(holder, "kling"))

	require.NoError(t, s.SetDisabled(ctx, "kling", false))
	assert.False(t, disabled(holder, "kling"))

	err := s.SetDisabled(ctx, "ghost", true)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunFollowsOtherWriters(t *testing.T) {
	store := NewMemoryStore()
	holder := newHolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		NewSyncer(holder, store, time.Hour, zerolog.Nop()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_ = store.Set(context.Background(), "wan", true)
		return disabled(holder, "wan")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	holder := newHolder(t)
	require.NoError(t, store.Set(ctx, "haiper", true))

	s := NewSyncer(holder, store, time.Hour, zerolog.Nop())
	require.NoError(t, s.Refresh(ctx))
	version := holder.Current().Version
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, version, holder.Current().Version)
	assert.True(t, disabled(holder, "haiper"))
}

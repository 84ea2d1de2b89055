package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/domain"
)

func TestWorkflowRepositoryIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository()
	wf := domain.Workflow{ID: "wf-1", Status: domain.StatusUnassigned, Priority: domain.PriorityHigh}
	require.NoError(t, repo.Create(ctx, wf, domain.Lease{}))
	assert.True(t, errors.Is(repo.Create(ctx, wf, domain.Lease{}), domain.ErrDuplicateOperation))

	wf.Status = domain.StatusProcessing
	wf.Priority = domain.PriorityLow
	require.NoError(t, repo.Update(ctx, wf))
	wf.Status = domain.StatusScheduled
	require.NoError(t, repo.Update(ctx, wf))

	got, err := repo.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, domain.PriorityHigh, got.Priority, "submission fields are immutable")

	wf.Status = domain.StatusFailed
	require.NoError(t, repo.Update(ctx, wf))
	wf.Status = domain.StatusSucceeded
	require.NoError(t, repo.Update(ctx, wf))
	got, _ = repo.Get(ctx, "wf-1")
	assert.Equal(t, domain.StatusFailed, got.Status)

	assert.True(t, errors.Is(repo.Update(ctx, domain.Workflow{ID: "nope", Status: domain.StatusFailed}), domain.ErrNotFound))
}

func TestLeasesKeepOneOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewWorkflowRepository().WithClock(func() time.Time { return now })
	api := domain.Lease{Owner: "api", TTL: time.Minute}
	worker := domain.Lease{Owner: "worker", TTL: time.Minute}

	require.NoError(t, repo.Create(ctx, domain.Workflow{ID: "live", Status: domain.StatusProcessing, UpdatedAt: now.Add(-time.Hour)}, api))
	require.NoError(t, repo.Create(ctx, domain.Workflow{ID: "orphan", Status: domain.StatusScheduled, UpdatedAt: now.Add(-time.Hour)}, domain.Lease{}))
	require.NoError(t, repo.Create(ctx, domain.Workflow{ID: "done", Status: domain.StatusSucceeded}, domain.Lease{}))

	claimed, err := repo.ClaimStale(ctx, worker, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "a held lease is not stale however old the row is")
	assert.Equal(t, "orphan", claimed[0].ID)

	// The owner keeps renewing while the job sits in processing.
	for i := 0; i < 5; i++ {
		now = now.Add(40 * time.Second)
		held, err := repo.Renew(ctx, api, []string{"live", "orphan"})
		require.NoError(t, err)
		assert.Equal(t, []string{"live"}, held)
		_, err = repo.Renew(ctx, worker, []string{"orphan"})
		require.NoError(t, err)
	}
	claimed, err = repo.ClaimStale(ctx, worker, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	_, ok, err := repo.Claim(ctx, "live", worker)
	require.NoError(t, err)
	assert.False(t, ok)

	// Updates do not drop the lease.
	require.NoError(t, repo.Update(ctx, domain.Workflow{ID: "live", Status: domain.StatusProcessing, CancelRequested: true}))
	owner, held := repo.Holder("live")
	assert.True(t, held)
	assert.Equal(t, "api", owner)

	// Once the owner stops renewing, the lease lapses and moves.
	now = now.Add(2 * time.Minute)
	wf, ok, err := repo.Claim(ctx, "live", worker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wf.CancelRequested)
	held2, err := repo.Renew(ctx, api, []string{"live"})
	require.NoError(t, err)
	assert.Empty(t, held2, "the previous owner lost it")

	_, ok, err = repo.Claim(ctx, "done", worker)
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, err = repo.Claim(ctx, "nope", worker)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRenewWithZeroTTLReleases(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewWorkflowRepository().WithClock(func() time.Time { return now })
	require.NoError(t, repo.Create(ctx, domain.Workflow{ID: "wf", Status: domain.StatusScheduled}, domain.Lease{Owner: "api", TTL: time.Hour}))

	_, err := repo.Renew(ctx, domain.Lease{Owner: "api"}, []string{"wf"})
	require.NoError(t, err)
	claimed, err := repo.ClaimStale(ctx, domain.Lease{Owner: "next", TTL: time.Minute}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestIdempotencyExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewIdempotencyRepository(time.Minute).WithClock(func() time.Time { return now })

	require.NoError(t, repo.Remember(ctx, "k", "wf-1"))
	require.NoError(t, repo.Remember(ctx, "k", "wf-2"))
	id, ok, _ := repo.Lookup(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "wf-1", id)

	now = now.Add(time.Minute)
	_, ok, _ = repo.Lookup(ctx, "k")
	assert.False(t, ok)
}

func TestResources(t *testing.T) {
	res := Resources{"1": {ID: "1", EcosystemKey: "sdxl"}}
	ref, err := res.GetResource(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "sdxl", ref.EcosystemKey)
	_, err = res.GetResource(context.Background(), "2")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

package resources

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/adapter/memory"
	"orchestrator/internal/domain"
)

func TestResolveAllKeepsOrder(t *testing.T) {
	repo := memory.Resources{
		"1": {ID: "1", EcosystemKey: "sdxl"},
		"2": {ID: "2", EcosystemKey: "pony", NSFW: true},
	}
	got, err := ResolveAll(context.Background(), repo, []Binding{{ID: "2", Strength: 0.8}, {ID: "1", Role: "lora"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pony", got[0].Ref.EcosystemKey)
	assert.Equal(t, 0.8, got[0].Strength)
	assert.Equal(t, "lora", got[1].Role)
}

func TestResolveAllReportsUnknownIDs(t *testing.T) {
	repo := memory.Resources{"1": {ID: "1", EcosystemKey: "sdxl"}}
	_, err := ResolveAll(context.Background(), repo, []Binding{{ID: "1"}, {ID: "9"}, {ID: " "}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("resources[2].id"))

	_, err = ResolveAll(context.Background(), repo, []Binding{{ID: "1"}, {ID: "9"}})
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("resources[1].id"))
}

type failingRepo struct{ calls atomic.Int32 }

func (f *failingRepo) GetResource(ctx context.Context, id string) (domain.ResourceRef, error) {
	f.calls.Add(1)
	return domain.ResourceRef{}, errors.New("connection refused")
}

func TestResolveAllAbortsOnLookupFailure(t *testing.T) {
	_, err := ResolveAll(context.Background(), &failingRepo{}, []Binding{{ID: "1"}})
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestResolveAllEmpty(t *testing.T) {
	got, err := ResolveAll(context.Background(), memory.Resources{}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

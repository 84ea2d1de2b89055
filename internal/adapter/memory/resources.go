package memory

import (
	"context"
	"fmt"

	"orchestrator/internal/domain"
)

// Resources is a fixed model catalog keyed by resource id.
type Resources map[string]domain.ResourceRef

func (r Resources) GetResource(_ context.Context, id string) (domain.ResourceRef, error) {
	ref, ok := r[id]
	if !ok {
		return domain.ResourceRef{}, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
	}
	return ref, nil
}

var _ domain.ResourceRepository = Resources(nil)

package repo

import (
	"context"
	"fmt"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/sqlinline"
)

// ResourceRepositoryPG reads model versions from the shared model catalog.
type ResourceRepositoryPG struct {
	exec infra.SQLExecutor
}

func NewResourceRepository(exec infra.SQLExecutor) *ResourceRepositoryPG {
	return &ResourceRepositoryPG{exec: exec}
}

func (r *ResourceRepositoryPG) GetResource(ctx context.Context, id string) (domain.ResourceRef, error) {
	var ref domain.ResourceRef
	err := r.exec.QueryRow(ctx, sqlinline.QResourceGet, id).Scan(&ref.ID, &ref.EcosystemKey, &ref.ModelType, &ref.NSFW)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ResourceRef{}, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
		}
		return domain.ResourceRef{}, fmt.Errorf("get resource %s: %w", id, err)
	}
	return ref, nil
}

var _ domain.ResourceRepository = (*ResourceRepositoryPG)(nil)

// Package resources turns the resource ids named in a request into catalog
// snapshots before compatibility checks run.
package resources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"orchestrator/internal/domain"
)

const maxConcurrentLookups = 8

// Binding is a resource as named by a caller: an id plus its per-request weight.
type Binding struct {
	ID       string  `json:"id"`
	Strength float64 `json:"strength,omitempty"`
	Role     string  `json:"role,omitempty"`
}

// ResolveAll looks up every binding and keeps the request order. Unknown ids are
// reported together as a *domain.ValidationError; any other lookup failure aborts.
func ResolveAll(ctx context.Context, repo domain.ResourceRepository, bindings []Binding) ([]domain.ResourceInput, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	out := make([]domain.ResourceInput, len(bindings))
	missing := make([]bool, len(bindings))
	verr := &domain.ValidationError{}
	for i, b := range bindings {
		if strings.TrimSpace(b.ID) == "" {
			verr.Add(fmt.Sprintf("resources[%d].id", i), "is required")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, b := range bindings {
		i, b := i, b
		g.Go(func() error {
			ref, err := repo.GetResource(gctx, strings.TrimSpace(b.ID))
			if errors.Is(err, domain.ErrNotFound) {
				missing[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = domain.ResourceInput{Ref: ref, Strength: b.Strength, Role: b.Role}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve resources: %w", err)
	}
	for i, gone := range missing {
		if gone {
			verr.Add(fmt.Sprintf("resources[%d].id", i), "unknown resource %q", bindings[i].ID)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

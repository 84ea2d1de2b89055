package enginestate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
)

// Syncer keeps a catalog.Holder in step with the shared overrides.
type Syncer struct {
	holder   *catalog.Holder
	store    Store
	interval time.Duration
	logger   zerolog.Logger
}

func NewSyncer(holder *catalog.Holder, store Store, interval time.Duration, logger zerolog.Logger) *Syncer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Syncer{holder: holder, store: store, interval: interval, logger: logger}
}

// Refresh loads the overrides once and publishes a new catalog generation if
// they changed.
func (s *Syncer) Refresh(ctx context.Context) error {
	states, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if s.holder.ApplyEngineStates(states) {
		s.logger.Info().Uint64("version", s.holder.Current().Version).Msg("engine states applied")
	}
	return nil
}

// SetDisabled records an override for a known engine and applies it locally.
func (s *Syncer) SetDisabled(ctx context.Context, engine string, disabled bool) error {
	if _, ok := s.holder.Current().Engine(engine); !ok {
		return fmt.Errorf("engine %q: %w", engine, domain.ErrNotFound)
	}
	if err := s.store.Set(ctx, engine, disabled); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Run refreshes on every change notification and on a fixed interval, so a
// missed notification is corrected within one interval.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial engine state refresh")
	}
	changes, err := s.store.Watch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("engine state notifications unavailable; polling only")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		case <-ticker.C:
		}
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("engine state refresh")
		}
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orchestrator/internal/bootstrap"
	"orchestrator/internal/infra"
)

const reconcileEvery = 30 * time.Second

// The worker adopts workflows whose tracking instance went away: anything not
// terminal whose tracking lease lapsed (TRACK_LEASE_TTL) is claimed and polled from here.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to assemble orchestrator")
	}
	defer c.Close()

	if c.Pool == nil {
		logger.Fatal().Msg("worker: DATABASE_URL is required to reconcile workflows")
	}
	if c.Consumer != nil {
		go func() {
			if err := c.Consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("worker: push consumer stopped")
			}
		}()
	}

	logger.Info().
		Dur("lease_ttl", cfg.TrackLeaseTTL).
		Int("batch", cfg.ReconcileBatch).
		Msg("worker: reconciler started")

	reconcile(ctx, c, logger)
	ticker := time.NewTicker(reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: shutting down")
			return
		case <-ticker.C:
			reconcile(ctx, c, logger)
		}
	}
}

func reconcile(ctx context.Context, c *bootstrap.Components, logger infra.Logger) {
	adopted, err := c.Hub.Adopt(ctx, c.Config.ReconcileBatch)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("worker: adopt stale workflows")
		}
		return
	}
	if adopted > 0 {
		logger.Info().Int("count", adopted).Int("tracked", c.Hub.Len()).Msg("worker: adopted stale workflows")
	}
}

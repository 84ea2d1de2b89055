package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orchestrator/internal/bootstrap"
	"orchestrator/internal/http/handlers"
	httpapi "orchestrator/internal/http/httpapi"
	"orchestrator/internal/infra"
)

const (
	resumeBatch  = 500
	simStepEvery = 2 * time.Second
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	// Konfigurasi & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage, provider, tracking dan service
	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble orchestrator")
	}
	defer c.Close()

	go c.Syncer.Run(ctx)
	if c.Sim != nil {
		go c.Sim.Run(ctx, simStepEvery)
	}
	if c.Consumer != nil {
		go func() {
			if err := c.Consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("push consumer stopped")
			}
		}()
	}

	// Lanjutkan tracking workflow yang belum selesai sebelum restart
	resumed, err := c.Hub.Resume(ctx, resumeBatch)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resume tracking")
	} else if resumed > 0 {
		logger.Info().Int("count", resumed).Msg("resumed tracking")
	}

	app := &handlers.App{
		Service:        "orchestrator-api",
		Orchestrator:   c.Service,
		Resources:      c.Resources,
		Engines:        c.Syncer,
		Push:           c.Push,
		CallbackSecret: cfg.CallbackSecret,
		Logger:         logger,
	}

	// Bangun router via package httpapi (sudah ada middleware chi di dalamnya)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})

	// HTTP server wrapper dari infra
	server := infra.NewHTTPServer(cfg, router)

	// Start async
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

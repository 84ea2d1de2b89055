package main

import (
	"context"
	"errors"
	"os"

	"orchestrator/internal/catalog"
	"orchestrator/internal/enginestate"
	"orchestrator/internal/infra"
)

var (
	errNoRedis    = errors.New("REDIS_URL is not set")
	errNoDatabase = errors.New("DATABASE_URL is not set")
)

func loadHolder(path string) (*catalog.Holder, error) {
	gen, err := catalog.LoadPath(path)
	if err != nil {
		return nil, err
	}
	return catalog.NewHolder(gen), nil
}

// The CLI reads only the variables it needs so it runs without JWT_SECRET.
func openEngineStore(ctx context.Context) (enginestate.Store, func(), error) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return nil, nil, errNoRedis
	}
	client, err := infra.NewRedisClient(ctx, &infra.Config{RedisURL: url})
	if err != nil {
		return nil, nil, err
	}
	return enginestate.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func openDB(ctx context.Context) (*infra.SQLRunner, func(), error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, nil, errNoDatabase
	}
	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: url})
	if err != nil {
		return nil, nil, err
	}
	return infra.NewSQLRunner(pool, infra.NewLogger(os.Getenv("APP_ENV"))), pool.Close, nil
}

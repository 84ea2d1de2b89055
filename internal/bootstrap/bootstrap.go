// Package bootstrap assembles the orchestrator from configuration. Every backing
// service is optional: without Postgres, Redis or NATS the in-memory adapters are
// used instead.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"orchestrator/internal/adapter/memory"
	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
	"orchestrator/internal/enginestate"
	"orchestrator/internal/infra"
	"orchestrator/internal/infra/credentials"
	"orchestrator/internal/infra/geoip"
	"orchestrator/internal/metrics"
	"orchestrator/internal/orchestrator"
	"orchestrator/internal/priority"
	"orchestrator/internal/provider"
	"orchestrator/internal/provider/sim"
	"orchestrator/internal/push"
	"orchestrator/internal/steps"
	"orchestrator/internal/submission"
	"orchestrator/internal/tracking"
)

// Components is the wired object graph shared by the binaries.
type Components struct {
	Config  *infra.Config
	Logger  infra.Logger
	Metrics *metrics.Recorder

	Pool  *pgxpool.Pool
	SQL   infra.SQLExecutor
	Redis *redis.Client
	NATS  *infra.NATSClient
	GeoIP *geoip.Resolver

	Catalog     *catalog.Holder
	EngineStore enginestate.Store
	Syncer      *enginestate.Syncer

	Provider provider.Client
	// Sim is set when no provider endpoint is configured.
	Sim *sim.Provider

	Workflows   domain.WorkflowRepository
	Idempotency domain.IdempotencyRepository
	Resources   domain.ResourceRepository

	Hub       *tracking.Hub
	Submitter *submission.Manager
	Priority  *priority.Resolver
	Service   *orchestrator.Service

	Push     push.Sink
	Consumer *push.Consumer

	closers []func()
}

// Close releases everything New opened, in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// New connects to the configured backing services and wires the orchestrator.
// On error everything opened so far is released.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Metrics: metrics.Global()}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context) error {
	cfg, logger := c.Config, c.Logger

	if err := c.openBackends(ctx); err != nil {
		return err
	}
	if err := c.loadCatalog(); err != nil {
		return err
	}
	if err := c.buildProvider(ctx); err != nil {
		return err
	}
	c.buildStores()
	c.buildPriority()

	c.Hub = tracking.NewHub(c.Provider, c.Workflows, tracking.Config{
		PollInterval:    cfg.PollInterval,
		PollMaxInterval: cfg.PollMaxInterval,
		PollTimeout:     cfg.SubmitTimeout,
		MaxAge:          cfg.TrackMaxAge,
		LeaseTTL:        cfg.TrackLeaseTTL,
	}, tracking.WithLogger(component(logger, "tracking")), tracking.WithMetrics(c.Metrics))
	c.onClose(c.Hub.Close)

	if c.Sim != nil {
		hub := c.Hub
		c.Sim.SetChangeHook(func(wf domain.Workflow) {
			_, _ = hub.ApplyPush(context.Background(), tracking.Update{WorkflowID: wf.ID, Status: wf.Status, Steps: wf.Steps})
		})
	}

	c.Submitter = submission.NewManager(c.Provider, c.Idempotency, submission.Config{
		MaxAttempts:    cfg.SubmitMaxAttempts,
		BaseDelay:      cfg.SubmitBaseDelay,
		MaxDelay:       cfg.SubmitMaxDelay,
		Multiplier:     2,
		AttemptTimeout: cfg.SubmitTimeout,
	}, submission.WithLogger(component(logger, "submission")), submission.WithMetrics(c.Metrics))

	c.Service = orchestrator.NewService(orchestrator.Deps{
		Catalog:     c.Catalog,
		Builder:     steps.NewBuilder(),
		Priority:    c.Priority,
		Submitter:   c.Submitter,
		Store:       c.Workflows,
		Hub:         c.Hub,
		CallbackURL: cfg.CallbackURL(),
		Logger:      component(logger, "orchestrator"),
	})

	return c.buildPush(ctx)
}

func (c *Components) openBackends(ctx context.Context) error {
	cfg := c.Config
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		c.onClose(pool.Close)
		c.Pool = pool
		c.SQL = infra.NewSQLRunner(pool, c.Logger)
	} else {
		c.Logger.Warn().Msg("DATABASE_URL not set; workflows are kept in memory")
	}

	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		c.onClose(func() { _ = client.Close() })
		c.Redis = client
	}

	if cfg.NATSURL != "" {
		nc, err := infra.NewNATSClient(cfg, c.Logger)
		if err != nil {
			return err
		}
		c.onClose(nc.Close)
		c.NATS = nc
	}

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		return fmt.Errorf("open geoip database: %w", err)
	}
	if resolver != nil {
		c.onClose(func() { _ = resolver.Close() })
		c.GeoIP = resolver
	}
	return nil
}

func (c *Components) loadCatalog() error {
	gen, err := catalog.LoadPath(c.Config.CatalogPath)
	if err != nil {
		return err
	}
	c.Catalog = catalog.NewHolder(gen)
	if c.Redis != nil {
		c.EngineStore = enginestate.NewRedisStore(c.Redis)
	} else {
		c.EngineStore = enginestate.NewMemoryStore()
	}
	c.Syncer = enginestate.NewSyncer(c.Catalog, c.EngineStore, c.Config.EngineRefresh, component(c.Logger, "enginestate"))
	return nil
}

func (c *Components) buildProvider(ctx context.Context) error {
	cfg := c.Config
	if cfg.ProviderBaseURL == "" {
		c.Logger.Warn().Msg("PROVIDER_BASE_URL not set; using the simulated provider")
		c.Sim = sim.New()
		c.Provider = c.Sim
		return nil
	}
	var store *credentials.Store
	if c.SQL != nil {
		store = credentials.NewStore(c.SQL)
	}
	key, err := credentials.ResolveProviderAPIKey(ctx, cfg.ProviderAPIKey, store)
	if err != nil {
		return fmt.Errorf("load provider api key: %w", err)
	}
	if key == "" {
		return errors.New("provider api key is not configured")
	}
	c.Provider = provider.NewHTTPClient(provider.Options{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  key,
		Timeout: cfg.SubmitTimeout,
	})
	return nil
}

func (c *Components) buildStores() {
	ttl := c.Config.IdempotencyTTL
	if c.SQL != nil {
		c.Workflows = repo.NewWorkflowRepository(c.SQL)
		c.Resources = repo.NewResourceRepository(c.SQL)
		c.Idempotency = repo.NewIdempotencyRepository(c.SQL, ttl)
	} else {
		c.Workflows = memory.NewWorkflowRepository()
		c.Resources = memory.Resources{}
		c.Idempotency = memory.NewIdempotencyRepository(ttl)
	}
	// Redis takes precedence for idempotency keys when configured.
	if c.Redis != nil {
		c.Idempotency = repo.NewRedisIdempotencyRepository(c.Redis, ttl)
	}
}

func (c *Components) buildPriority() {
	var (
		ledger    priority.Ledger
		throttles priority.AnyThrottle
	)
	if c.SQL != nil {
		ledger = priority.NewPGLedger(c.SQL)
		throttles = append(throttles, priority.NewPGThrottle(c.SQL))
	}
	if c.GeoIP != nil && len(c.Config.ThrottledCountries) > 0 {
		throttles = append(throttles, priority.NewCountryThrottle(c.GeoIP, c.Config.ThrottledCountries))
	}
	var throttle priority.Throttle
	if len(throttles) > 0 {
		throttle = throttles
	}
	c.Priority = priority.NewResolver(ledger, throttle, priority.WithLogger(component(c.Logger, "priority")))
}

func (c *Components) buildPush(ctx context.Context) error {
	direct := push.Direct{Applier: c.Hub}
	if c.NATS == nil {
		c.Push = direct
		return nil
	}
	cfg := c.Config
	stream, err := c.NATS.EnsureStream(ctx, push.StreamConfig(cfg.NATSStream, cfg.NATSSubjectPrefix))
	if err != nil {
		return err
	}
	c.Push = push.NewPublisher(c.NATS.JetStream, cfg.NATSSubjectPrefix)
	c.Consumer = push.NewConsumer(stream, cfg.NATSConsumer, cfg.NATSSubjectPrefix, c.Hub, component(c.Logger, "push"))
	return nil
}

func component(logger infra.Logger, name string) infra.Logger {
	return logger.With().Str("component", name).Logger()
}

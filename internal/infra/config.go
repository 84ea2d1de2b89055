package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	RedisURL    string
	JWTSecret   string
	GeoIPDBPath string

	NATSURL           string
	NATSStream        string
	NATSSubjectPrefix string
	NATSConsumer      string

	CatalogPath        string
	ThrottledCountries []string

	ProviderBaseURL string
	ProviderAPIKey  string
	PublicBaseURL   string
	CallbackSecret  string

	SubmitTimeout     time.Duration
	SubmitBaseDelay   time.Duration
	SubmitMaxDelay    time.Duration
	SubmitMaxAttempts int
	IdempotencyTTL    time.Duration

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	TrackMaxAge     time.Duration
	EngineRefresh   time.Duration
	TrackLeaseTTL   time.Duration
	ReconcileBatch  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		NATSURL:           os.Getenv("NATS_URL"),
		NATSStream:        getEnv("NATS_STREAM", "ORCHESTRATOR"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "orchestrator"),
		NATSConsumer:      getEnv("NATS_CONSUMER", "orchestrator-tracker"),

		CatalogPath:        os.Getenv("CATALOG_PATH"),
		ThrottledCountries: getEnvList("THROTTLED_COUNTRIES"),

		ProviderBaseURL: strings.TrimRight(os.Getenv("PROVIDER_BASE_URL"), "/"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		PublicBaseURL:   strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		CallbackSecret:  os.Getenv("CALLBACK_SECRET"),

		SubmitTimeout:     getEnvDuration("SUBMIT_TIMEOUT", 20*time.Second),
		SubmitBaseDelay:   getEnvDuration("SUBMIT_BASE_DELAY", time.Second),
		SubmitMaxDelay:    getEnvDuration("SUBMIT_MAX_DELAY", 30*time.Second),
		SubmitMaxAttempts: getEnvInt("SUBMIT_MAX_ATTEMPTS", 5),
		IdempotencyTTL:    getEnvDuration("IDEMPOTENCY_TTL", 10*time.Minute),

		PollInterval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollMaxInterval: getEnvDuration("POLL_MAX_INTERVAL", time.Minute),
		TrackMaxAge:     getEnvDuration("TRACK_MAX_AGE", 2*time.Hour),
		EngineRefresh:   getEnvDuration("ENGINE_REFRESH_INTERVAL", 5*time.Second),
		TrackLeaseTTL:   getEnvDuration("TRACK_LEASE_TTL", 2*time.Minute),
		ReconcileBatch:  getEnvInt("RECONCILE_BATCH", 50),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.AppEnv == "production" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.ProviderBaseURL == "" {
			return nil, fmt.Errorf("PROVIDER_BASE_URL is required in production")
		}
	}

	if cfg.PublicBaseURL != "" && cfg.CallbackSecret == "" {
		return nil, fmt.Errorf("CALLBACK_SECRET is required when PUBLIC_BASE_URL is set")
	}

	if cfg.SubmitMaxAttempts < 1 {
		cfg.SubmitMaxAttempts = 1
	}
	if cfg.DBMaxConns < 1 {
		cfg.DBMaxConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = cfg.PollInterval
	}

	return cfg, nil
}

// CallbackURL is the push endpoint registered with the provider, empty when the
// service is not publicly reachable.
func (c *Config) CallbackURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/v1/callbacks/workflows"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

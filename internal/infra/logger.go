package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract shared by every package in the module.
type Logger = zerolog.Logger

// NewLogger builds the service logger. Development gets console output at debug
// level; everything else writes JSON at info. LOG_LEVEL overrides either default.
func NewLogger(appEnv string) zerolog.Logger {
	dev := appEnv == "development"

	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	if override, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = override
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "orchestrator").
		Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}

func parseLevel(raw string) (zerolog.Level, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zerolog.NoLevel, false
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.NoLevel, false
	}
	return level, true
}

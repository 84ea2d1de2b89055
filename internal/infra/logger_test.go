package infra

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	if got := NewLogger("development").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("development level = %v", got)
	}
	if got := NewLogger("production").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("production level = %v", got)
	}

	t.Setenv("LOG_LEVEL", "WARN")
	if got := NewLogger("development").GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("override level = %v", got)
	}

	t.Setenv("LOG_LEVEL", "chatty")
	if got := NewLogger("production").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("invalid override should keep default, got %v", got)
	}
}

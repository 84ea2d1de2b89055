package domain

import (
	"errors"
	"testing"
)

func TestParseStatusRoundTripsProviderTokens(t *testing.T) {
	for _, token := range []string{"unassigned", "preparing", "scheduled", "processing", "succeeded", "failed", "expired", "canceled"} {
		s, err := ParseStatus(token)
		if err != nil {
			t.Fatalf("ParseStatus(%q) error: %v", token, err)
		}
		if string(s) != token {
			t.Fatalf("ParseStatus(%q) = %q", token, s)
		}
	}
}

func TestParseStatusRejectsNonExactTokens(t *testing.T) {
	for _, token := range []string{"Processing", "SUCCEEDED", " scheduled", "cancelled", ""} {
		if _, err := ParseStatus(token); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("ParseStatus(%q) err = %v, want ErrInvalidStatus", token, err)
		}
	}
}

func TestStatusOrdering(t *testing.T) {
	order := PollableStatuses()
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
		if !order[i].IsPollable() || order[i].IsTerminal() {
			t.Fatalf("%s should be pollable", order[i])
		}
	}
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusExpired, StatusCanceled} {
		if !s.IsTerminal() || s.IsPollable() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.Rank() <= StatusProcessing.Rank() {
			t.Fatalf("%s should rank above processing", s)
		}
	}
}

func TestContentHashIgnoresRequesterAndCallbacks(t *testing.T) {
	base := GenerationRequest{
		Workflow:  "txt2img",
		Params:    map[string]any{"prompt": "a lighthouse", "steps": 30},
		Resources: []ResourceInput{{Ref: ResourceRef{ID: "101", EcosystemKey: "sdxl"}, Strength: 1}},
		Requester: Requester{ID: "user-1"},
	}
	other := base
	other.Requester = Requester{ID: "user-2", ClientIP: "203.0.113.5"}
	other.Callbacks = []string{"https://example.com/cb"}
	other.Params = map[string]any{"steps": 30, "prompt": "a lighthouse"}

	if base.ContentHash() != other.ContentHash() {
		t.Fatalf("content hash should not depend on requester, callbacks or map order")
	}

	changed := base
	changed.Params = map[string]any{"prompt": "a lighthouse at night", "steps": 30}
	if base.ContentHash() == changed.ContentHash() {
		t.Fatalf("content hash should change with params")
	}
}

func TestValidationErrorKeepsFirstMessagePerField(t *testing.T) {
	verr := &ValidationError{Step: "videoEnhancement"}
	if verr.OrNil() != nil {
		t.Fatalf("empty validation error should be nil")
	}
	verr.Add("multiplier", "must be greater than 0")
	verr.Add("multiplier", "is required")
	if len(verr.Fields) != 1 || verr.Fields[0].Message != "must be greater than 0" {
		t.Fatalf("unexpected fields: %#v", verr.Fields)
	}
	if !verr.Has("multiplier") || verr.Has("sourceUrl") {
		t.Fatalf("Has mismatch: %#v", verr.Fields)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"orchestrator/internal/domain"
	"orchestrator/internal/steps"
)

func sampleRequest() SubmitRequest {
	return SubmitRequest{
		Steps: []steps.Template{{
			Name:  steps.StepName(0),
			Input: &steps.VideoEnhancementInput{Source: steps.MediaSource{URL: "https://cdn.example.com/v.mp4"}, Multiplier: 2},
		}},
		Priority:       domain.PriorityHigh,
		Callbacks:      []Callback{{URL: "https://orchestrator.example.com/v1/callbacks/workflows", Types: DefaultCallbackTypes}},
		IdempotencyKey: "key-1",
	}
}

func TestSubmitWorkflow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/consumer/workflows" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Fatalf("unexpected idempotency key: %s", got)
		}
		var payload struct {
			Steps []struct {
				Type  string         `json:"$type"`
				Name  string         `json:"name"`
				Input map[string]any `json:"input"`
			} `json:"steps"`
			Priority  int        `json:"priority"`
			Callbacks []Callback `json:"callbacks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Priority != 10 {
			t.Fatalf("unexpected priority %d", payload.Priority)
		}
		if len(payload.Steps) != 1 || payload.Steps[0].Type != "videoEnhancement" || payload.Steps[0].Input["multiplier"] != float64(2) {
			t.Fatalf("unexpected steps %+v", payload.Steps)
		}
		if len(payload.Callbacks) != 1 {
			t.Fatalf("unexpected callbacks %+v", payload.Callbacks)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"id":"wf-123","status":"unassigned","steps":[{"name":"$0","$type":"videoEnhancement","status":"unassigned"}]}`)
	}))
	defer ts.Close()

	client := NewHTTPClient(Options{BaseURL: ts.URL + "/", APIKey: " test-key "})
	wf, err := client.SubmitWorkflow(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("SubmitWorkflow error: %v", err)
	}
	if wf.ID != "wf-123" || wf.Status != domain.StatusUnassigned || len(wf.Steps) != 1 {
		t.Fatalf("unexpected workflow %+v", wf)
	}
}

func TestSubmitWorkflowClassifiesFailures(t *testing.T) {
	cases := []struct {
		status int
		kind   domain.SubmissionErrorKind
	}{
		{http.StatusBadRequest, domain.SubmissionRejectedInput},
		{http.StatusUnprocessableEntity, domain.SubmissionRejectedInput},
		{http.StatusUnauthorized, domain.SubmissionRejectedInput},
		{http.StatusRequestTimeout, domain.SubmissionProviderUnavailable},
		{http.StatusTooManyRequests, domain.SubmissionProviderUnavailable},
		{http.StatusInternalServerError, domain.SubmissionProviderUnavailable},
		{http.StatusServiceUnavailable, domain.SubmissionProviderUnavailable},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"message":"nope"}`)
		}))
		client := NewHTTPClient(Options{BaseURL: ts.URL})
		_, err := client.SubmitWorkflow(context.Background(), sampleRequest())
		ts.Close()

		var subErr *domain.SubmissionError
		if !errors.As(err, &subErr) {
			t.Fatalf("status %d: expected SubmissionError, got %v", tc.status, err)
		}
		if subErr.Kind != tc.kind || subErr.StatusCode != tc.status {
			t.Fatalf("status %d: got kind %s code %d", tc.status, subErr.Kind, subErr.StatusCode)
		}
		if !strings.Contains(subErr.Error(), "nope") {
			t.Fatalf("status %d: provider message lost: %v", tc.status, subErr)
		}
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestSubmitWorkflowNetworkErrorIsRetryable(t *testing.T) {
	client := NewHTTPClient(Options{BaseURL: "https://provider.invalid", HTTPClient: &http.Client{Transport: failingTransport{}}})
	_, err := client.SubmitWorkflow(context.Background(), sampleRequest())
	if !domain.IsRetryableSubmission(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestGetWorkflow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/consumer/workflows/wf-1":
			_, _ = io.WriteString(w, `{"id":"wf-1","status":"processing"}`)
		case "/v2/consumer/workflows/wf-bad":
			_, _ = io.WriteString(w, `{"id":"wf-bad","status":"Processing"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()
	client := NewHTTPClient(Options{BaseURL: ts.URL})

	wf, err := client.GetWorkflow(context.Background(), "wf-1")
	if err != nil || wf.Status != domain.StatusProcessing {
		t.Fatalf("unexpected result %+v %v", wf, err)
	}
	if _, err := client.GetWorkflow(context.Background(), "wf-bad"); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected non-exact status token to fail, got %v", err)
	}
	if _, err := client.GetWorkflow(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelWorkflow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("unexpected method %s", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "canceled" {
			t.Fatalf("unexpected body %v", body)
		}
		if strings.HasSuffix(r.URL.Path, "/done") {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()
	client := NewHTTPClient(Options{BaseURL: ts.URL})

	if err := client.CancelWorkflow(context.Background(), "wf-1"); err != nil {
		t.Fatalf("CancelWorkflow error: %v", err)
	}
	if err := client.CancelWorkflow(context.Background(), "done"); !errors.Is(err, domain.ErrNotCancelable) {
		t.Fatalf("expected ErrNotCancelable, got %v", err)
	}
}

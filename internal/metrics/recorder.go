package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "orchestrator"

// Recorder counts orchestration events. A nil *Recorder records nothing.
type Recorder struct {
	submissions metric.Int64Counter
	retries     metric.Int64Counter
	transitions metric.Int64Counter
	discarded   metric.Int64Counter
}

// New registers the counters on meter.
func New(meter metric.Meter) (*Recorder, error) {
	submissions, err := meter.Int64Counter("orchestrator.submissions",
		metric.WithDescription("Provider submissions by outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("orchestrator.submission_retries",
		metric.WithDescription("Retried provider submission attempts"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("orchestrator.status_transitions",
		metric.WithDescription("Applied workflow status transitions by source"))
	if err != nil {
		return nil, err
	}
	discarded, err := meter.Int64Counter("orchestrator.discarded_updates",
		metric.WithDescription("Stale or duplicate status updates"))
	if err != nil {
		return nil, err
	}
	return &Recorder{submissions: submissions, retries: retries, transitions: transitions, discarded: discarded}, nil
}

// Global builds a Recorder on the process-wide meter provider.
func Global() *Recorder {
	r, err := New(otel.Meter(meterName))
	if err != nil {
		return nil
	}
	return r
}

func (r *Recorder) Submission(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Retry(ctx context.Context) {
	if r == nil {
		return
	}
	r.retries.Add(ctx, 1)
}

func (r *Recorder) Transition(ctx context.Context, source, status string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

func (r *Recorder) Discarded(ctx context.Context, source, reason string) {
	if r == nil {
		return
	}
	r.discarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

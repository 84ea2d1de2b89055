package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestRecorderOnNoopMeter(t *testing.T) {
	r, err := New(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	ctx := context.Background()
	r.Submission(ctx, "accepted")
	r.Retry(ctx)
	r.Transition(ctx, "push", "processing")
	r.Discarded(ctx, "poll", "stale")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	require.NotPanics(t, func() {
		r.Submission(ctx, "accepted")
		r.Retry(ctx)
		r.Transition(ctx, "poll", "succeeded")
		r.Discarded(ctx, "push", "duplicate")
	})
}

package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/domain"
	"orchestrator/internal/tracking"
)

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"workflowId":"wf-123","status":"processing"}`))
	require.NoError(t, err)
	u, err := e.Update()
	require.NoError(t, err)
	assert.Equal(t, "wf-123", u.WorkflowID)
	assert.Equal(t, domain.StatusProcessing, u.Status)
	assert.Equal(t, tracking.SourcePush, u.Source)
	assert.False(t, e.IsStep())

	e, err = DecodeEvent([]byte(`{"workflowId":"wf-1","stepName":"$0","status":"succeeded","output":{"video":{"url":"https://x"}}}`))
	require.NoError(t, err)
	assert.True(t, e.IsStep())

	_, err = DecodeEvent([]byte(`{"workflowId":"wf-1","status":"Processing"}`))
	assert.True(t, errors.Is(err, domain.ErrInvalidStatus))

	_, err = DecodeEvent([]byte(`{"status":"processing"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestSignature(t *testing.T) {
	body := []byte(`{"workflowId":"wf-1","status":"succeeded"}`)
	sig := Sign("s3cret", body)
	assert.True(t, Verify("s3cret", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("s3cret", []byte(`{}`), sig))
	assert.False(t, Verify("s3cret", body, ""))
	assert.False(t, Verify("", body, sig))
}

type stubApplier struct {
	updates []tracking.Update
	err     error
}

func (s *stubApplier) ApplyPush(ctx context.Context, u tracking.Update) (tracking.Outcome, error) {
	s.updates = append(s.updates, u)
	return tracking.OutcomeApplied, s.err
}

func TestDirectAsksForRedeliveryOfUnknownWorkflows(t *testing.T) {
	a := &stubApplier{}
	require.NoError(t, Direct{Applier: a}.Deliver(context.Background(), Event{WorkflowID: "wf-1", Status: "processing"}))

	a.err = domain.ErrNotFound
	err := Direct{Applier: a}.Deliver(context.Background(), Event{WorkflowID: "wf-1", Status: "processing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, a.updates, 2)

	a.err = errors.New("store down")
	assert.Error(t, Direct{Applier: a}.Deliver(context.Background(), Event{WorkflowID: "wf-1", Status: "processing"}))
	assert.Error(t, Direct{Applier: a}.Deliver(context.Background(), Event{WorkflowID: "wf-1", Status: "bogus"}))
}

// fakeMsg implements the acknowledgement surface the consumer uses.
type fakeMsg struct {
	jetstream.Msg
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	naked     bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "orchestrator.workflow.updated" }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}
func (m *fakeMsg) Term() error { m.termed = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked = true
	return nil
}

func TestConsumerAcknowledgement(t *testing.T) {
	cases := []struct {
		name        string
		data        string
		applyErr    error
		delivered   uint64
		wantAck     bool
		wantTerm    bool
		wantNak     bool
		wantApplied int
	}{
		{name: "applied", data: `{"workflowId":"wf-1","status":"processing"}`, wantAck: true, wantApplied: 1},
		{name: "unknown workflow is redelivered", data: `{"workflowId":"wf-1","status":"processing"}`, applyErr: domain.ErrNotFound, delivered: 1, wantNak: true, wantApplied: 1},
		{name: "unknown workflow dropped eventually", data: `{"workflowId":"wf-1","status":"processing"}`, applyErr: domain.ErrNotFound, delivered: unknownRedeliveries, wantAck: true, wantApplied: 1},
		{name: "transient failure", data: `{"workflowId":"wf-1","status":"processing"}`, applyErr: errors.New("db down"), wantNak: true, wantApplied: 1},
		{name: "malformed", data: `{"workflowId":"wf-1","status":"done"}`, wantTerm: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &stubApplier{err: tc.applyErr}
			c := NewConsumer(nil, "durable", "orchestrator", a, zerolog.Nop())
			msg := &fakeMsg{data: []byte(tc.data), delivered: tc.delivered}
			c.handle(context.Background(), msg)
			assert.Equal(t, tc.wantAck, msg.acked)
			assert.Equal(t, tc.wantTerm, msg.termed)
			assert.Equal(t, tc.wantNak, msg.naked)
			assert.Len(t, a.updates, tc.wantApplied)
		})
	}
}

func TestStreamConfigCoversBothSubjects(t *testing.T) {
	cfg := StreamConfig("ORCHESTRATOR", "orch")
	assert.Equal(t, []string{"orch.workflow.updated", "orch.step.updated"}, cfg.Subjects)
}

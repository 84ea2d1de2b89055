package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"orchestrator/internal/tracking"
)

// Applier folds an update into the tracked state.
type Applier interface {
	ApplyPush(ctx context.Context, u tracking.Update) (tracking.Outcome, error)
}

// Sink accepts a verified event from the callback endpoint.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Direct applies events in-process. An event for a workflow that is not stored
// yet fails with domain.ErrNotFound: the provider can call back before the
// submission is persisted, and the sender must redeliver.
type Direct struct {
	Applier Applier
}

func (d Direct) Deliver(ctx context.Context, e Event) error {
	u, err := e.Update()
	if err != nil {
		return err
	}
	_, err = d.Applier.ApplyPush(ctx, u)
	return err
}

// Subjects returns the workflow and step subjects under prefix.
func Subjects(prefix string) (workflow, step string) {
	return prefix + ".workflow.updated", prefix + ".step.updated"
}

// Publisher forwards events to JetStream so every instance observes them.
type Publisher struct {
	js       jetstream.JetStream
	workflow string
	step     string
}

func NewPublisher(js jetstream.JetStream, prefix string) *Publisher {
	wf, step := Subjects(prefix)
	return &Publisher{js: js, workflow: wf, step: step}
}

func (p *Publisher) Deliver(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode push event: %w", err)
	}
	subject := p.workflow
	if e.IsStep() {
		subject = p.step
	}
	if _, err := p.js.Publish(ctx, subject, raw); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

var (
	_ Sink = Direct{}
	_ Sink = (*Publisher)(nil)
)

package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
)

const (
	ackWait    = 30 * time.Second
	maxDeliver = 10
	nakDelay   = 2 * time.Second
	// unknownRedeliveries bounds how long an event may wait for its workflow to be
	// stored before it is dropped.
	unknownRedeliveries = 5
)

// Consumer drains the push stream with explicit acks. Malformed events are
// terminated, transient failures are redelivered, and events for unknown
// workflows are redelivered a few times before they are dropped.
type Consumer struct {
	stream  jetstream.Stream
	durable string
	prefix  string
	applier Applier
	logger  zerolog.Logger
}

func NewConsumer(stream jetstream.Stream, durable, prefix string, applier Applier, logger zerolog.Logger) *Consumer {
	return &Consumer{stream: stream, durable: durable, prefix: prefix, applier: applier, logger: logger}
}

// StreamConfig describes the stream the consumer reads from.
func StreamConfig(name, prefix string) jetstream.StreamConfig {
	wf, step := Subjects(prefix)
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{wf, step},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	}
}

// Run consumes until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	wf, step := Subjects(c.prefix)
	cons, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        c.durable,
		FilterSubjects: []string{wf, step},
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        ackWait,
		MaxDeliver:     maxDeliver,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.durable, err)
	}
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.durable, err)
	}
	c.logger.Info().Str("durable", c.durable).Msg("push consumer started")
	<-ctx.Done()
	cc.Stop()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	event, err := DecodeEvent(msg.Data())
	if err != nil {
		c.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed push event")
		if err := msg.Term(); err != nil {
			c.logger.Warn().Err(err).Msg("term push event")
		}
		return
	}
	u, _ := event.Update()
	outcome, err := c.applier.ApplyPush(ctx, u)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if delivered(msg) < unknownRedeliveries {
			if err := msg.NakWithDelay(nakDelay); err != nil {
				c.logger.Warn().Err(err).Msg("nak push event")
			}
			return
		}
		c.logger.Info().Str("workflow_id", u.WorkflowID).Msg("dropping push for unknown workflow")
	case err != nil:
		c.logger.Warn().Err(err).Str("workflow_id", u.WorkflowID).Msg("apply push event")
		if err := msg.NakWithDelay(nakDelay); err != nil {
			c.logger.Warn().Err(err).Msg("nak push event")
		}
		return
	default:
		c.logger.Debug().Str("workflow_id", u.WorkflowID).Str("outcome", outcome.String()).Msg("push event applied")
	}
	if err := msg.Ack(); err != nil {
		c.logger.Warn().Err(err).Msg("ack push event")
	}
}

func delivered(msg jetstream.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient bundles a NATS connection with its JetStream context.
type NATSClient struct {
	Conn      *nats.Conn
	JetStream jetstream.JetStream
}

// NewNATSClient connects to cfg.NATSURL and opens JetStream.
func NewNATSClient(cfg *Config, logger Logger) (*NATSClient, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	nc, err := nats.Connect(
		cfg.NATSURL,
		nats.Name("orchestrator"),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	return &NATSClient{Conn: nc, JetStream: js}, nil
}

// EnsureStream creates the stream or updates it in place.
func (c *NATSClient) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	stream, err := c.JetStream.Stream(ctx, cfg.Name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = c.JetStream.CreateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		return stream, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", cfg.Name, err)
	}
	stream, err = c.JetStream.UpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

func (c *NATSClient) Close() {
	if c != nil && c.Conn != nil && !c.Conn.IsClosed() {
		c.Conn.Close()
	}
}

package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"
)

const natsFlushTimeout = 5 * time.Second

// natsPublisher publishes each event to a single subject, either as a core
// NATS message or through JetStream.
type natsPublisher struct {
	subject string
	nc      *nats.Conn
	js      jetstream.JetStream // Nil unless publishing through JetStream.
}

func newNATSPublisher(_ context.Context, cfg NATSConfig) (*natsPublisher, error) {
	var nc, err = nats.Connect(cfg.URL,
		nats.Name("logshipper"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithField("err", err).Warn("disconnected from nats")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrlRedacted()).Info("reconnected to nats")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	var p = &natsPublisher{subject: cfg.Subject, nc: nc}
	if cfg.JetStream {
		if p.js, err = jetstream.New(nc); err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating jetstream context: %w", err)
		}
	}
	return p, nil
}

func (p *natsPublisher) Publish(ctx context.Context, payload []byte) error {
	if p.js != nil {
		if _, err := p.js.Publish(ctx, p.subject, payload); err != nil {
			return fmt.Errorf("publishing to jetstream subject %q: %w", p.subject, err)
		}
		return nil
	}

	if err := p.nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publishing to nats subject %q: %w", p.subject, err)
	}
	// Core NATS publication is fire-and-forget; a flush at least confirms
	// that the server received the message.
	var flushCtx, cancel = context.WithTimeout(ctx, natsFlushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flushing nats connection: %w", err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}

// Package sink forwards serialized events to a downstream publisher. Events
// are handed off to a bounded in-memory buffer which is drained by a pool of
// workers, so that a slow or failing publisher never holds up the capture
// which produces them beyond the point where the buffer is full.
package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/logshipper/connectors/go/connector-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Publisher delivers single event payloads to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sink_events_published_total",
		Help: "Events successfully published downstream.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sink_events_failed_total",
		Help: "Events dropped after exhausting publish retries.",
	})
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sink_publish_retries_total",
		Help: "Publish attempts which were retried.",
	})
)

// Buffer is a bounded queue of event payloads drained by concurrent workers.
type Buffer struct {
	queue     chan []byte
	publisher Publisher
	group     *errgroup.Group
	cancel    context.CancelFunc

	maxRetries int
	backoff    time.Duration
	retryPace  *rate.Limiter

	mu     sync.RWMutex // Guards closed against concurrent Submit.
	closed bool

	published atomic.Int64
	failed    atomic.Int64
}

// New builds the publisher described by cfg and starts the buffer's workers.
func New(ctx context.Context, cfg Config) (*Buffer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.NewConfigError(fmt.Errorf("invalid forwarding config: %w", err))
	}
	var publisher, err = newPublisher(ctx, cfg.Publisher)
	if err != nil {
		return nil, cerrors.NewConfigError(fmt.Errorf("creating %s publisher: %w", cfg.Publisher.Type, err))
	}
	return NewBuffer(ctx, cfg, publisher), nil
}

func newPublisher(ctx context.Context, cfg PublisherConfig) (Publisher, error) {
	switch cfg.Type {
	case TypeStdout:
		return newStdoutPublisher(), nil
	case TypeFile:
		return newFilePublisher(cfg.FileConfig)
	case TypeKafka:
		return newKafkaPublisher(cfg.KafkaConfig)
	case TypeNATS:
		return newNATSPublisher(ctx, cfg.NATSConfig)
	}
	return nil, fmt.Errorf("unknown publisher type %q", cfg.Type)
}

// NewBuffer starts a Buffer which drains into the given publisher. The
// workers outlive cancellation of ctx, so that events which were already
// submitted can still be delivered by Close.
func NewBuffer(ctx context.Context, cfg Config, publisher Publisher) *Buffer {
	cfg.SetDefaults()

	var workerCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	var group, groupCtx = errgroup.WithContext(workerCtx)
	var backoff = cfg.RetryBackoff.AsDuration()

	var b = &Buffer{
		queue:      make(chan []byte, cfg.BufferSize),
		publisher:  publisher,
		group:      group,
		cancel:     cancel,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    backoff,
		// Retries of all workers share one budget, so that an unavailable
		// publisher is not hammered by every worker at once.
		retryPace: rate.NewLimiter(rate.Every(backoff), cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error { return b.work(groupCtx) })
	}

	log.WithFields(log.Fields{
		"publisher":  cfg.Publisher.Type,
		"bufferSize": cfg.BufferSize,
		"workers":    cfg.Workers,
	}).Info("started event sink")
	return b
}

// Submit hands a payload off for asynchronous publication. It blocks only
// while the buffer is full, and returns early if ctx is cancelled first. The
// Buffer takes ownership of payload.
func (b *Buffer) Submit(ctx context.Context, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event sink is closed")
	}

	select {
	case b.queue <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting payloads, waits for buffered payloads to be
// published, and then closes the publisher. If ctx ends before the buffer is
// drained, in-flight publications are abandoned.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	var drained = make(chan error, 1)
	go func() { drained <- b.group.Wait() }()

	var err error
	select {
	case err = <-drained:
	case <-ctx.Done():
		log.WithField("pending", len(b.queue)).Warn("event sink did not drain before shutdown")
		b.cancel()
		<-drained
		err = ctx.Err()
	}
	b.cancel()

	if closeErr := b.publisher.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("closing publisher: %w", closeErr)
	}
	log.WithFields(log.Fields{
		"published": b.published.Load(),
		"failed":    b.failed.Load(),
	}).Info("event sink closed")
	return err
}

// Published is the number of payloads delivered so far.
func (b *Buffer) Published() int64 { return b.published.Load() }

// Failed is the number of payloads dropped after exhausting their retries.
func (b *Buffer) Failed() int64 { return b.failed.Load() }

func (b *Buffer) work(ctx context.Context) error {
	for payload := range b.queue {
		if err := b.publish(ctx, payload); err != nil {
			b.failed.Add(1)
			failedTotal.Inc()
			log.WithFields(log.Fields{
				"err":   err,
				"bytes": len(payload),
			}).Error("dropping event after failed publication")
		} else {
			b.published.Add(1)
			publishedTotal.Inc()
		}
	}
	return nil
}

// publish attempts delivery of payload, retrying failures with exponential
// backoff up to the configured number of retries.
func (b *Buffer) publish(ctx context.Context, payload []byte) error {
	var delay = b.backoff
	for attempt := 0; ; attempt++ {
		var err = b.publisher.Publish(ctx, payload)
		if err == nil {
			return nil
		} else if attempt >= b.maxRetries || ctx.Err() != nil {
			return fmt.Errorf("publishing event (%d attempts): %w", attempt+1, err)
		}

		log.WithFields(log.Fields{
			"err":     err,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("publish failed, will retry")
		retriesTotal.Inc()

		if err := b.retryPace.Wait(ctx); err != nil {
			return fmt.Errorf("waiting to retry publication: %w", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("waiting to retry publication: %w", ctx.Err())
		}
		if delay = delay * 2; delay > maxRetryBackoff {
			delay = maxRetryBackoff
		}
	}
}

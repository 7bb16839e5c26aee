package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const (
	kafkaBatchSize  = 100
	kafkaBatchBytes = 1 << 20 // 1MB

	// Each worker writes one message at a time and a synchronous write returns
	// only once its batch is flushed, so batches must not wait long to fill.
	kafkaBatchTimeout = 10 * time.Millisecond
)

// kafkaPublisher produces each event as one record of a single topic.
type kafkaPublisher struct {
	writer *kafka.Writer
}

func newKafkaPublisher(cfg KafkaConfig) (*kafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker address")
	}
	return &kafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    kafkaBatchSize,
		BatchBytes:   kafkaBatchBytes,
		BatchTimeout: kafkaBatchTimeout,
		RequiredAcks: kafka.RequireAll,
		// Retries are handled by the Buffer, which also reports exhausted events.
		MaxAttempts: 1,
		ErrorLogger: kafka.LoggerFunc(log.WithField("topic", cfg.Topic).Errorf),
	}}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, payload []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("producing to kafka topic %q: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

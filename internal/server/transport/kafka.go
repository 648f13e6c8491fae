package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes entries to the topic mapped from their kind, keyed by
// subject id so all events of one aggregate land on one partition.
type Kafka struct {
	writer messageWriter
	topics map[models.OutboxKind]string
}

func NewKafka(brokers []string, topics map[models.OutboxKind]string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		topics: topics,
	}
}

func (k *Kafka) Publish(ctx context.Context, e *models.OutboxEntry) error {
	topic, ok := k.topics[e.Kind]
	if !ok {
		return fmt.Errorf("no kafka topic for outbox kind %s", e.Kind)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(e.SubjectID),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: common.IdempotencyKeyHeader, Value: []byte(e.IdempotencyKey)},
			{Key: "Outbox-Kind", Value: []byte(e.Kind)},
		},
		Time: e.CreatedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

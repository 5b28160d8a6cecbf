// Package kafkaio publishes change records as events on a Kafka topic.
package kafkaio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"climatecloud/internal/modules/climate/types"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ChangePublisher struct {
	w     messageWriter
	topic string
	lg    *slog.Logger
}

// NewChangePublisher writes to topic on brokers. Messages are keyed by
// source id so one source's changes stay ordered on a partition.
func NewChangePublisher(brokers []string, topic string, lg *slog.Logger) (*ChangePublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("no topic provided")
	}
	if lg == nil {
		lg = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	lg.Info("kafka change publisher created", "brokers", brokers, "topic", topic)
	return &ChangePublisher{w: w, topic: topic, lg: lg}, nil
}

// Publish sends c as one JSON message.
func (p *ChangePublisher) Publish(ctx context.Context, c types.Change) error {
	msg, err := encodeChange(c)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	p.lg.Debug("change event published", "id", c.ID, "kind", c.Kind, "source_id", c.Current.SourceID)
	return nil
}

func (p *ChangePublisher) Close() error {
	return p.w.Close()
}

func encodeChange(c types.Change) (kafka.Message, error) {
	value, err := json.Marshal(c)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal change %s: %w", c.ID, err)
	}
	return kafka.Message{
		Key:   []byte(c.Current.SourceID),
		Value: value,
		Time:  c.Current.RecordedAt,
		Headers: []kafka.Header{
			{Key: "changeId", Value: []byte(c.ID)},
			{Key: "kind", Value: []byte(c.Kind)},
		},
	}, nil
}

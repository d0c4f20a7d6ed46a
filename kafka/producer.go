package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"enrollment-service/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventProducer publishes payment events to a Kafka topic, keyed by order id
// so all events for one order land on the same partition.
type EventProducer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewEventProducer(brokers []string, topic string, logger *zap.Logger) *EventProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
	)
	return &EventProducer{writer: w, topic: topic, logger: logger}
}

func (p *EventProducer) PublishEvent(ctx context.Context, evt models.PaymentEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}

	p.logger.Debug("payment event sent",
		zap.String("type", evt.Type),
		zap.String("order_id", evt.OrderID),
	)
	return nil
}

func (p *EventProducer) Close() error {
	err := p.writer.Close()
	p.logger.Info("kafka producer closed")
	return err
}

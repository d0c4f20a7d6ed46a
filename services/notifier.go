package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"enrollment-service/models"
	aws_pkg "enrollment-service/pkg/aws"

	"go.uber.org/zap"
)

// EventPublisher delivers domain events to the event bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt models.PaymentEvent) error
}

// ReviewQueue receives payments that need a human decision.
type ReviewQueue interface {
	Enqueue(ctx context.Context, item models.ReviewItem) error
}

// Notifier fans out events and review items. Delivery failures are logged and
// never fail the payment flow.
type Notifier struct {
	events EventPublisher
	review ReviewQueue
	logger *zap.Logger
}

// NewNotifier creates a Notifier. Either sink may be nil.
func NewNotifier(events EventPublisher, review ReviewQueue, logger *zap.Logger) *Notifier {
	return &Notifier{events: events, review: review, logger: logger}
}

func (n *Notifier) Publish(ctx context.Context, evt models.PaymentEvent) {
	if n == nil || n.events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := n.events.PublishEvent(ctx, evt); err != nil {
		n.logger.Error("failed to publish payment event",
			zap.String("type", evt.Type),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}

func (n *Notifier) Review(ctx context.Context, item models.ReviewItem) {
	if n == nil {
		return
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}
	n.logger.Warn("payment queued for review",
		zap.String("kind", item.Kind),
		zap.String("order_id", item.OrderID),
		zap.String("payment_id", item.PaymentID),
		zap.String("detail", item.Detail),
	)
	if n.review == nil {
		return
	}
	if err := n.review.Enqueue(ctx, item); err != nil {
		n.logger.Error("failed to enqueue review item",
			zap.String("kind", item.Kind),
			zap.String("order_id", item.OrderID),
			zap.Error(err),
		)
	}
}

// SNSEventPublisher publishes events as JSON to an SNS topic.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishEvent(ctx context.Context, evt models.PaymentEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.topicArn, payload)
}

// SQSReviewQueue sends review items as JSON messages to an SQS queue.
type SQSReviewQueue struct {
	sender aws_pkg.MessageSender
}

func NewSQSReviewQueue(sender aws_pkg.MessageSender) *SQSReviewQueue {
	return &SQSReviewQueue{sender: sender}
}

func (q *SQSReviewQueue) Enqueue(ctx context.Context, item models.ReviewItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}
	return q.sender.SendMessage(ctx, string(payload))
}

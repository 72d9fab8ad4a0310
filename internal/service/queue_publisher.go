package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/queue"
)

// Publisher emits credential audit events.
type Publisher interface {
	Publish(ctx context.Context, ev queue.CredentialEvent) error
}

// NoopPublisher drops every event.  It is used when RABBITMQ_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, queue.CredentialEvent) error { return nil }

// AMQPPublisher publishes events to the durable credential.events queue.
// Each call opens its own connection, which keeps the publisher free of
// reconnect state at the event volumes this service produces.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger
}

func NewAMQPPublisher(url string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{url: url, logger: logger.Named("publisher")}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned so callers may choose to ignore them.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.CredentialEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.QueueName, true, false, false, false, nil); err != nil {
		p.logger.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.QueueName, false, false, pub); err != nil {
		p.logger.Warn("rabbitmq publish failed",
			zap.String("event", ev.Event),
			zap.String("credential_id", ev.CredentialID),
			zap.Error(err))
		return err
	}
	return nil
}

package events

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/voiceify/voiceify/pkg/types"
)

// RabbitMQPublisher publishes job updates to a topic exchange. Terminal
// updates are only reported as published once the broker confirmed them.
type RabbitMQPublisher struct {
	channels *eventChannels
}

// NewRabbitMQPublisher connects to url and declares exchange
func NewRabbitMQPublisher(url, exchange string, poolSize int) (*RabbitMQPublisher, error) {
	channels, err := dialEventChannels(url, exchange, poolSize)
	if err != nil {
		return nil, err
	}
	slog.Info("RabbitMQ event publisher connected", "exchange", exchange, "channels", cap(channels.free))
	return &RabbitMQPublisher{channels: channels}, nil
}

// awaitsConfirm reports whether publishing an update with status waits for the broker's ack.
func awaitsConfirm(status types.Status) bool {
	return status.Terminal()
}

// Publish implements Publisher
func (p *RabbitMQPublisher) Publish(ctx context.Context, update types.JobUpdate) error {
	body, err := marshalEvent(update)
	if err != nil {
		return err
	}

	ch, err := p.channels.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}
	defer p.channels.release(ch)

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.channels.exchange,       // exchange
		RoutingKey(update.Status), // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    update.JobID,
			Type:         RoutingKey(update.Status),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if !awaitsConfirm(update.Status) || confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for broker confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s event for job %s", update.Status, update.JobID)
	}
	return nil
}

// Close implements Publisher
func (p *RabbitMQPublisher) Close() error {
	return p.channels.Close()
}

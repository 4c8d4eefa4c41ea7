// Package events publishes job lifecycle changes to external consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voiceify/voiceify/internal/config"
	"github.com/voiceify/voiceify/pkg/types"
)

// Publisher sends job updates to a message broker
type Publisher interface {
	Publish(ctx context.Context, update types.JobUpdate) error
	Close() error
}

// Event is the message body sent for every job update
type Event struct {
	JobID     string       `json:"job_id"`
	Status    types.Status `json:"status"`
	Progress  *int         `json:"progress,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Truncated *bool        `json:"truncated,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func newEvent(u types.JobUpdate) Event {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		JobID:     u.JobID,
		Status:    u.Status,
		Progress:  u.Progress,
		Message:   u.Message,
		Error:     u.Error,
		Truncated: u.Truncated,
		Timestamp: ts,
	}
}

func marshalEvent(u types.JobUpdate) ([]byte, error) {
	body, err := json.Marshal(newEvent(u))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

// RoutingKey returns the topic an update is published under,
// e.g. "voiceify.job.done".
func RoutingKey(status types.Status) string {
	return "voiceify.job." + string(status)
}

// NopPublisher discards every update
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, types.JobUpdate) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// New creates the publisher selected by cfg.EventsBackend
func New(ctx context.Context, cfg *config.Config) (Publisher, error) {
	switch cfg.EventsBackend {
	case "", config.EventsNone:
		return NopPublisher{}, nil
	case config.EventsRabbitMQ:
		return NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, defaultPoolSize)
	case config.EventsSQS:
		return NewSQSPublisher(ctx, cfg.SQSQueueURL, cfg.SQSRegion)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultPoolSize = 4

var errPoolClosed = errors.New("event channel pool is closed")

// eventChannels is a fixed set of AMQP channels in publisher-confirm mode,
// all bound to one topic exchange. A channel serves one publisher at a time;
// the connection is shared.
type eventChannels struct {
	conn     *amqp.Connection
	free     chan *amqp.Channel
	exchange string

	mu     sync.Mutex
	closed bool
}

func dialEventChannels(url, exchange string, size int) (*eventChannels, error) {
	if size <= 0 {
		size = defaultPoolSize
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p := &eventChannels{
		conn:     conn,
		free:     make(chan *amqp.Channel, size),
		exchange: exchange,
	}
	for i := 0; i < size; i++ {
		ch, err := p.open()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to prepare event channel %d: %w", i, err)
		}
		p.free <- ch
	}
	return p, nil
}

// open creates a confirm-mode channel and declares the job event exchange on it
func (p *eventChannels) open() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

// acquire waits for a free channel. A channel the broker closed while it sat
// in the pool is replaced.
func (p *eventChannels) acquire(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPoolClosed
	}

	select {
	case ch, ok := <-p.free:
		if !ok {
			return nil, errPoolClosed
		}
		if ch.IsClosed() {
			slog.Warn("Event channel was closed by the broker, reopening", "exchange", p.exchange)
			return p.open()
		}
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns ch to the pool, or closes it when the pool is full or gone
func (p *eventChannels) release(ch *amqp.Channel) {
	if ch == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch.Close()
		return
	}

	select {
	case p.free <- ch:
	default:
		ch.Close()
	}
}

// Close closes every pooled channel and the connection
func (p *eventChannels) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.free)
	for ch := range p.free {
		if !ch.IsClosed() {
			ch.Close()
		}
	}

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

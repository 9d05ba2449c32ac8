// Package events publishes subscription lifecycle events to RabbitMQ. Publishing
// is best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	SubscriptionActivated = "subscription.activated"
	SubscriptionExpired   = "subscription.expired"

	DefaultQueue = "subscription.events"
)

type SubscriptionEvent struct {
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	InvoiceID  string    `json:"invoice_id,omitempty"`
	Expires    string    `json:"expires,omitempty"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishSubscription(ctx context.Context, ev SubscriptionEvent) error
	Close() error
}

// New returns an AMQP publisher, or a no-op one when url is empty.
func New(url string, log *slog.Logger) Publisher {
	if url == "" {
		return Noop{}
	}
	return NewAMQPPublisher(url, DefaultQueue, log)
}

type Noop struct{}

func (Noop) PublishSubscription(context.Context, SubscriptionEvent) error { return nil }
func (Noop) Close() error                                                { return nil }

// AMQPPublisher keeps one connection and channel, redialling after failures.
type AMQPPublisher struct {
	url   string
	queue string
	log   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, queue string, log *slog.Logger) *AMQPPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{url: url, queue: queue, log: log}
}

func (p *AMQPPublisher) PublishSubscription(ctx context.Context, ev SubscriptionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) connect() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info("rabbitmq publisher connected", "queue", p.queue)
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

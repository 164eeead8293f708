// Package service holds background collaborators of the HTTP layer. The
// event publisher delivers change events to RabbitMQ without ever failing
// or slowing the request that produced them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/config"
	"github.com/hkpo/mobilepost-directory/internal/metrics"
	"github.com/hkpo/mobilepost-directory/internal/queue"
)

// SendFunc delivers one encoded event to queueName.
type SendFunc func(ctx context.Context, queueName string, body []byte) error

// Option customizes an EventPublisher.
type Option func(*EventPublisher)

// WithSender replaces the AMQP transport, mainly for tests.
func WithSender(send SendFunc) Option {
	return func(p *EventPublisher) { p.send = send }
}

// WithBreakerSettings overrides the breaker thresholds.
func WithBreakerSettings(failures uint32, openFor time.Duration) Option {
	return func(p *EventPublisher) {
		p.breakerFailures = failures
		p.breakerTimeout = openFor
	}
}

// EventPublisher buffers change events and publishes them from Run. A
// circuit breaker stops dialing a broker that keeps failing; while it is
// open events are dropped and counted.
type EventPublisher struct {
	queue  string
	url    string
	log    *zap.Logger
	events chan queue.MobilePostChangedEvent
	send   SendFunc
	cb     *gobreaker.CircuitBreaker[struct{}]

	breakerFailures uint32
	breakerTimeout  time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewEventPublisher constructs a publisher for cfg. It does not connect
// until the first event is sent.
func NewEventPublisher(cfg config.AMQPConfig, log *zap.Logger, opts ...Option) *EventPublisher {
	buf := cfg.Buffer
	if buf <= 0 {
		buf = 256
	}
	name := cfg.Queue
	if name == "" {
		name = queue.DefaultQueue
	}
	p := &EventPublisher{
		queue:           name,
		url:             cfg.URL,
		log:             log.Named("events"),
		events:          make(chan queue.MobilePostChangedEvent, buf),
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
	}
	p.send = p.amqpSend
	for _, opt := range opts {
		opt(p)
	}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "amqp-publish",
		MaxRequests: 1,
		Timeout:     p.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// Publish enqueues ev without blocking. When the buffer is full the event
// is dropped.
func (p *EventPublisher) Publish(ev queue.MobilePostChangedEvent) {
	select {
	case p.events <- ev:
	default:
		metrics.RecordEventPublish("dropped")
		p.log.Warn("event buffer full, dropping event",
			zap.String("event_id", ev.EventID), zap.String("action", string(ev.Action)))
	}
}

// Run publishes buffered events until ctx is cancelled, then closes the
// broker connection. Events still buffered at that point are discarded.
func (p *EventPublisher) Run(ctx context.Context) error {
	defer p.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.events:
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.PublishNow(sendCtx, ev); err != nil {
				p.log.Warn("publish event failed",
					zap.String("event_id", ev.EventID),
					zap.String("action", string(ev.Action)),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// PublishNow sends ev synchronously through the breaker.
func (p *EventPublisher) PublishNow(ctx context.Context, ev queue.MobilePostChangedEvent) error {
	body, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.send(ctx, p.queue, body)
	})
	switch {
	case err == nil:
		metrics.RecordEventPublish("ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordEventPublish("breaker_open")
	default:
		metrics.RecordEventPublish("error")
	}
	return err
}

// Close releases the broker connection, if any.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetLocked()
}

func (p *EventPublisher) resetLocked() error {
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// amqpSend publishes a persistent JSON message on the default exchange,
// reusing one connection and channel across calls.
func (p *EventPublisher) amqpSend(ctx context.Context, queueName string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		_ = p.resetLocked()
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("channel open: %w", err)
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("queue declare: %w", err)
		}
		p.conn, p.ch = conn, ch
	}

	err := p.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		_ = p.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// NopPublisher discards every event. It stands in when the broker is
// disabled.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(queue.MobilePostChangedEvent) {}

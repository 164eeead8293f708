package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/metrics"
)

const maxBackoff = 30 * time.Second

// AuditConsumer reads change events from the queue and writes one
// structured log line per event. It reconnects with exponential backoff
// until its context is cancelled.
type AuditConsumer struct {
	url   string
	queue string
	log   *zap.Logger
}

// NewAuditConsumer constructs a consumer for queueName on the broker at url.
func NewAuditConsumer(url, queueName string, log *zap.Logger) *AuditConsumer {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &AuditConsumer{url: url, queue: queueName, log: log.Named("audit")}
}

// Run consumes until ctx is cancelled. It only returns ctx's error.
func (a *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = a.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (a *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(a.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := a.handleMessage(d.Body); err != nil {
				a.log.Warn("handle message failed", zap.Error(err))
				// reject without requeue to avoid a hot loop on a poison message
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (a *AuditConsumer) handleMessage(body []byte) error {
	ev, err := DecodeChangedEvent(body)
	if err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Action == "" {
		return errors.New("event without action")
	}
	metrics.EventsConsumed.WithLabelValues(string(ev.Action)).Inc()
	a.log.Info("mobilepost changed",
		zap.String("event_id", ev.EventID),
		zap.String("action", string(ev.Action)),
		zap.Uint64("id", ev.ID),
		zap.String("mobile_code", ev.MobileCode),
		zap.Int("day_of_week_code", ev.DayOfWeekCode),
		zap.Int("seq", ev.Seq),
		zap.Strings("changed", ev.Changed),
		zap.Int("count", ev.Count),
		zap.String("occurred_at", ev.OccurredAt),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package natsjs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// HandlerFunc processes one job. A returned error redelivers the job later.
type HandlerFunc func(ctx context.Context, job domain.Job) error

// Consumer runs job handlers from a durable JetStream subscription.
type Consumer struct {
	js         nats.JetStreamContext
	durable    string
	maxDeliver int
	logger     *slog.Logger
	sub        *nats.Subscription
}

// NewConsumer creates a consumer on the publisher's connection.
func NewConsumer(p *Publisher, durable string, maxDeliver int, logger *slog.Logger) *Consumer {
	if maxDeliver <= 0 {
		maxDeliver = 5
	}
	return &Consumer{js: p.js, durable: durable, maxDeliver: maxDeliver, logger: logger}
}

// Start subscribes and handles jobs until Stop is called.
func (c *Consumer) Start(ctx context.Context, handle HandlerFunc) error {
	sub, err := c.js.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		c.process(ctx, msg, handle)
	},
		nats.Durable(c.durable),
		nats.ManualAck(),
		nats.AckWait(time.Minute),
		nats.MaxDeliver(c.maxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub
	return nil
}

func (c *Consumer) process(ctx context.Context, msg *nats.Msg, handle HandlerFunc) {
	job, err := decodeJob(msg.Data)
	if err != nil {
		c.logger.Error("dropping malformed job", "subject", msg.Subject, "error", err)
		_ = msg.Term()
		return
	}

	if err := handle(ctx, job); err != nil {
		delay := time.Second
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delay = RedeliveryDelay(meta.NumDelivered)
		}
		c.logger.Warn("job failed, redelivering", "kind", job.Kind, "event_id", job.EventID, "delay", delay, "error", err)
		_ = msg.NakWithDelay(delay)
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.Warn("failed to ack job", "kind", job.Kind, "event_id", job.EventID, "error", err)
	}
}

// RedeliveryDelay doubles from one second per delivery, capped at five minutes.
func RedeliveryDelay(delivered uint64) time.Duration {
	delay := time.Second
	for i := uint64(1); i < delivered && delay < 5*time.Minute; i++ {
		delay *= 2
	}
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}

// Stop drains the subscription.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

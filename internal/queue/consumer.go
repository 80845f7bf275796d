package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, QueueName(queue), handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("reply consumer interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type disposition int

const (
	ack disposition = iota
	deadLetter
	requeue
)

func (d disposition) String() string {
	switch d {
	case ack:
		return "ack"
	case deadLetter:
		return "dead-letter"
	default:
		return "requeue"
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	logger := c.logger.With(
		zap.String("messageId", d.MessageId),
		zap.Int64("deliveryCount", deliveryCount(d)),
	)

	outcome := c.dispatch(ctx, d, handler, logger)

	var err error
	switch outcome {
	case ack:
		err = d.Ack(false)
	case deadLetter:
		err = d.Reject(false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		return fmt.Errorf("failed to %s reply: %w", outcome, err)
	}
	return nil
}

// dispatch decodes and handles one reply. Malformed payloads, replies the
// handler refuses as invalid and replies that keep failing past
// maxDeliveries are dead-lettered; other handler failures are requeued.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler, logger *zap.Logger) disposition {
	var msg ResponseMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Warn("rejecting reply: invalid JSON", zap.Error(err))
		return deadLetter
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("rejecting reply: validation failed", zap.Error(err))
		return deadLetter
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		return ack
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("rejecting reply: handler refused payload", zap.Error(err))
		return deadLetter
	case deliveryCount(d) >= maxDeliveries-1:
		logger.Error("reply handler kept failing, dead-lettering", zap.Error(err))
		return deadLetter
	default:
		logger.Error("reply handler failed, requeueing", zap.Error(err))
		return requeue
	}
}

// deliveryCount reads the x-delivery-count header quorum queues stamp on
// redelivered messages. First deliveries carry no header.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

package queue

import (
	"context"
	"fmt"
	"strings"
)

// DefaultReplyQueue receives replies when no queue name is configured.
const DefaultReplyQueue = "responses.inbound"

// MessageHandler handles a consumed reply message.
type MessageHandler func(ctx context.Context, msg ResponseMessage) error

// Consumer consumes reply messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// QueueName normalises a configured queue name, e.g. " Responses.Inbound ".
func QueueName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultReplyQueue
	}
	return name
}

// DLQName returns the dead-letter queue name for a queue, e.g.
// dlq.responses.inbound.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", QueueName(queue))
}

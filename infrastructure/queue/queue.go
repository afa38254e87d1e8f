// Package queue abstracts job dispatch behind a small publish/consume
// interface, backed by an in-process channel implementation for
// development and tests and by RabbitMQ (github.com/streadway/amqp) in
// production.
package queue

import (
	"context"
)

// Delivery is a single message handed to a consumer. Ack/Nack must be
// called exactly once per delivery.
type Delivery struct {
	Body     []byte
	Priority int
	Ack      func() error
	Nack     func(requeue bool) error
}

// Queue is the publish/consume surface the batch processor and scheduler
// dispatch work through.
type Queue interface {
	// Publish enqueues payload onto queue. Higher priority values are
	// delivered ahead of lower ones where the backend supports it; the
	// in-process implementation honors it, AMQP's default exchange does not.
	Publish(ctx context.Context, queue string, payload []byte, priority int) error

	// Consume returns a channel of deliveries from queue. The AMQP
	// implementation applies prefetch as the limit of unacknowledged
	// messages; the in-process implementation ignores it. The channel closes
	// when ctx is canceled (for AMQP, also when the broker's delivery stream
	// ends); the in-process Close does not close it.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)

	// Close releases any underlying connection.
	Close() error
}

package queue

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPQueue implements Queue against a RabbitMQ broker, declaring each
// queue durable on first use so jobs survive a broker restart.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPQueue dials url and opens a single shared channel.
func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) declare(name string) error {
	_, err := q.ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

// Publish enqueues payload onto queue via the default exchange. AMQP's
// default exchange has no priority concept, so priority only reaches the
// broker as a message property a priority-queue-configured broker may honor.
func (q *AMQPQueue) Publish(ctx context.Context, queue string, payload []byte, priority int) error {
	if err := q.declare(queue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return q.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Priority:    uint8(priority),
		Body:        payload,
	})
}

// Consume starts a manual-ack consumer on queue with the given prefetch
// count, translating amqp deliveries into Deliveries until ctx is canceled.
func (q *AMQPQueue) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := q.declare(queue); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if prefetch > 0 {
		if err := q.ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch for %s: %w", queue, err)
		}
	}

	deliveries, err := q.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := d
				msg := Delivery{
					Body:     delivery.Body,
					Priority: int(delivery.Priority),
					Ack:      func() error { return delivery.Ack(false) },
					Nack:     func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down the channel and connection.
func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

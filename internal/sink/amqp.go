package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Vovarama1992/astro-dispatch/internal/queue"
)

const DefaultAMQPQueue = "dispatch.failed"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes failed envelopes to a durable RabbitMQ queue through the default
// exchange, for inspection in the broker UI.
type AMQP struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    publisher
	queue string
}

func DialAMQP(url, queueName string) (*AMQP, error) {
	if queueName == "" {
		queueName = DefaultAMQPQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", queueName, err)
	}
	return &AMQP{conn: conn, ch: ch, queue: queueName}, nil
}

func (a *AMQP) Put(ctx context.Context, f queue.Failed) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failed envelope: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    f.Envelope.ID,
		Timestamp:    f.FailedAt,
		Type:         "dispatch.failed",
		Headers: amqp.Table{
			"user_id":  strconv.FormatInt(f.Envelope.UserID, 10),
			"attempts": int32(f.Envelope.AttemptCount),
			"reason":   f.Reason,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publish failed envelope %s: %w", f.Envelope.ID, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- a.conn.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

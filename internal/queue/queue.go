package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"
	DeleteQueue = "delete_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"

	// retryDelay is how long a message waits in the _retry queue before it
	// is dead-lettered back onto its work queue.
	retryDelay = 10 * time.Second
)

// Queues lists every work queue consumed by the worker.
var Queues = []string{IngestQueue, DeleteQueue}

// Channel is the subset of *amqp091.Channel used for declaring and
// publishing.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each work queue together with its dead-letter queue
// and a retry queue whose expired messages flow back to the work queue.
func SetupQueues(ch Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + dlqSuffix
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + retrySuffix
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}
	return nil
}

// PublishFIFO sends a persistent message through the default exchange.
func PublishFIFO(ctx context.Context, ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", q.Name, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func PublishJSON(ctx context.Context, ch Channel, queueName string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", queueName, err)
	}
	return PublishFIFO(ctx, ch, queueName, data)
}

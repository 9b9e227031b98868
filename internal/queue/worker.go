package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer is the subset of *amqp091.Channel the worker loop needs.
type Consumer interface {
	Channel
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Handler processes one message body from the named queue.
type Handler interface {
	Handle(ctx context.Context, queueName string, body []byte) error
}

// Worker consumes every queue on one channel and processes a single message
// at a time.
type Worker struct {
	ch      Consumer
	handler Handler
	queues  []string

	afterMessage func(queueName string, d time.Duration, err error)
}

type WorkerOption func(*Worker)

// WithAfterMessage installs a hook that runs after every processed message.
func WithAfterMessage(fn func(queueName string, d time.Duration, err error)) WorkerOption {
	return func(w *Worker) {
		w.afterMessage = fn
	}
}

func WithQueues(names ...string) WorkerOption {
	return func(w *Worker) {
		w.queues = names
	}
}

func NewWorker(ch Consumer, handler Handler, opts ...WorkerOption) *Worker {
	w := &Worker{ch: ch, handler: handler, queues: Queues}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Run blocks until ctx is cancelled or every delivery channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	messages := make(chan queuedMessage)
	open := len(w.queues)
	closed := make(chan string)

	for _, name := range w.queues {
		deliveries, err := w.ch.Consume(name, fmt.Sprintf("%s_consumer", name), false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}
		go func(name string, deliveries <-chan amqp091.Delivery) {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", name)
						select {
						case closed <- name:
						case <-ctx.Done():
						}
						return
					}
					select {
					case messages <- queuedMessage{msg: msg, queueName: name}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(name, deliveries)
	}

	logger.Info("[Queue] Listening for messages", "queues", w.queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			return nil
		case <-closed:
			open--
			if open == 0 {
				return nil
			}
		case qm := <-messages:
			w.process(ctx, qm)
		}
	}
}

func (w *Worker) process(ctx context.Context, qm queuedMessage) {
	start := time.Now()
	logger.Info("[Queue] Received message", "queue", qm.queueName)

	err := w.handler.Handle(ctx, qm.queueName, qm.msg.Body)
	if err != nil {
		logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
		HandleProcessingError(ctx, w.ch, qm.msg, qm.queueName, err)
	} else {
		if ackErr := qm.msg.Ack(false); ackErr != nil {
			logger.Error("[Queue] Failed to ack message", "err", ackErr)
		}
		logger.Info("[Queue] Message processed successfully", "queue", qm.queueName, "duration", time.Since(start))
	}

	if w.afterMessage != nil {
		w.afterMessage(qm.queueName, time.Since(start), err)
	}
}

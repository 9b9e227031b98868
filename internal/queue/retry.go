package queue

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is the number of redeliveries before a message is parked in
// the dead-letter queue.
const MaxRetries = 10

const (
	retriesHeader = "x-retries"
	errorHeader   = "x-error"
)

type permanentError struct {
	err error
}

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Retries reads the retry counter. amqp tables decode integers into
// different widths depending on the publisher.
func Retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}

// HandleProcessingError routes a failed delivery to the retry queue, or to
// the dead-letter queue once it is permanent or out of retries. The original
// delivery is acked once the copy is published and requeued otherwise.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, cause error) {
	retries := Retries(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + retrySuffix
	if IsPermanent(cause) || retries >= MaxRetries {
		target = queueName + dlqSuffix
		if cause != nil {
			headers[errorHeader] = cause.Error()
		}
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries, "err", cause)
	} else {
		headers[retriesHeader] = int32(retries + 1)
		logger.Info("[Queue] Scheduling retry", "queue", target, "attempt", retries+1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}

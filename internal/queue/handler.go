package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/OFFIS-RIT/kgstore/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Outcomes reported by handleProcessingError.
const (
	outcomeRetry = "retry"
	outcomeDLQ   = "dlq"
	outcomeNack  = "nack"
)

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// remainingBody drops the mutations a partially applied batch already
// committed so a retry does not repeat them.
func remainingBody(queueName string, body []byte, err error) []byte {
	var be *BatchError
	if queueName != GraphMutationQueue || !errors.As(err, &be) || be.Applied == 0 {
		return body
	}
	var batch MutationBatch
	if json.Unmarshal(body, &batch) != nil || be.Applied >= len(batch.Mutations) {
		return body
	}
	batch.Mutations = batch.Mutations[be.Applied:]
	out, mErr := json.Marshal(batch)
	if mErr != nil {
		return body
	}
	return out
}

// handleProcessingError moves a failed delivery to the retry queue, or to
// the dead-letter queue once it was retried maxRetries times or the error
// is permanent. The delivery is acked once the copy is published and
// requeued when publishing fails.
func handleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, procErr error) string {
	retries := retryCount(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	var perm *PermanentError
	if retries >= maxRetries || errors.As(procErr, &perm) {
		dlqName := queueName + dlqSuffix
		headers["x-error"] = procErr.Error()
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		if err := Publish(ctx, ch, dlqName, msg.Body, headers); err != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", err)
			_ = msg.Nack(false, true)
			return outcomeNack
		}
		_ = msg.Ack(false)
		return outcomeDLQ
	}

	retryName := queueName + retrySuffix
	headers[retriesHeader] = int32(retries + 1)
	body := remainingBody(queueName, msg.Body, procErr)
	if err := Publish(ctx, ch, retryName, body, headers); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return outcomeNack
	}
	_ = msg.Ack(false)
	return outcomeRetry
}

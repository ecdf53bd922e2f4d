package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/internal/timing"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

// Worker consumes the work queues and processes one message at a time so
// mutation batches are applied in delivery order.
type Worker struct {
	Store *store.GraphStore
	// Exporter is optional; community jobs asking for an export are
	// acknowledged without one when it is nil.
	Exporter *storage.Exporter
	// Metrics is optional.
	Metrics *metrics.Collector
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Run declares the queues on conn and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context, conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := SetupQueues(ch, Queues); err != nil {
		return err
	}

	// prefetch=1 across the channel delivers only one message at a time
	// over all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messageChan := make(chan queuedMessage)
	for _, queueName := range Queues {
		msgs, err := consumerCh.Consume(queueName, queueName+"_consumer", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", queueName, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", queueName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: queueName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	logger.Info("[Queue] Listening for messages", "queues", Queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			return nil
		case qm := <-messageChan:
			w.handle(ctx, ch, qm)
		}
	}
}

func (w *Worker) handle(ctx context.Context, ch Channel, qm queuedMessage) {
	start := time.Now()
	err := w.Process(ctx, qm.queueName, qm.msg.Body)

	status := "ok"
	if err != nil {
		logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
		status = handleProcessingError(ctx, ch, qm.msg, qm.queueName, err)
	} else if ackErr := qm.msg.Ack(false); ackErr != nil {
		logger.Error("[Queue] Failed to ack message", "err", ackErr)
	}
	if w.Metrics != nil {
		w.Metrics.Jobs.WithLabelValues(qm.queueName, status).Inc()
	}
	logger.Info("[Queue] Message handled", "queue", qm.queueName, "status", status, "duration", timing.FormatDuration(time.Since(start)))
}

// Process decodes and applies one message body from queueName.
func (w *Worker) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case GraphMutationQueue:
		batch, err := DecodeBatch(body)
		if err != nil {
			return err
		}
		_, err = ProcessMutationBatch(ctx, w.Store, batch)
		return err
	case CommunityQueue:
		job, err := DecodeCommunityJob(body)
		if err != nil {
			return err
		}
		_, err = ProcessCommunityJob(ctx, w.Store, w.Exporter, job)
		return err
	}
	return permanent(fmt.Errorf("unknown queue %q", queueName))
}

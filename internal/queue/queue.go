// Package queue applies graph mutations and community detection jobs
// received over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	GraphMutationQueue = "graph_mutation_queue"
	CommunityQueue     = "community_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"

	// retryDelay is how long a failed message waits in the retry queue
	// before it is dead-lettered back onto its work queue.
	retryDelay = 10 * time.Second
	// maxRetries is the number of redeliveries before a message goes to
	// the dead-letter queue.
	maxRetries = 10

	retriesHeader = "x-retries"
)

// Queues lists every work queue the worker consumes.
var Queues = []string{GraphMutationQueue, CommunityQueue}

// Channel is the part of *amqp091.Channel used for declaring and
// publishing.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

var _ Channel = (*amqp091.Channel)(nil)

// Dial connects to the broker at url.
func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each work queue with its dead-letter queue and a
// retry queue that hands messages back after retryDelay.
func SetupQueues(ch Channel, names []string) error {
	for _, name := range names {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(name+dlqSuffix, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring %s: %w", name+dlqSuffix, err)
		}
		_, err := ch.QueueDeclare(
			name+retrySuffix,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declaring %s: %w", name+retrySuffix, err)
		}
	}
	return nil
}

// Publish sends a persistent JSON message to the named queue on the default
// exchange.
func Publish(ctx context.Context, ch Channel, queueName string, data []byte, headers amqp091.Table) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, ch Channel, queueName string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return Publish(ctx, ch, queueName, data, nil)
}

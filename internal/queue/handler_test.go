package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	queue string
	msg   amqp091.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	publishErr error
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{queue: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acks++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func delivery(body []byte, headers amqp091.Table) (amqp091.Delivery, *fakeAck) {
	ack := &fakeAck{}
	return amqp091.Delivery{Acknowledger: ack, Body: body, Headers: headers}, ack
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, Queues); err != nil {
		t.Fatalf("SetupQueues: %v", err)
	}
	want := []string{
		"graph_mutation_queue", "graph_mutation_queue_dlq", "graph_mutation_queue_retry",
		"community_queue", "community_queue_dlq", "community_queue_retry",
	}
	if len(ch.declared) != len(want) {
		t.Fatalf("declared %v, want %v", ch.declared, want)
	}
	for i := range want {
		if ch.declared[i] != want[i] {
			t.Fatalf("declared %v, want %v", ch.declared, want)
		}
	}
}

func TestRetryCount(t *testing.T) {
	for _, h := range []amqp091.Table{{"x-retries": int32(3)}, {"x-retries": int64(3)}, {"x-retries": 3}} {
		if got := retryCount(h); got != 3 {
			t.Fatalf("retryCount(%v) = %d", h, got)
		}
	}
	if got := retryCount(nil); got != 0 {
		t.Fatalf("retryCount(nil) = %d", got)
	}
}

func TestHandleProcessingErrorRetries(t *testing.T) {
	ch := &fakeChannel{}
	msg, ack := delivery([]byte(`{}`), amqp091.Table{"x-retries": int32(2)})

	out := handleProcessingError(context.Background(), ch, msg, CommunityQueue, errors.New("timeout"))
	if out != outcomeRetry || ack.acks != 1 {
		t.Fatalf("expected acked retry, got %s with %d acks", out, ack.acks)
	}
	if len(ch.published) != 1 || ch.published[0].queue != "community_queue_retry" {
		t.Fatalf("unexpected publishes %+v", ch.published)
	}
	if got := ch.published[0].msg.Headers["x-retries"]; got != int32(3) {
		t.Fatalf("expected x-retries 3, got %v", got)
	}
	// the original headers are not modified
	if msg.Headers["x-retries"] != int32(2) {
		t.Fatalf("delivery headers were mutated")
	}
}

func TestHandleProcessingErrorDeadLetters(t *testing.T) {
	tests := map[string]struct {
		headers amqp091.Table
		err     error
	}{
		"Exhausted": {amqp091.Table{"x-retries": int32(maxRetries)}, errors.New("timeout")},
		"Permanent": {nil, permanent(errors.New("bad json"))},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ch := &fakeChannel{}
			msg, ack := delivery([]byte(`{}`), tt.headers)
			out := handleProcessingError(context.Background(), ch, msg, GraphMutationQueue, tt.err)
			if out != outcomeDLQ || ack.acks != 1 {
				t.Fatalf("expected acked dlq, got %s with %d acks", out, ack.acks)
			}
			if len(ch.published) != 1 || ch.published[0].queue != "graph_mutation_queue_dlq" {
				t.Fatalf("unexpected publishes %+v", ch.published)
			}
		})
	}
}

func TestHandleProcessingErrorRequeuesOnPublishFailure(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	msg, ack := delivery([]byte(`{}`), nil)
	out := handleProcessingError(context.Background(), ch, msg, CommunityQueue, errors.New("timeout"))
	if out != outcomeNack || ack.nacks != 1 || !ack.requeued {
		t.Fatalf("expected requeue, got %s nacks=%d requeued=%v", out, ack.nacks, ack.requeued)
	}
}

func TestRetryDropsAppliedMutations(t *testing.T) {
	batch := MutationBatch{CorrelationID: "c1", Mutations: []Mutation{
		{Op: OpAddNode, Node: &common.Node{UID: "a"}},
		{Op: OpAddNode, Node: &common.Node{UID: "b"}},
		{Op: OpAddNode, Node: &common.Node{UID: "c"}},
	}}
	body, _ := json.Marshal(batch)
	ch := &fakeChannel{}
	msg, _ := delivery(body, nil)

	handleProcessingError(context.Background(), ch, msg, GraphMutationQueue, &BatchError{Applied: 2, Err: errors.New("timeout")})

	var retried MutationBatch
	if err := json.Unmarshal(ch.published[0].msg.Body, &retried); err != nil {
		t.Fatalf("decoding retried body: %v", err)
	}
	if retried.CorrelationID != "c1" || len(retried.Mutations) != 1 || retried.Mutations[0].Node.UID != "c" {
		t.Fatalf("unexpected retried batch %+v", retried)
	}
}

func TestWorkerProcessUnknownQueue(t *testing.T) {
	w := &Worker{}
	var perm *PermanentError
	if err := w.Process(context.Background(), "nope", nil); !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

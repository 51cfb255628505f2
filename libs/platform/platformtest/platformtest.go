// Package platformtest wires the outbox and inbox over the memory store and
// memory broker for service tests.
package platformtest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/membroker"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/libs/retry"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type Env struct {
	Store      *memstore.Store
	Broker     *membroker.Broker
	Sender     *broker.Sender
	OutboxRepo *outbox.MemoryRepository
	InboxRepo  *inbox.MemoryRepository
	Outbox     *outbox.Publisher
	Inbox      *inbox.Consumer
	Logger     *slog.Logger
}

func New(maxAttempts int) *Env {
	s := memstore.New()
	b := membroker.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := broker.NewSender(b, broker.DefaultQueueOptions(), logger)
	outboxRepo := outbox.NewMemoryRepository(s)
	inboxRepo := inbox.NewMemoryRepository(s)
	return &Env{
		Store:      s,
		Broker:     b,
		Sender:     sender,
		OutboxRepo: outboxRepo,
		InboxRepo:  inboxRepo,
		Outbox:     outbox.NewPublisher(s, outboxRepo, sender, events.Routes, logger),
		Inbox:      inbox.NewConsumer(s, inboxRepo, retry.NewMemory(time.Minute), sender, logger, inbox.Config{MaxAttempts: maxAttempts}),
		Logger:     logger,
	}
}

// Run starts a supervisor for subs and waits until it consumes. It is stopped
// when the test ends.
func (e *Env) Run(t testing.TB, subs ...consumer.Subscription) *consumer.Supervisor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sup := consumer.New(e.Broker, e.Logger, consumer.Config{
		RetryDelay:   5 * time.Millisecond,
		CloseTimeout: time.Second,
		Queue:        broker.DefaultQueueOptions(),
	}, subs...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	WaitFor(t, "supervisor consuming", func() bool { return sup.State() == consumer.Consuming })
	return sup
}

// Deliver puts an event on queue as its producer would.
func (e *Env) Deliver(t testing.TB, queue, messageID, eventType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	e.Broker.Inject(queue, broker.NewJSONPublishing(messageID, eventType, body))
}

// Published decodes every message waiting on queue.
func Published[T any](t testing.TB, e *Env, queue string) []T {
	t.Helper()
	var out []T
	for _, msg := range e.Broker.Messages(queue) {
		var v T
		if err := json.Unmarshal(msg.Body, &v); err != nil {
			t.Fatalf("decode message on %s: %v", queue, err)
		}
		out = append(out, v)
	}
	return out
}

func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

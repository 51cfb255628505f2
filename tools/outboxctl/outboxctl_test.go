package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/membroker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/natsjs"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deadLetter(id string) broker.Publishing {
	msg := broker.NewJSONPublishing(id, "OrderCreated", []byte(`{"orderId":"`+id+`"}`))
	msg.Headers["traceparent"] = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	msg.Headers[inbox.HeaderDeathReason] = "boom"
	msg.Headers[inbox.HeaderDeathQueue] = "order_created_queue"
	msg.Headers[inbox.HeaderDeathAttempts] = "5"
	return msg
}

func TestReplayDeadLettersMovesMessagesBack(t *testing.T) {
	b := membroker.New()
	dlq := broker.DeadLetterQueue("order_created_queue")
	first, second := uuid.NewString(), uuid.NewString()
	b.Inject(dlq, deadLetter(first))
	b.Inject(dlq, deadLetter(second))

	sender := broker.NewSender(b, broker.DefaultQueueOptions(), discard())
	defer sender.Close()

	n, err := replayDeadLetters(context.Background(), b, sender, "order_created_queue", ReplayOptions{Idle: 50 * time.Millisecond}, discard())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 replayed, got %d", n)
	}
	if got := b.Depth(dlq); got != 0 {
		t.Fatalf("expected empty dead-letter queue, got %d", got)
	}

	msgs := b.Messages("order_created_queue")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages on source queue, got %d", len(msgs))
	}
	if msgs[0].MessageID != first || msgs[1].MessageID != second {
		t.Fatalf("message ids not preserved in order: %s %s", msgs[0].MessageID, msgs[1].MessageID)
	}
	for _, m := range msgs {
		if _, ok := m.Headers[inbox.HeaderDeathReason]; ok {
			t.Fatalf("death headers not stripped: %v", m.Headers)
		}
		if m.Headers["traceparent"] == "" {
			t.Fatalf("trace headers dropped: %v", m.Headers)
		}
		if !m.Persistent || !m.Republish {
			t.Fatalf("replayed message must be a persistent republish: %+v", m)
		}
	}
}

func TestReplayDeadLettersHonoursMax(t *testing.T) {
	b := membroker.New()
	dlq := broker.DeadLetterQueue("payment_processed_queue")
	for i := 0; i < 3; i++ {
		b.Inject(dlq, deadLetter(uuid.NewString()))
	}
	sender := broker.NewSender(b, broker.DefaultQueueOptions(), discard())
	defer sender.Close()

	n, err := replayDeadLetters(context.Background(), b, sender, "payment_processed_queue", ReplayOptions{Idle: time.Second, Max: 2}, discard())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 replayed, got %d", n)
	}
	if got := b.Depth(dlq); got != 1 {
		t.Fatalf("expected 1 message left in dead-letter queue, got %d", got)
	}
}

func TestReplayDeadLettersKeepsMessageWhenRepublishFails(t *testing.T) {
	b := membroker.New()
	dlq := broker.DeadLetterQueue("user_created_queue")
	b.Inject(dlq, deadLetter(uuid.NewString()))

	target := membroker.New()
	target.FailNextDials(10)
	sender := broker.NewSender(target, broker.DefaultQueueOptions(), discard())
	defer sender.Close()

	n, err := replayDeadLetters(context.Background(), b, sender, "user_created_queue", ReplayOptions{Idle: time.Second}, discard())
	if err == nil {
		t.Fatalf("expected republish error")
	}
	if n != 0 {
		t.Fatalf("expected nothing replayed, got %d", n)
	}
	waitDepth(t, b, dlq, 1)
}

func waitDepth(t *testing.T, b *membroker.Broker, queue string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Depth(queue) != want {
		if time.Now().After(deadline) {
			t.Fatalf("queue %s depth %d, want %d", queue, b.Depth(queue), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadProfileAndConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outboxctl.toml")
	body := `
[broker]
driver = "kafka"
kafka_brokers = ["k1:9092", "k2:9092"]

[services.order-service]
database_url = "postgres://orders@localhost:5432/orders"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg, err := p.Config("order-service")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.BrokerDriver != platform.BrokerKafka || len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected broker settings %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://orders@localhost:5432/orders" {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if !cfg.Queue.Durable {
		t.Fatalf("queues must be durable")
	}

	t.Setenv("DATABASE_URL", "postgres://env/users")
	cfg, err = p.Config("user-service")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/users" {
		t.Fatalf("expected env fallback, got %q", cfg.DatabaseURL)
	}

	if _, err := p.Config("booking-service"); err == nil {
		t.Fatalf("expected unknown service error")
	}
	if _, err := p.Config(""); err == nil {
		t.Fatalf("expected missing service error")
	}
}

func TestLoadProfileMissingFileIsEmpty(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing profile should not fail: %v", err)
	}
	if p.Broker.Driver != "" || len(p.Services) != 0 {
		t.Fatalf("expected empty profile, got %+v", p)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[broker\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPrintPendingTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evts := []outbox.Event{{
		ID:        uuid.MustParse("6f1c2c7e-8f4b-4c53-9a0e-1b7f3d2a4c10"),
		EventType: "PaymentProcessed",
		Payload:   []byte(`{"amount":42.5}`),
		CreatedAt: now.Add(-90 * time.Second),
	}}

	var buf bytes.Buffer
	printPendingTable(&buf, pendingRows(evts, now))
	out := buf.String()
	for _, want := range []string{"PaymentProcessed", "6f1c2c7e-8f4b-4c53-9a0e-1b7f3d2a4c10", "1m30s", "1 pending"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReplayDeadLettersOnJetStreamAfterOriginalWasConsumed(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const queue = "order_created_queue"
	dialer := natsjs.Dialer{URL: srv.ClientURL()}
	sender := broker.NewSender(dialer, broker.DefaultQueueOptions(), discard())
	defer sender.Close()

	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel(ctx)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer ch.Close()
	if err := ch.DeclareQueue(ctx, queue, broker.DefaultQueueOptions()); err != nil {
		t.Fatalf("declare: %v", err)
	}
	deliveries, err := ch.Consume(ctx, queue)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	receive := func() broker.Delivery {
		t.Helper()
		select {
		case d := <-deliveries:
			return d
		case <-time.After(3 * time.Second):
			t.Fatalf("no delivery on %s", queue)
		}
		return broker.Delivery{}
	}

	// the original is consumed, fails for good and is dead-lettered
	id := uuid.NewString()
	if err := sender.Send(ctx, queue, broker.NewJSONPublishing(id, "OrderCreated", []byte(`{"Id":"`+id+`"}`))); err != nil {
		t.Fatalf("publish original: %v", err)
	}
	original := receive()
	dead := revive(original)
	dead.Headers[inbox.HeaderDeathReason] = "boom"
	if err := sender.Send(ctx, broker.DeadLetterQueue(queue), dead); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if err := original.Ack(); err != nil {
		t.Fatalf("ack original: %v", err)
	}

	n, err := replayDeadLetters(ctx, dialer, sender, queue, ReplayOptions{Idle: 500 * time.Millisecond}, discard())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 replayed, got %d", n)
	}
	replayed := receive()
	if replayed.MessageID != id {
		t.Fatalf("replayed message id %q, want %q", replayed.MessageID, id)
	}
	if replayed.Header(inbox.HeaderDeathReason) != "" {
		t.Fatalf("death headers not stripped: %v", replayed.Headers)
	}
	_ = replayed.Ack()
}

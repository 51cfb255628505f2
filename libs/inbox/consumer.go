// Package inbox turns broker deliveries into exactly-once side effects.
//
// For every delivery the consumer opens a transaction, records the event id,
// runs the handler and marks the event processed. The delivery is acknowledged
// only after commit. A known event id skips the handler and is acknowledged.
// Failures roll back and requeue; after MaxAttempts the delivery moves to the
// dead-letter queue.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
	"github.com/md-rashed-zaman/eventrelay/libs/retry"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxAttempts = 5

const (
	HeaderDeathReason   = "x-death-reason"
	HeaderDeathQueue    = "x-death-queue"
	HeaderDeathAttempts = "x-death-attempts"
)

var ErrMalformed = errors.New("malformed event payload")

// HandlerFunc performs the side effect of an event inside the inbox transaction.
type HandlerFunc func(ctx context.Context, evt Event) error

// JSON decodes the payload into T before calling fn.
func JSON[T any](fn func(ctx context.Context, evt Event, payload T) error) HandlerFunc {
	return func(ctx context.Context, evt Event) error {
		var payload T
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fn(ctx, evt, payload)
	}
}

type Sender interface {
	Send(ctx context.Context, queue string, msg broker.Publishing) error
}

type Config struct {
	// MaxAttempts bounds failed attempts per event before dead-lettering.
	// Zero or less requeues forever.
	MaxAttempts int
}

type Consumer struct {
	tx          store.Transactor
	repo        Repository
	tracker     retry.Tracker
	deadLetters Sender
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

func NewConsumer(tx store.Transactor, repo Repository, tracker retry.Tracker, deadLetters Sender, logger *slog.Logger, cfg Config) *Consumer {
	return &Consumer{
		tx:          tx,
		repo:        repo,
		tracker:     tracker,
		deadLetters: deadLetters,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe binds fn to queue for events of eventType.
func (c *Consumer) Subscribe(queue, eventType string, fn HandlerFunc) consumer.Subscription {
	return consumer.Subscription{
		Queue: queue,
		Handler: func(ctx context.Context, d broker.Delivery) {
			c.Handle(ctx, eventType, fn, d)
		},
	}
}

// Handle processes and settles one delivery.
func (c *Consumer) Handle(ctx context.Context, eventType string, fn HandlerFunc, d broker.Delivery) {
	ctx = otelx.ExtractHeaders(ctx, d.Headers)
	ctx, span := otel.Tracer("inbox").Start(ctx, d.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", d.Queue),
			attribute.String("messaging.message.id", d.MessageID),
			attribute.Bool("messaging.redelivered", d.Redelivered),
		),
	)
	defer span.End()

	id := EventID(d)
	logger := c.logger.With("queue", d.Queue, "event_id", id.String(), "event_type", eventType)

	evt, err := c.decode(id, eventType, d)
	var duplicate bool
	if err == nil {
		duplicate, err = c.process(ctx, evt, fn)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(ctx, logger, d, id, err)
		return
	}

	if err := d.Ack(); err != nil {
		// committed; the redelivery will be recognised as a duplicate
		logger.Warn("ack failed after commit", "err", err)
	}
	if duplicate {
		logger.Info("duplicate event ignored")
	}
	c.resetAttempts(ctx, logger, d.Queue, id)
}

func (c *Consumer) decode(id uuid.UUID, eventType string, d broker.Delivery) (Event, error) {
	if !utf8.Valid(d.Body) || !json.Valid(d.Body) {
		return Event{}, fmt.Errorf("%w: body is not UTF-8 JSON", ErrMalformed)
	}
	if d.Type != "" && d.Type != eventType {
		return Event{}, fmt.Errorf("%w: unexpected event type %q", ErrMalformed, d.Type)
	}
	return Event{
		ID:        id,
		EventType: eventType,
		Queue:     d.Queue,
		Payload:   d.Body,
		CreatedAt: c.now(),
	}, nil
}

func (c *Consumer) process(ctx context.Context, evt Event, fn HandlerFunc) (duplicate bool, err error) {
	err = c.tx.InTx(ctx, func(ctx context.Context) error {
		inserted, err := c.repo.Insert(ctx, evt)
		if err != nil {
			return fmt.Errorf("record incoming event: %w", err)
		}
		if !inserted {
			duplicate = true
			return nil
		}
		if err := fn(ctx, evt); err != nil {
			return err
		}
		return c.repo.MarkProcessed(ctx, evt.Queue, evt.ID, c.now())
	})
	return duplicate, err
}

func (c *Consumer) fail(ctx context.Context, logger *slog.Logger, d broker.Delivery, id uuid.UUID, cause error) {
	attempts, err := c.tracker.Incr(ctx, attemptKey(d.Queue, id))
	if err != nil {
		logger.Warn("attempt tracking failed", "err", err)
		attempts = 0
	}
	logger.Error("event processing failed", "err", cause, "attempt", attempts)

	if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
		if err := c.deadLetter(ctx, d, cause, attempts); err != nil {
			logger.Error("dead-lettering failed, requeueing", "err", err)
		} else {
			if err := d.Ack(); err != nil {
				logger.Warn("ack after dead-lettering failed", "err", err)
			}
			logger.Warn("event moved to dead-letter queue", "dead_letter_queue", broker.DeadLetterQueue(d.Queue), "attempts", attempts)
			c.resetAttempts(ctx, logger, d.Queue, id)
			return
		}
	}

	if err := d.Nack(true); err != nil {
		logger.Warn("nack failed", "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, d broker.Delivery, cause error, attempts int) error {
	msg := broker.Publishing{
		ContentType: d.ContentType,
		Persistent:  true,
		MessageID:   d.MessageID,
		Type:        d.Type,
		Headers:     make(map[string]string, len(d.Headers)+3),
		Body:        d.Body,
		Republish:   true,
	}
	for k, v := range d.Headers {
		msg.Headers[k] = v
	}
	msg.Headers[HeaderDeathReason] = cause.Error()
	msg.Headers[HeaderDeathQueue] = d.Queue
	msg.Headers[HeaderDeathAttempts] = strconv.Itoa(attempts)
	return c.deadLetters.Send(ctx, broker.DeadLetterQueue(d.Queue), msg)
}

func (c *Consumer) resetAttempts(ctx context.Context, logger *slog.Logger, queue string, id uuid.UUID) {
	if err := c.tracker.Reset(ctx, attemptKey(queue, id)); err != nil {
		logger.Debug("attempt reset failed", "err", err)
	}
}

func attemptKey(queue string, id uuid.UUID) string {
	return queue + ":" + id.String()
}

// EventID returns the producer's event id. Messages without a usable id get a
// stable one derived from their content so redeliveries still collide.
func EventID(d broker.Delivery) uuid.UUID {
	if d.MessageID != "" {
		if id, err := uuid.Parse(d.MessageID); err == nil {
			return id
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.MessageID))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte(d.Queue+"\x00"), d.Body...))
}

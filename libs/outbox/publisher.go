// Package outbox persists domain events next to the change they announce and
// forwards them to the broker once the transaction committed.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPublish is returned when the change committed but the broker did not
// confirm the event. The relay retries it later.
var ErrPublish = errors.New("event stored but not published")

var errDuplicateEvent = errors.New("outgoing event already exists")

type Sender interface {
	Send(ctx context.Context, queue string, msg broker.Publishing) error
}

type Publisher struct {
	tx     store.Transactor
	repo   Repository
	sender Sender
	routes map[string][]string
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(tx store.Transactor, repo Repository, sender Sender, routes map[string][]string, logger *slog.Logger) *Publisher {
	return &Publisher{
		tx:     tx,
		repo:   repo,
		sender: sender,
		routes: routes,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish runs mutate and stores the event built from its result in one
// transaction, then publishes the event to every queue routed for eventType.
//
// Called inside an open transaction (a consumer's unit of work), publishing is
// deferred until that outer transaction commits and failures are left to the
// relay. Otherwise a failed publish returns the committed entity together with
// an error wrapping ErrPublish.
func Publish[T any](ctx context.Context, p *Publisher, eventType string, mutate func(ctx context.Context) (T, error), payload func(T) any) (T, error) {
	var (
		entity T
		pubErr error
	)
	nested := store.InTransaction(ctx)

	err := p.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		entity, err = mutate(ctx)
		if err != nil {
			return err
		}
		evt, err := p.newEvent(ctx, eventType, payload(entity))
		if err != nil {
			return err
		}
		if err := p.repo.Insert(ctx, evt); err != nil {
			return fmt.Errorf("insert outgoing event: %w", err)
		}
		store.AfterCommit(ctx, func(ctx context.Context) {
			pubErr = p.forward(ctx, evt)
		})
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !nested && pubErr != nil {
		return entity, fmt.Errorf("%w: %w", ErrPublish, pubErr)
	}
	return entity, nil
}

func (p *Publisher) newEvent(ctx context.Context, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return Event{
		ID:          uuid.New(),
		EventType:   eventType,
		Payload:     body,
		CreatedAt:   p.now(),
		Traceparent: traceparent,
		Tracestate:  tracestate,
	}, nil
}

// forward publishes a committed event and marks it processed.
func (p *Publisher) forward(ctx context.Context, evt Event) error {
	if err := p.send(ctx, evt); err != nil {
		p.logger.Warn("event publish failed, left for relay", "event_id", evt.ID.String(), "event_type", evt.EventType, "err", err)
		return err
	}
	if err := p.repo.MarkProcessed(ctx, []uuid.UUID{evt.ID}, p.now()); err != nil {
		p.logger.Warn("marking event processed failed", "event_id", evt.ID.String(), "err", err)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, evt Event) error {
	queues := p.routes[evt.EventType]
	if len(queues) == 0 {
		return fmt.Errorf("no queue routed for event type %s", evt.EventType)
	}

	ctx = otelx.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
	ctx, span := otel.Tracer("outbox").Start(ctx, evt.EventType+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", evt.ID.String()),
			attribute.String("messaging.operation", "publish"),
		),
	)
	defer span.End()

	for _, queue := range queues {
		msg := broker.NewJSONPublishing(evt.ID.String(), evt.EventType, evt.Payload)
		if err := p.sender.Send(ctx, queue, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

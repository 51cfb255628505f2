// Package consumer keeps a worker attached to the broker.
//
// A Supervisor dials, declares its queues once per connection, subscribes and
// hands deliveries to handlers. Any connection or channel fault sends it back
// to Disconnected and it reconnects after a fixed delay, forever, until its
// context is cancelled.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
)

const (
	DefaultRetryDelay   = 5 * time.Second
	DefaultCloseTimeout = 5 * time.Second
)

var errCloseTimeout = errors.New("close timed out")

// Handler processes one delivery and settles it with Ack or Nack.
type Handler func(ctx context.Context, d broker.Delivery)

type Subscription struct {
	Queue   string
	Handler Handler
}

type Config struct {
	RetryDelay   time.Duration
	CloseTimeout time.Duration
	Queue        broker.QueueOptions
	// OnTransition is called synchronously on every state change.
	OnTransition func(from, to State)
}

type Supervisor struct {
	dialer broker.Dialer
	logger *slog.Logger
	cfg    Config
	subs   []Subscription

	state atomic.Int32
}

func New(dialer broker.Dialer, logger *slog.Logger, cfg Config, subs ...Subscription) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	return &Supervisor{dialer: dialer, logger: logger, cfg: cfg, subs: subs}
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Info("consumer state changed", "from", from.String(), "to", to.String())
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}

type session struct {
	conn broker.Connection
	ch   broker.Channel
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.transition(Disconnected)

	for attempt := 1; ctx.Err() == nil; attempt++ {
		s.transition(Connecting)
		sess, err := s.connect(ctx)
		if err != nil {
			s.transition(Disconnected)
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("broker connect failed", "err", err, "attempt", attempt, "retry_in", s.cfg.RetryDelay.String())
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		attempt = 0

		s.transition(Subscribing)
		err = s.consume(ctx, sess)
		s.close(sess)
		s.transition(Disconnected)
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("broker session lost", "err", err, "retry_in", s.cfg.RetryDelay.String())
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) (*session, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	sess := &session{conn: conn, ch: ch}
	for _, sub := range s.subs {
		if err := ch.DeclareQueue(ctx, sub.Queue, s.cfg.Queue); err != nil {
			s.close(sess)
			return nil, fmt.Errorf("declare %s: %w", sub.Queue, err)
		}
	}
	return sess, nil
}

// consume subscribes every queue and dispatches until ctx ends or a stream closes.
func (s *Supervisor) consume(ctx context.Context, sess *session) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := make([]<-chan broker.Delivery, len(s.subs))
	for i, sub := range s.subs {
		deliveries, err := sess.ch.Consume(sessCtx, sub.Queue)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.Queue, err)
		}
		streams[i] = deliveries
	}
	s.transition(Consuming)

	faults := make(chan string, len(s.subs))
	var wg sync.WaitGroup
	for i, sub := range s.subs {
		wg.Add(1)
		go func(sub Subscription, deliveries <-chan broker.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-sessCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						faults <- sub.Queue
						return
					}
					s.dispatch(sessCtx, sub, d)
				}
			}
		}(sub, streams[i])
	}

	select {
	case <-ctx.Done():
		// in-flight handlers are not awaited; their deliveries return to the queue
		return ctx.Err()
	case queue := <-faults:
		cancel()
		wg.Wait()
		return fmt.Errorf("delivery stream for %s closed", queue)
	}
}

func (s *Supervisor) dispatch(ctx context.Context, sub Subscription, d broker.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "queue", sub.Queue, "event_id", d.MessageID, "panic", fmt.Sprint(r))
			if err := d.Nack(true); err != nil {
				s.logger.Error("nack after panic failed", "queue", sub.Queue, "err", err)
			}
		}
	}()
	sub.Handler(ctx, d)
}

// close shuts the channel and then the connection, waiting at most CloseTimeout for each.
func (s *Supervisor) close(sess *session) {
	if sess.ch != nil {
		if err := closeWithin(s.cfg.CloseTimeout, sess.ch.Close); err != nil {
			s.logger.Warn("channel close failed", "err", err)
		}
	}
	if err := closeWithin(s.cfg.CloseTimeout, sess.conn.Close); err != nil {
		s.logger.Warn("connection close failed", "err", err)
	}
}

func closeWithin(d time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return errCloseTimeout
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
)

// Sender publishes over a lazily dialled shared connection, opening a fresh
// channel for every message. It never uses a consumer's channel.
type Sender struct {
	dialer Dialer
	opts   QueueOptions
	logger *slog.Logger

	mu   sync.Mutex
	conn Connection
}

func NewSender(dialer Dialer, opts QueueOptions, logger *slog.Logger) *Sender {
	return &Sender{dialer: dialer, opts: opts, logger: logger}
}

// Send declares queue and publishes msg, waiting for the broker confirmation.
// The trace context of ctx is added to the message headers.
func (s *Sender) Send(ctx context.Context, queue string, msg Publishing) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}

	ch, err := conn.Channel(ctx)
	if err != nil {
		s.reset(conn)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.DeclareQueue(ctx, queue, s.opts); err != nil {
		if IsConnectivity(err) {
			s.reset(conn)
		}
		return fmt.Errorf("declare %s: %w", queue, err)
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otelx.InjectHeaders(ctx, headers)
	msg.Headers = headers

	if err := ch.Publish(ctx, queue, msg); err != nil {
		if IsConnectivity(err) {
			s.reset(conn)
		}
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

func (s *Sender) connection(ctx context.Context) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *Sender) reset(conn Connection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	if err := conn.Close(); err != nil && s.logger != nil {
		s.logger.Debug("closing broken publisher connection", "err", err)
	}
}

func (s *Sender) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Ready dials the broker through the shared connection for /readyz.
func (s *Sender) Ready(ctx context.Context) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel(ctx)
	if err != nil {
		s.reset(conn)
		return err
	}
	return ch.Close()
}

// Package kafkax implements the broker gateway over Kafka.
//
// A queue is a topic and consumers of one service share a consumer group.
// Ack commits the offset. Nack with requeue republishes the message to the end
// of its topic with an incremented x-redelivery header and then commits,
// which keeps the partition moving while the message gets another attempt.
package kafkax

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/segmentio/kafka-go"
)

type Dialer struct {
	Brokers           []string
	GroupID           string
	Partitions        int
	ReplicationFactor int
	DialTimeout       time.Duration
}

var _ broker.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context) (broker.Connection, error) {
	if len(d.Brokers) == 0 {
		return nil, broker.Connectivity("dial", errors.New("kafka brokers not configured"))
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &kafka.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Brokers[0])
	if err != nil {
		return nil, broker.Connectivity("dial", err)
	}
	if d.Partitions <= 0 {
		d.Partitions = 1
	}
	if d.ReplicationFactor <= 0 {
		d.ReplicationFactor = 1
	}
	return &connection{cfg: d, dialer: dialer, conn: conn}, nil
}

type connection struct {
	cfg    Dialer
	dialer *kafka.Dialer
	conn   *kafka.Conn

	mu       sync.Mutex
	closed   bool
	channels []*channel
}

func (c *connection) Channel(ctx context.Context) (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.Connectivity("open channel", net.ErrClosed)
	}
	ch := &channel{
		conn: c,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(c.cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	return c.conn.Close()
}

type channel struct {
	conn   *connection
	writer *kafka.Writer

	mu      sync.Mutex
	closed  bool
	readers []*kafka.Reader
	cancels []context.CancelFunc
}

// DeclareQueue creates the topic through the cluster controller. Topics are
// always durable so the queue options have no Kafka equivalent.
func (c *channel) DeclareQueue(ctx context.Context, name string, _ broker.QueueOptions) error {
	controller, err := c.conn.conn.Controller()
	if err != nil {
		return broker.Connectivity("controller", err)
	}
	cc, err := c.conn.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return broker.Connectivity("dial controller", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     c.conn.cfg.Partitions,
		ReplicationFactor: c.conn.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", name, err)
	}
	return nil
}

func (c *channel) Publish(ctx context.Context, queue string, msg broker.Publishing) error {
	if err := c.writer.WriteMessages(ctx, toMessage(queue, msg)); err != nil {
		return wrap("publish", err)
	}
	return nil
}

func (c *channel) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.conn.cfg.Brokers,
		GroupID:     c.conn.cfg.GroupID,
		Topic:       queue,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
		Dialer:      c.conn.dialer,
	})
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = reader.Close()
		return nil, broker.Connectivity("consume", net.ErrClosed)
	}
	c.readers = append(c.readers, reader)
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				return
			}
			done := make(chan struct{})
			d := c.toDelivery(queue, reader, msg, done)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *channel) toDelivery(queue string, reader *kafka.Reader, msg kafka.Message, done chan struct{}) broker.Delivery {
	meta := ExtractEventMeta(msg)
	var once sync.Once
	settle := func(requeue bool) (err error) {
		settled := false
		once.Do(func() {
			settled = true
			defer close(done)
			if requeue {
				if err = c.writer.WriteMessages(context.Background(), requeued(msg)); err != nil {
					err = wrap("requeue", err)
					return
				}
			}
			err = wrap("commit", reader.CommitMessages(context.Background(), msg))
		})
		if !settled {
			return errors.New("delivery already settled")
		}
		return err
	}
	return broker.NewDelivery(broker.Delivery{
		Queue:       queue,
		MessageID:   meta.EventID,
		Type:        meta.EventType,
		ContentType: HeaderValue(msg.Headers, headerContentType),
		Headers:     headerMap(msg.Headers),
		Body:        msg.Value,
		Redelivered: HeaderValue(msg.Headers, headerRedelivery) != "",
	}, func() error {
		return settle(false)
	}, func(requeue bool) error {
		return settle(requeue)
	})
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	readers, cancels := c.readers, c.cancels
	c.readers, c.cancels = nil, nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	var errs []error
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	errs = append(errs, c.writer.Close())
	return errors.Join(errs...)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) || errors.Is(err, kafka.BrokerNotAvailable) ||
		errors.Is(err, kafka.NetworkException) || errors.Is(err, context.DeadlineExceeded) {
		return broker.Connectivity(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

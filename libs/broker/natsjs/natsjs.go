// Package natsjs implements the broker gateway over NATS JetStream.
//
// Every queue is a work-queue stream whose single subject is the queue name,
// consumed through one durable pull consumer shared by all service instances.
// Nack with requeue maps to Nak, without requeue to Term.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerContentType = "Content-Type"
	headerType        = "Event-Type"
	// headerMessageID carries the event id. Nats-Msg-Id only drives the
	// server's duplicate window and is left out for republished messages.
	headerMessageID = "Message-Id"
)

type Dialer struct {
	URL string
	// Name identifies the client connection on the server.
	Name    string
	AckWait time.Duration
}

var _ broker.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context) (broker.Connection, error) {
	url := d.URL
	if url == "" {
		url = nats.DefaultURL
	}
	c := &connection{}
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(5 * time.Second),
		nats.ClosedHandler(func(*nats.Conn) { c.closeChannels() }),
	}
	if d.Name != "" {
		opts = append(opts, nats.Name(d.Name))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, broker.Connectivity("dial", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, broker.Connectivity("jetstream", err)
	}
	ackWait := d.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	c.nc, c.js, c.ackWait = nc, js, ackWait
	return c, nil
}

type connection struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	ackWait time.Duration

	mu       sync.Mutex
	channels []*channel
}

func (c *connection) Channel(ctx context.Context) (broker.Channel, error) {
	if c.nc.IsClosed() {
		return nil, broker.Connectivity("open channel", nats.ErrConnectionClosed)
	}
	ch := &channel{conn: c}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *connection) Close() error {
	c.closeChannels()
	c.nc.Close()
	return nil
}

// closeChannels stops every consumer so delivery streams end with the connection.
func (c *connection) closeChannels() {
	c.mu.Lock()
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
}

// channel is a handle over the shared connection. Closing it stops its consumers.
type channel struct {
	conn *connection

	mu     sync.Mutex
	closed bool
	iters  []jetstream.MessagesContext
}

func streamName(queue string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(queue)
}

func (c *channel) DeclareQueue(ctx context.Context, name string, opts broker.QueueOptions) error {
	storage := jetstream.MemoryStorage
	if opts.Durable {
		storage = jetstream.FileStorage
	}
	_, err := c.conn.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(name),
		Subjects:  []string{name},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	})
	return wrap("declare", err)
}

func (c *channel) Publish(ctx context.Context, queue string, msg broker.Publishing) error {
	m := nats.NewMsg(queue)
	m.Data = msg.Body
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if msg.ContentType != "" {
		m.Header.Set(headerContentType, msg.ContentType)
	}
	if msg.Type != "" {
		m.Header.Set(headerType, msg.Type)
	}
	// a header copied from an earlier delivery must not re-arm deduplication
	m.Header.Del(jetstream.MsgIDHeader)

	var opts []jetstream.PublishOpt
	if msg.MessageID != "" {
		m.Header.Set(headerMessageID, msg.MessageID)
		if !msg.Republish {
			opts = append(opts, jetstream.WithMsgID(msg.MessageID))
		}
	}
	ack, err := c.conn.js.PublishMsg(ctx, m, opts...)
	if err != nil {
		return wrap("publish", err)
	}
	if ack.Duplicate && msg.Republish {
		return fmt.Errorf("publish %s: message %s dropped as duplicate", queue, msg.MessageID)
	}
	// a plain duplicate is a copy of a message the stream already accepted
	return nil
}

func (c *channel) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	cons, err := c.conn.js.CreateOrUpdateConsumer(ctx, streamName(queue), jetstream.ConsumerConfig{
		Durable:       streamName(queue) + "_worker",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.conn.ackWait,
		MaxAckPending: 1,
		FilterSubject: queue,
	})
	if err != nil {
		return nil, wrap("consume", err)
	}
	iter, err := cons.Messages()
	if err != nil {
		return nil, wrap("consume", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		iter.Stop()
		return nil, broker.Connectivity("consume", errors.New("channel closed"))
	}
	c.iters = append(c.iters, iter)
	c.mu.Unlock()

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for {
			msg, err := iter.Next()
			if err != nil {
				return
			}
			select {
			case out <- toDelivery(queue, msg):
			case <-ctx.Done():
				_ = msg.Nak()
				iter.Stop()
				return
			}
		}
	}()
	return out, nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, it := range c.iters {
		it.Stop()
	}
	c.iters = nil
	return nil
}

func toDelivery(queue string, msg jetstream.Msg) broker.Delivery {
	headers := map[string]string{}
	for k, v := range msg.Headers() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	redelivered := false
	if meta, err := msg.Metadata(); err == nil {
		redelivered = meta.NumDelivered > 1
	}
	d := broker.Delivery{
		Queue:       queue,
		MessageID:   messageID(headers),
		Type:        headers[headerType],
		ContentType: headers[headerContentType],
		Headers:     headers,
		Body:        msg.Data(),
		Redelivered: redelivered,
	}
	return broker.NewDelivery(d, func() error {
		return wrap("ack", msg.Ack())
	}, func(requeue bool) error {
		if requeue {
			return wrap("nak", msg.Nak())
		}
		return wrap("term", msg.Term())
	})
}

func messageID(headers map[string]string) string {
	if id := headers[headerMessageID]; id != "" {
		return id
	}
	return headers[jetstream.MsgIDHeader]
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, jetstream.ErrJetStreamNotEnabled),
		errors.Is(err, context.DeadlineExceeded):
		return broker.Connectivity(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

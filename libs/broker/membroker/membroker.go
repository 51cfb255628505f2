// Package membroker is an in-process broker with AMQP-like semantics:
// named queues, confirmed publishes, manual acknowledgement with prefetch one
// and requeue at the head of the queue. It records counters and can inject
// faults so reconnect and redelivery paths can be exercised without a server.
package membroker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
)

var (
	errRefused       = errors.New("connection refused")
	errClosed        = errors.New("channel closed")
	errAlreadySettle = errors.New("delivery already settled")
)

type Broker struct {
	mu            sync.Mutex
	queues        map[string]*queue
	conns         map[*connection]struct{}
	dials         int
	failDials     int
	failPublishes int
}

type queue struct {
	name         string
	opts         broker.QueueOptions
	declared     bool
	declarations int
	deliveries   int
	published    int
	ready        []*message
	notify       chan struct{}
}

type message struct {
	pub         broker.Publishing
	redelivered bool
}

type inflight struct {
	msg     *message
	q       *queue
	settled bool
	done    chan struct{}
}

var _ broker.Dialer = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		queues: map[string]*queue{},
		conns:  map[*connection]struct{}{},
	}
}

// FailNextDials makes the next n Dial calls fail with a connectivity error.
func (b *Broker) FailNextDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

// FailNextPublishes makes the next n publishes fail with a connectivity error.
func (b *Broker) FailNextPublishes(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPublishes = n
}

// Sever closes every open connection as a network failure would.
// Unacknowledged deliveries return to their queues marked redelivered.
func (b *Broker) Sever() {
	b.mu.Lock()
	conns := make([]*connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Broker) Declarations(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.declarations
	}
	return 0
}

// Deliveries counts how many times messages of the queue were handed to a consumer.
func (b *Broker) Deliveries(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.deliveries
	}
	return 0
}

func (b *Broker) Published(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.published
	}
	return 0
}

// Depth is the number of messages waiting for a consumer.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.ready)
	}
	return 0
}

// Messages returns copies of the messages waiting in the queue.
func (b *Broker) Messages(name string) []broker.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([]broker.Publishing, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, clonePublishing(m.pub))
	}
	return out
}

// Inject enqueues msg directly, bypassing channels and fault injection.
func (b *Broker) Inject(name string, msg broker.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueue(b.queue(name), &message{pub: clonePublishing(msg)})
}

func (b *Broker) Dial(ctx context.Context) (broker.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.Connectivity("dial", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, broker.Connectivity("dial", errRefused)
	}
	c := &connection{b: b, channels: map[*channel]struct{}{}}
	b.conns[c] = struct{}{}
	return c, nil
}

// queue returns the named queue, creating an undeclared one. Callers hold b.mu.
func (b *Broker) queue(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name, notify: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

// enqueue appends m and wakes waiting consumers. Callers hold b.mu.
func (b *Broker) enqueue(q *queue, m *message) {
	q.ready = append(q.ready, m)
	q.published++
	b.signal(q)
}

// requeue puts m back at the head of q. Callers hold b.mu.
func (b *Broker) requeue(q *queue, m *message) {
	m.redelivered = true
	q.ready = append([]*message{m}, q.ready...)
	b.signal(q)
}

func (b *Broker) signal(q *queue) {
	close(q.notify)
	q.notify = make(chan struct{})
}

func clonePublishing(p broker.Publishing) broker.Publishing {
	p.Headers = maps.Clone(p.Headers)
	p.Body = append([]byte(nil), p.Body...)
	return p
}

type connection struct {
	b        *Broker
	closed   bool
	channels map[*channel]struct{}
}

func (c *connection) Channel(ctx context.Context) (broker.Channel, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, broker.Connectivity("open channel", errClosed)
	}
	ch := &channel{
		b:        c.b,
		conn:     c,
		closed:   make(chan struct{}),
		inflight: map[*inflight]struct{}{},
	}
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *connection) Close() error {
	c.b.mu.Lock()
	if c.closed {
		c.b.mu.Unlock()
		return nil
	}
	c.closed = true
	delete(c.b.conns, c)
	channels := make([]*channel, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

type channel struct {
	b        *Broker
	conn     *connection
	isClosed bool
	closed   chan struct{}
	inflight map[*inflight]struct{}
}

func (ch *channel) DeclareQueue(ctx context.Context, name string, opts broker.QueueOptions) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.isClosed {
		return broker.Connectivity("declare", errClosed)
	}
	q := ch.b.queue(name)
	if q.declared && q.opts != opts {
		return fmt.Errorf("declare %s: inequivalent arguments (have %+v, requested %+v)", name, q.opts, opts)
	}
	q.declared = true
	q.opts = opts
	q.declarations++
	return nil
}

func (ch *channel) Publish(ctx context.Context, name string, msg broker.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.isClosed {
		return broker.Connectivity("publish", errClosed)
	}
	if ch.b.failPublishes > 0 {
		ch.b.failPublishes--
		return broker.Connectivity("publish", errRefused)
	}
	ch.b.enqueue(ch.b.queue(name), &message{pub: clonePublishing(msg)})
	return nil
}

func (ch *channel) Consume(ctx context.Context, name string) (<-chan broker.Delivery, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.isClosed {
		return nil, broker.Connectivity("consume", errClosed)
	}
	q, ok := ch.b.queues[name]
	if !ok || !q.declared {
		return nil, fmt.Errorf("consume %s: no queue declared", name)
	}
	out := make(chan broker.Delivery)
	go ch.pump(q, out)
	return out, nil
}

func (ch *channel) pump(q *queue, out chan<- broker.Delivery) {
	defer close(out)
	for {
		in, ok := ch.next(q)
		if !ok {
			return
		}
		d := broker.NewDelivery(broker.Delivery{
			Queue:       q.name,
			MessageID:   in.msg.pub.MessageID,
			Type:        in.msg.pub.Type,
			ContentType: in.msg.pub.ContentType,
			Headers:     maps.Clone(in.msg.pub.Headers),
			Body:        append([]byte(nil), in.msg.pub.Body...),
			Redelivered: in.msg.redelivered,
		}, func() error {
			return ch.settle(in, false)
		}, func(requeue bool) error {
			return ch.settle(in, requeue)
		})

		select {
		case out <- d:
		case <-ch.closed:
			return
		}
		select {
		case <-in.done:
		case <-ch.closed:
			return
		}
	}
}

// next blocks until a message is available or the channel closes.
func (ch *channel) next(q *queue) (*inflight, bool) {
	for {
		ch.b.mu.Lock()
		if ch.isClosed {
			ch.b.mu.Unlock()
			return nil, false
		}
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready = q.ready[1:]
			q.deliveries++
			in := &inflight{msg: m, q: q, done: make(chan struct{})}
			ch.inflight[in] = struct{}{}
			ch.b.mu.Unlock()
			return in, true
		}
		wait := q.notify
		ch.b.mu.Unlock()

		select {
		case <-wait:
		case <-ch.closed:
			return nil, false
		}
	}
}

func (ch *channel) settle(in *inflight, requeue bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.isClosed {
		return broker.Connectivity("settle", errClosed)
	}
	if in.settled {
		return errAlreadySettle
	}
	in.settled = true
	delete(ch.inflight, in)
	if requeue {
		ch.b.requeue(in.q, in.msg)
	}
	close(in.done)
	return nil
}

func (ch *channel) Close() error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.isClosed {
		return nil
	}
	ch.isClosed = true
	delete(ch.conn.channels, ch)
	for in := range ch.inflight {
		in.settled = true
		ch.b.requeue(in.q, in.msg)
	}
	ch.inflight = nil
	close(ch.closed)
	return nil
}

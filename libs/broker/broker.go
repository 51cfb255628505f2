// Package broker is the gateway between services and the message broker.
// Drivers (rabbitmq, natsjs, kafkax, membroker) implement Dialer.
package broker

import (
	"context"
	"errors"
	"fmt"
)

const ContentTypeJSON = "application/json"

// ErrConnectivity marks failures of the connection or channel itself as opposed
// to a rejected operation. The consumer supervisor reconnects on these.
var ErrConnectivity = errors.New("broker connectivity")

type connectivityError struct {
	op  string
	err error
}

func (e *connectivityError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.op, e.err)
}

func (e *connectivityError) Unwrap() []error {
	return []error{ErrConnectivity, e.err}
}

// Connectivity wraps err so IsConnectivity reports true for it.
func Connectivity(op string, err error) error {
	if err == nil {
		return nil
	}
	return &connectivityError{op: op, err: err}
}

func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// QueueOptions mirrors the AMQP queue flags. Drivers without an equivalent ignore them.
type QueueOptions struct {
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// DefaultQueueOptions is the durability policy shared by every queue.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{Durable: true}
}

// DeadLetterQueue names the queue receiving deliveries that exhausted their attempts.
func DeadLetterQueue(queue string) string {
	return queue + "_dead_letter"
}

type Publishing struct {
	ContentType string
	Persistent  bool
	MessageID   string
	Type        string
	Headers     map[string]string
	Body        []byte
	// Republish marks a deliberate second send of a message that was already
	// published once (dead-lettering, replay). Drivers that drop repeated
	// message ids must still deliver it.
	Republish bool
}

// NewJSONPublishing returns a persistent JSON message.
func NewJSONPublishing(messageID, eventType string, body []byte) Publishing {
	return Publishing{
		ContentType: ContentTypeJSON,
		Persistent:  true,
		MessageID:   messageID,
		Type:        eventType,
		Headers:     map[string]string{},
		Body:        body,
	}
}

// Delivery is one received message. It must be settled exactly once with Ack or Nack.
type Delivery struct {
	Queue       string
	MessageID   string
	Type        string
	ContentType string
	Headers     map[string]string
	Body        []byte
	Redelivered bool

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery binds settlement callbacks to d. Drivers use it when converting native messages.
func NewDelivery(d Delivery, ack func() error, nack func(requeue bool) error) Delivery {
	d.ack = ack
	d.nack = nack
	return d
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return errors.New("delivery is not bound to a channel")
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return errors.New("delivery is not bound to a channel")
	}
	return d.nack(requeue)
}

func (d Delivery) Header(key string) string {
	return d.Headers[key]
}

type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

type Connection interface {
	Channel(ctx context.Context) (Channel, error)
	Close() error
}

type Channel interface {
	// DeclareQueue is idempotent for identical options.
	DeclareQueue(ctx context.Context, name string, opts QueueOptions) error
	// Publish returns once the broker confirmed the message.
	Publish(ctx context.Context, queue string, msg Publishing) error
	// Consume starts manual-ack consumption. The stream closes when the channel
	// or connection fails or is closed.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}

package broker

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable reports a broker that could not be reached. It is always
	// transient for the caller.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker closed")
)

// Message is one published event. Key is the partition key (the tenant id);
// brokers that partition keep Key order.
type Message struct {
	Key       string
	EventID   string
	EventType string
	Body      []byte
}

// Delivery is a received message plus its broker handle.
type Delivery struct {
	Message
	// ID is the broker's own id for the delivery (stream entry id).
	ID string
	// Redelivered is true when the message was handed out before.
	Redelivered bool
}

// Publisher publishes messages. A nil error means the broker acknowledged the
// message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber hands out deliveries to one consumer group member.
//
// Nack leaves the delivery unacknowledged so that it is handed out again.
// DeadLetter parks the delivery with a reason and acknowledges it.
type Subscriber interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery) error
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}

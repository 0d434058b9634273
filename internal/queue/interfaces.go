package queue

import (
	"context"
	"time"
)

// Message is a transport-neutral inbound or outbound record
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     string
	Headers   map[string]string
	Timestamp time.Time

	// Receipt is the transport handle needed to acknowledge the message, if any.
	Receipt string
}

// Destination is where a published message landed
type Destination struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Consumer defines the interface for receiving messages from a transport
type Consumer interface {
	// Receive blocks until at least one message is available or ctx is done.
	Receive(ctx context.Context, limit int) ([]Message, error)
	// Ack marks messages as processed so they are not redelivered.
	Ack(ctx context.Context, msgs ...Message) error
	Close() error
}

// Producer defines the interface for publishing messages to a transport
type Producer interface {
	Send(ctx context.Context, msg Message) (Destination, error)
	Close() error
}

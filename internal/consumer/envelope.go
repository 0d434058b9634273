package consumer

import (
	"context"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// Envelope wraps an inbound message with acknowledgment callbacks
type Envelope struct {
	Message queue.Message
	ack     func(context.Context) error
	nack    func(context.Context) error
}

// NewEnvelope creates a new message envelope
func NewEnvelope(msg queue.Message, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		Message: msg,
		ack:     ack,
		nack:    nack,
	}
}

// Ack acknowledges successful processing
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack != nil {
		return e.ack(ctx)
	}
	return nil
}

// Nack negatively acknowledges processing
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack != nil {
		return e.nack(ctx)
	}
	return nil
}

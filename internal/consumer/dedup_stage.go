package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// Deduplicator tracks which records have already been acknowledged
type Deduplicator interface {
	Split(ctx context.Context, msgs []queue.Message) (fresh, duplicates []queue.Message, err error)
	MarkProcessed(ctx context.Context, msgs ...queue.Message) error
}

// DedupStage wraps messages into envelopes and drops redeliveries of records
// that were already acknowledged. dedup may be nil.
type DedupStage struct {
	consumer queue.Consumer
	dedup    Deduplicator
	log      *zap.Logger
}

// NewDedupStage creates a new dedup stage
func NewDedupStage(consumer queue.Consumer, dedup Deduplicator, log *zap.Logger) *DedupStage {
	return &DedupStage{
		consumer: consumer,
		dedup:    dedup,
		log:      log,
	}
}

// Start begins wrapping messages and outputs envelopes
func (s *DedupStage) Start(ctx context.Context, in <-chan queue.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Dedup stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				s.log.Info("Dedup stage input channel closed")
				return
			}

			envelope := s.wrap(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// wrap returns nil for messages that must not be dispatched.
func (s *DedupStage) wrap(ctx context.Context, msg queue.Message) *Envelope {
	if s.dedup != nil {
		_, duplicates, err := s.dedup.Split(ctx, []queue.Message{msg})
		if err != nil {
			// left unacknowledged so the transport redelivers it
			s.log.Error("Idempotency check failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		if len(duplicates) > 0 {
			s.log.Info("Skipping already processed message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.String("message_id", msg.MessageID()))
			if err := s.consumer.Ack(ctx, msg); err != nil {
				s.log.Error("Failed to ack duplicate message", zap.Error(err))
			}
			return nil
		}
	}

	ack := func(ctx context.Context) error {
		if err := s.consumer.Ack(ctx, msg); err != nil {
			return err
		}
		if s.dedup != nil {
			return s.dedup.MarkProcessed(ctx, msg)
		}
		return nil
	}

	nack := func(ctx context.Context) error {
		// nothing to do: unacknowledged records are redelivered by the transport
		return nil
	}

	return NewEnvelope(msg, ack, nack)
}

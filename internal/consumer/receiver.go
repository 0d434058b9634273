package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// ReceiverConfig configures the receiver
type ReceiverConfig struct {
	MaxMessages  int
	ErrorBackoff time.Duration
}

// Receiver polls the transport and feeds messages into the pipeline
type Receiver struct {
	consumer queue.Consumer
	config   ReceiverConfig
	log      *zap.Logger
}

// NewReceiver creates a new receiver
func NewReceiver(consumer queue.Consumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start begins receiving messages and sends them to the output channel
func (r *Receiver) Start(ctx context.Context, out chan<- queue.Message) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down")
			return
		default:
			messages, err := r.consumer.Receive(ctx, r.config.MaxMessages)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Error("Error receiving messages", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(r.config.ErrorBackoff):
				}
				continue
			}

			if len(messages) == 0 {
				continue
			}

			r.log.Debug("Received messages", zap.Int("count", len(messages)))

			// Send messages to the next stage
			for _, msg := range messages {
				select {
				case <-ctx.Done():
					r.log.Info("Receiver shutting down while sending messages")
					return
				case out <- msg:
				}
			}
		}
	}
}

package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// Dispatcher processes a batch of inbound records. A nil error means the
// records may be acknowledged.
type Dispatcher interface {
	ConsumeBatch(ctx context.Context, msgs []queue.Message) error
}

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter groups envelopes and hands them to the dispatcher
type BatchWriter struct {
	dispatcher Dispatcher
	config     BatchWriterConfig
	log        *zap.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(dispatcher Dispatcher, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	if config.MaxBatchSize < 1 {
		config.MaxBatchSize = 1
	}
	return &BatchWriter{
		dispatcher: dispatcher,
		config:     config,
		log:        log,
	}
}

// Start begins batching envelopes and dispatching them. A partial batch is
// flushed when the input closes or ctx is cancelled.
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			w.flushFinal(ctx, batch)
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				w.flushFinal(ctx, batch)
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

func (w *BatchWriter) flushFinal(ctx context.Context, batch []*Envelope) {
	if len(batch) == 0 {
		return
	}
	w.log.Info("Flushing final batch", zap.Int("count", len(batch)))
	w.processBatch(context.WithoutCancel(ctx), batch)
}

// processBatch dispatches the batch, then acks or nacks every envelope in it
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	msgs := make([]queue.Message, len(envelopes))
	for i, env := range envelopes {
		msgs[i] = env.Message
	}

	if err := w.dispatcher.ConsumeBatch(ctx, msgs); err != nil {
		w.log.Error("Failed to dispatch batch",
			zap.Error(err),
			zap.Int("count", len(msgs)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.ackAll(ctx, envelopes)
}

// ackAll acknowledges all envelopes
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope",
				zap.String("topic", env.Message.Topic),
				zap.Int64("offset", env.Message.Offset),
				zap.Error(err))
		}
	}
}

// nackAll negatively acknowledges all envelopes (left for redelivery)
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}

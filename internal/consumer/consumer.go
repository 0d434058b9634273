package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// Config sizes the worker pipelines
type Config struct {
	Concurrency    int
	MaxPollRecords int
	BufferSize     int
	BulkSize       int
	FlushTimeout   time.Duration
}

// ConsumerFactory opens the transport consumer for one worker
type ConsumerFactory func(worker int) (queue.Consumer, error)

// Consumer runs Concurrency independent pipelines, each made of a receiver,
// a dedup stage and a batch writer over its own transport consumer.
type Consumer struct {
	config     Config
	factory    ConsumerFactory
	dispatcher Dispatcher
	dedup      Deduplicator
	log        *zap.Logger
}

// NewConsumer creates a new consumer. dedup may be nil.
func NewConsumer(config Config, factory ConsumerFactory, dispatcher Dispatcher, dedup Deduplicator, log *zap.Logger) *Consumer {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.BufferSize < 1 {
		config.BufferSize = 100
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 100 * time.Millisecond
	}
	return &Consumer{
		config:     config,
		factory:    factory,
		dispatcher: dispatcher,
		dedup:      dedup,
		log:        log,
	}
}

// Start runs all workers until ctx is cancelled. It fails fast if any worker
// cannot open its transport consumer.
func (c *Consumer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < c.config.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return c.runWorker(ctx, worker)
		})
	}

	c.log.Info("Consumer started", zap.Int("workers", c.config.Concurrency))
	return g.Wait()
}

func (c *Consumer) runWorker(ctx context.Context, worker int) error {
	source, err := c.factory(worker)
	if err != nil {
		return fmt.Errorf("worker %d: failed to open consumer: %w", worker, err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			c.log.Warn("Failed to close consumer", zap.Int("worker", worker), zap.Error(err))
		}
	}()

	log := c.log.With(zap.Int("worker", worker))

	receiver := NewReceiver(source, ReceiverConfig{MaxMessages: c.config.MaxPollRecords}, log)
	dedup := NewDedupStage(source, c.dedup, log)
	batchWriter := NewBatchWriter(c.dispatcher, BatchWriterConfig{
		MaxBatchSize: c.config.BulkSize,
		FlushTimeout: c.config.FlushTimeout,
	}, log)

	messageChan := make(chan queue.Message, c.config.BufferSize)
	envelopeChan := make(chan *Envelope, c.config.BufferSize)

	var wg sync.WaitGroup
	wg.Add(3)

	// Stage 1: receive from the transport
	go func() {
		defer wg.Done()
		receiver.Start(ctx, messageChan)
	}()

	// Stage 2: drop redeliveries, wrap in envelopes
	go func() {
		defer wg.Done()
		dedup.Start(ctx, messageChan, envelopeChan)
	}()

	// Stage 3: batch and dispatch
	go func() {
		defer wg.Done()
		batchWriter.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}

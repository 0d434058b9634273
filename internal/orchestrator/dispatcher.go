package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/latency"
	"github.com/himanshugvu/eventAdapter/internal/publisher"
	"github.com/himanshugvu/eventAdapter/internal/queue"
	"github.com/himanshugvu/eventAdapter/internal/repository"
	"github.com/himanshugvu/eventAdapter/internal/transformer"
)

const tracerName = "github.com/himanshugvu/eventAdapter/internal/orchestrator"

// invalidMessage is recorded when a payload fails the transformer pre-check
const invalidMessage = "Invalid message"

// Metrics counts records flowing through the dispatcher
type Metrics interface {
	IncReceived()
	IncProcessed()
	IncProcessingErrors()
}

// Publisher sends transformed payloads downstream
type Publisher interface {
	Publish(ctx context.Context, payload string, headers map[string]string) <-chan publisher.Result
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTracerProvider sets the tracer provider used for dispatcher spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher runs every inbound record through the configured durability strategy.
//
// A nil error from Consume or ConsumeBatch means the records may be acknowledged.
// Publishing and the resulting status update always complete asynchronously after
// that point; Wait drains them.
type Dispatcher struct {
	strategy    domain.Strategy
	store       repository.EventStore
	transformer transformer.Transformer
	publisher   Publisher
	tracker     *latency.Tracker
	metrics     Metrics
	log         *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time

	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher for strategy
func NewDispatcher(
	strategy domain.Strategy,
	store repository.EventStore,
	tr transformer.Transformer,
	pub Publisher,
	tracker *latency.Tracker,
	metrics Metrics,
	log *zap.Logger,
	opts ...Option,
) (*Dispatcher, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unsupported strategy %q", strategy)
	}

	d := &Dispatcher{
		strategy:    strategy,
		store:       store,
		transformer: tr,
		publisher:   pub,
		tracker:     tracker,
		metrics:     metrics,
		log:         log.With(zap.String("strategy", strategy.String())),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Strategy returns the configured strategy
func (d *Dispatcher) Strategy() domain.Strategy {
	return d.strategy
}

// Consume processes a single inbound record
func (d *Dispatcher) Consume(ctx context.Context, msg queue.Message) error {
	return d.ConsumeBatch(ctx, []queue.Message{msg})
}

// ConsumeBatch processes records in receive order. It returns an error only when
// the records must not be acknowledged.
func (d *Dispatcher) ConsumeBatch(ctx context.Context, msgs []queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "orchestrator.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("orchestrator.strategy", d.strategy.String()),
			attribute.Int("orchestrator.batch_size", len(msgs)),
			attribute.String("messaging.source.name", msgs[0].Topic),
		),
	)
	defer span.End()

	receivedAt := d.now()
	events := make([]*domain.Event, len(msgs))
	for i, msg := range msgs {
		events[i] = d.newEvent(msg, receivedAt)
		d.metrics.IncReceived()
		d.tracker.RecordConsumerLatency(events[i].SendTimestampNs, receivedAt)
	}

	var err error
	switch d.strategy {
	case domain.StrategyOutbox:
		err = d.consumeOutbox(ctx, events)
	case domain.StrategyReliable:
		err = d.consumeReliable(ctx, events)
	case domain.StrategyLightweight:
		d.consumeLightweight(ctx, events)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Wait blocks until every asynchronous completion has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight events: %w", ctx.Err())
	}
}

// consumeOutbox persists the batch and defers everything else.
func (d *Dispatcher) consumeOutbox(ctx context.Context, events []*domain.Event) error {
	if err := d.persist(ctx, events); err != nil {
		return err
	}

	for _, event := range events {
		d.async(ctx, event, func(ctx context.Context) {
			payload, err := d.transform(event)
			if err != nil {
				d.fail(ctx, event, err, true)
				return
			}
			d.complete(ctx, event, <-d.publish(ctx, event, payload), true)
		})
	}
	return nil
}

// consumeReliable persists the batch and transforms synchronously. A rejected
// payload is recorded on the stored row and still acknowledged.
func (d *Dispatcher) consumeReliable(ctx context.Context, events []*domain.Event) error {
	if err := d.persist(ctx, events); err != nil {
		return err
	}

	for _, event := range events {
		payload, err := d.transform(event)
		if err != nil {
			d.fail(ctx, event, err, true)
			continue
		}
		d.dispatchPublish(ctx, event, payload, true)
	}
	return nil
}

// consumeLightweight never persists successful events. Failures leave a single
// dead-letter row.
func (d *Dispatcher) consumeLightweight(ctx context.Context, events []*domain.Event) {
	for _, event := range events {
		payload, err := d.transform(event)
		if err != nil {
			d.fail(ctx, event, err, false)
			continue
		}
		d.dispatchPublish(ctx, event, payload, false)
	}
}

func (d *Dispatcher) persist(ctx context.Context, events []*domain.Event) error {
	if err := d.store.BulkInsert(ctx, events); err != nil {
		for range events {
			d.metrics.IncProcessingErrors()
		}
		d.log.Error("Failed to persist events",
			zap.Int("count", len(events)),
			zap.String("topic", events[0].SourceTopic),
			zap.Int64("offset", events[0].SourceOffset),
			zap.Error(err))
		return fmt.Errorf("failed to persist %d events: %w", len(events), err)
	}
	return nil
}

func (d *Dispatcher) transform(event *domain.Event) (string, error) {
	if !d.transformer.IsValidMessage(event.Payload) {
		return "", &transformer.ValidationError{Reason: invalidMessage}
	}

	payload, err := d.transformer.Transform(event.Payload)
	if err != nil {
		return "", err
	}

	processedAt := d.now()
	event.TransformedPayload = payload
	event.ProcessedAt = &processedAt
	d.tracker.RecordProcessingLatency(event.ReceivedAt, processedAt)
	return payload, nil
}

// dispatchPublish starts the publish before returning and awaits it in the background.
func (d *Dispatcher) dispatchPublish(ctx context.Context, event *domain.Event, payload string, persisted bool) {
	result := d.publish(ctx, event, payload)
	d.async(ctx, event, func(ctx context.Context) {
		d.complete(ctx, event, <-result, persisted)
	})
}

func (d *Dispatcher) publish(ctx context.Context, event *domain.Event, payload string) <-chan publisher.Result {
	return d.publisher.Publish(context.WithoutCancel(ctx), payload, outboundHeaders(event))
}

// async runs fn detached from ctx cancellation and tracks it for Wait.
func (d *Dispatcher) async(ctx context.Context, event *domain.Event, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("Recovered from panic in event completion",
					zap.String("event_id", event.ID),
					zap.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
}

// complete applies a publish result to the event.
func (d *Dispatcher) complete(ctx context.Context, event *domain.Event, result publisher.Result, persisted bool) {
	ctx, span := d.tracer.Start(ctx, "orchestrator.complete",
		trace.WithAttributes(
			attribute.String("orchestrator.event_id", event.ID),
			attribute.Int("orchestrator.publish_attempts", result.Attempts),
		),
	)
	defer span.End()

	d.tracker.RecordPublishingLatency(result.StartedAt, result.FinishedAt)

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "publish failed")
		d.fail(ctx, event, result.Err, persisted)
		return
	}

	dest := result.Destination
	event.MarkPublished(dest.Topic, dest.Partition, dest.Offset, d.now())
	d.metrics.IncProcessed()
	d.tracker.RecordEvent(event)
	span.SetStatus(codes.Ok, "")

	if persisted {
		d.updateOutcome(ctx, event)
	}
}

// fail records err on the event: on the stored row when it was persisted,
// otherwise as a dead-letter insert.
func (d *Dispatcher) fail(ctx context.Context, event *domain.Event, err error, persisted bool) {
	d.metrics.IncProcessingErrors()
	event.MarkFailed(repository.TruncateError(err.Error()), d.now())

	var verr *transformer.ValidationError
	level := d.log.Error
	if errors.As(err, &verr) {
		level = d.log.Warn
	}
	level("Event processing failed",
		zap.String("event_id", event.ID),
		zap.String("message_id", event.MessageID),
		zap.String("topic", event.SourceTopic),
		zap.Int32("partition", event.SourcePartition),
		zap.Int64("offset", event.SourceOffset),
		zap.Error(err))

	if persisted {
		d.updateOutcome(ctx, event)
		return
	}
	d.deadLetter(ctx, event)
}

func (d *Dispatcher) updateOutcome(ctx context.Context, event *domain.Event) {
	err := d.store.UpdateOutcome(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrInvalidTransition):
		// the stale reaper got there first
		d.log.Warn("Event outcome discarded",
			zap.String("event_id", event.ID),
			zap.String("status", event.Status.String()),
			zap.Error(err))
	default:
		d.log.Error("Failed to update event outcome",
			zap.String("event_id", event.ID),
			zap.String("status", event.Status.String()),
			zap.Error(err))
	}
}

// deadLetter is best-effort; store errors are logged and dropped.
func (d *Dispatcher) deadLetter(ctx context.Context, event *domain.Event) {
	if err := d.store.BulkInsert(ctx, []*domain.Event{event}); err != nil {
		d.log.Error("Failed to write dead-letter event",
			zap.String("event_id", event.ID),
			zap.String("message_id", event.MessageID),
			zap.Error(err))
		return
	}
	d.log.Info("Logged failed event to dead letter", zap.String("event_id", event.ID))
}

func (d *Dispatcher) newEvent(msg queue.Message, receivedAt time.Time) *domain.Event {
	event := domain.NewEvent(domain.Origin{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, msg.Value, receivedAt)
	event.MessageID = msg.MessageID()
	event.Source = msg.Source()
	event.SendTimestampNs = msg.SendTimestampNs()
	return event
}

func outboundHeaders(event *domain.Event) map[string]string {
	headers := map[string]string{
		queue.HeaderMessageID: event.MessageID,
		queue.HeaderSource:    event.Source,
	}
	if event.MessageID == "" {
		headers[queue.HeaderMessageID] = event.ID
	}
	if event.SendTimestampNs != nil {
		headers[queue.HeaderSendTimestampNs] = strconv.FormatInt(*event.SendTimestampNs, 10)
	}
	return headers
}

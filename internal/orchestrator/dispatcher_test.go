package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/latency"
	"github.com/himanshugvu/eventAdapter/internal/publisher"
	"github.com/himanshugvu/eventAdapter/internal/queue"
	"github.com/himanshugvu/eventAdapter/internal/repository/memory"
	"github.com/himanshugvu/eventAdapter/internal/transformer"
)

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, payload string, headers map[string]string) <-chan publisher.Result {
	args := m.Called(ctx, payload, headers)
	return args.Get(0).(<-chan publisher.Result)
}

// MockMetrics is a mock implementation of Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) IncReceived()         { m.Called() }
func (m *MockMetrics) IncProcessed()        { m.Called() }
func (m *MockMetrics) IncProcessingErrors() { m.Called() }

// recordingStore wraps the in-memory store, remembering inserted ids and
// optionally failing inserts.
type recordingStore struct {
	*memory.Repository

	mu        sync.Mutex
	ids       []string
	insertErr error
}

func (s *recordingStore) BulkInsert(ctx context.Context, events []*domain.Event) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if err := s.Repository.BulkInsert(ctx, events); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.ids = append(s.ids, e.ID)
	}
	return nil
}

func (s *recordingStore) insertedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type fixture struct {
	dispatcher *Dispatcher
	store      *recordingStore
	publisher  *MockPublisher
	metrics    *MockMetrics
	tracker    *latency.Tracker
	spans      *tracetest.InMemoryExporter
}

var publishedAt = time.UnixMilli(1_700_000_001_500).UTC()

func newFixture(t *testing.T, strategy domain.Strategy, tr transformer.Transformer) *fixture {
	t.Helper()

	f := &fixture{
		store:     &recordingStore{Repository: memory.NewRepository()},
		publisher: new(MockPublisher),
		metrics:   new(MockMetrics),
		tracker:   latency.NewTracker(nil, zap.NewNop()),
		spans:     tracetest.NewInMemoryExporter(),
	}
	f.metrics.On("IncReceived").Return()
	f.metrics.On("IncProcessed").Return()
	f.metrics.On("IncProcessingErrors").Return()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(f.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d, err := NewDispatcher(strategy, f.store, tr, f.publisher, f.tracker, f.metrics, zap.NewNop(),
		WithTracerProvider(tp),
		WithClock(func() time.Time { return publishedAt }),
	)
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Wait(ctx))
}

func (f *fixture) count(t *testing.T, status domain.Status) int64 {
	t.Helper()
	n, err := f.store.CountByStatus(context.Background(), status)
	require.NoError(t, err)
	return n
}

func (f *fixture) onlyEvent(t *testing.T) *domain.Event {
	t.Helper()
	ids := f.store.insertedIDs()
	require.Len(t, ids, 1)
	event, err := f.store.FindByID(context.Background(), ids[0])
	require.NoError(t, err)
	return event
}

func resolved(result publisher.Result) <-chan publisher.Result {
	ch := make(chan publisher.Result, 1)
	ch <- result
	return ch
}

func success() <-chan publisher.Result {
	return resolved(publisher.Result{
		Destination: queue.Destination{Topic: "out", Partition: 1, Offset: 42},
		Attempts:    1,
		StartedAt:   publishedAt,
		FinishedAt:  publishedAt,
	})
}

func failure(err error) <-chan publisher.Result {
	return resolved(publisher.Result{Err: err, Attempts: 3, StartedAt: publishedAt, FinishedAt: publishedAt})
}

func message(value string) queue.Message {
	return queue.Message{
		Topic:     "in",
		Partition: 3,
		Offset:    7,
		Key:       "key-1",
		Value:     value,
		Headers: map[string]string{
			queue.HeaderSendTimestampNs: "1700000000000000000",
			queue.HeaderMessageID:       "msg-1",
			queue.HeaderSource:          "checkout",
		},
	}
}

const validPayment = `{"amount":100.50,"currency":"USD","accountId":"12345"}`

func TestNewDispatcher_RejectsUnknownStrategy(t *testing.T) {
	_, err := NewDispatcher(domain.Strategy("FAST"), memory.NewRepository(), transformer.Passthrough{},
		new(MockPublisher), latency.NewTracker(nil, zap.NewNop()), new(MockMetrics), zap.NewNop())
	assert.Error(t, err)
}

func TestDispatcher_Outbox_PersistsBeforeAck(t *testing.T) {
	f := newFixture(t, domain.StrategyOutbox, transformer.Passthrough{})

	results := make(chan publisher.Result, 1)
	f.publisher.On("Publish", mock.Anything, `{"a":1}`, mock.Anything).
		Return((<-chan publisher.Result)(results)).Once()

	err := f.dispatcher.Consume(context.Background(), message(`{"a":1}`))
	require.NoError(t, err)

	// acknowledged with the row already stored and still pending
	assert.Equal(t, int64(1), f.count(t, domain.StatusReceived))

	results <- publisher.Result{Destination: queue.Destination{Topic: "out", Partition: 1, Offset: 42}, Attempts: 1}
	f.wait(t)

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusSuccess, event.Status)
	assert.Equal(t, "out", event.DestinationTopic)
	require.NotNil(t, event.DestinationOffset)
	assert.Equal(t, int64(42), *event.DestinationOffset)
	assert.Equal(t, `{"a":1}`, event.TransformedPayload)
	require.NotNil(t, event.TotalLatencyMs)
	assert.Equal(t, int64(1500), *event.TotalLatencyMs)
	require.NotNil(t, event.ExceededOneSecond)
	assert.True(t, *event.ExceededOneSecond)

	assert.Equal(t, int64(1), f.tracker.TotalMessageCount())
	assert.Equal(t, int64(1), f.tracker.SlowMessageCount())
	f.publisher.AssertExpectations(t)
	f.metrics.AssertNumberOfCalls(t, "IncProcessed", 1)
}

func TestDispatcher_Outbox_StoreFailurePreventsAck(t *testing.T) {
	f := newFixture(t, domain.StrategyOutbox, transformer.Passthrough{})
	f.store.insertErr = errors.New("connection refused")

	err := f.dispatcher.ConsumeBatch(context.Background(), []queue.Message{message("a"), message("b")})

	require.Error(t, err)
	assert.ErrorIs(t, err, f.store.insertErr)
	f.wait(t)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	f.metrics.AssertNumberOfCalls(t, "IncProcessingErrors", 2)
}

func TestDispatcher_Outbox_TransformFailureUpdatesRow(t *testing.T) {
	f := newFixture(t, domain.StrategyOutbox, transformer.NewPayment())

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("not json")))
	f.wait(t)

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "Invalid payment format", event.ErrorMessage)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_Reliable_PaymentScenario(t *testing.T) {
	t.Run("valid payment reaches SUCCESS", func(t *testing.T) {
		f := newFixture(t, domain.StrategyReliable, transformer.NewPayment())
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(success()).Once()

		require.NoError(t, f.dispatcher.Consume(context.Background(), message(validPayment)))
		f.wait(t)

		event := f.onlyEvent(t)
		assert.Equal(t, domain.StatusSuccess, event.Status)
		assert.Contains(t, event.TransformedPayload, `"payment_processed":true`)
		assert.NotNil(t, event.ProcessedAt)
		assert.NotNil(t, event.PublishedAt)
	})

	t.Run("negative amount reaches FAILED", func(t *testing.T) {
		f := newFixture(t, domain.StrategyReliable, transformer.NewPayment())

		err := f.dispatcher.Consume(context.Background(), message(`{"amount":-100.50,"currency":"USD","accountId":"12345"}`))
		require.NoError(t, err)

		// the rejection is recorded before Consume returns
		event := f.onlyEvent(t)
		assert.Equal(t, domain.StatusFailed, event.Status)
		assert.Equal(t, "Invalid amount", event.ErrorMessage)
		f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatcher_Reliable_PublishFailureMarksFailed(t *testing.T) {
	f := newFixture(t, domain.StrategyReliable, transformer.Passthrough{})
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(failure(errors.New("broker unreachable"))).Once()

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))
	f.wait(t)

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "broker unreachable", event.ErrorMessage)
	assert.Equal(t, int64(0), f.tracker.TotalMessageCount())
}

func TestDispatcher_Reliable_BlankPayloadFailsPrecheck(t *testing.T) {
	f := newFixture(t, domain.StrategyReliable, transformer.Passthrough{})

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("   ")))

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "Invalid message", event.ErrorMessage)
}

func TestDispatcher_Lightweight_SuccessWritesNothing(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.Passthrough{})
	for range 3 {
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(success()).Once()
	}

	msgs := []queue.Message{message("a"), message("b"), message("c")}
	require.NoError(t, f.dispatcher.ConsumeBatch(context.Background(), msgs))
	f.wait(t)

	assert.Empty(t, f.store.insertedIDs())
	for _, status := range []domain.Status{domain.StatusReceived, domain.StatusSuccess, domain.StatusFailed} {
		assert.Zero(t, f.count(t, status))
	}
	assert.Equal(t, int64(3), f.tracker.TotalMessageCount())
	f.metrics.AssertNumberOfCalls(t, "IncProcessed", 3)
}

func TestDispatcher_Lightweight_PublishFailureWritesDeadLetter(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.Passthrough{})
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(failure(errors.New("timeout"))).Once()

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))
	f.wait(t)

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "timeout", event.ErrorMessage)
	assert.Equal(t, "payload", event.Payload)
	assert.Equal(t, "in", event.SourceTopic)
	assert.Equal(t, int64(7), event.SourceOffset)
}

func TestDispatcher_Lightweight_TransformFailureWritesDeadLetter(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.NewInventory())

	require.NoError(t, f.dispatcher.Consume(context.Background(),
		message(`{"productId":"P","quantity":1,"operation":"MOVE"}`)))

	event := f.onlyEvent(t)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "Invalid operation", event.ErrorMessage)
}

func TestDispatcher_Lightweight_DeadLetterStoreErrorIsSwallowed(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.Passthrough{})
	f.store.insertErr = errors.New("disk full")
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(failure(errors.New("timeout"))).Once()

	assert.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))
	f.wait(t)
	assert.Empty(t, f.store.insertedIDs())
}

func TestDispatcher_ForwardsHeaders(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.Passthrough{})
	f.publisher.On("Publish", mock.Anything, "payload", map[string]string{
		queue.HeaderSendTimestampNs: "1700000000000000000",
		queue.HeaderMessageID:       "msg-1",
		queue.HeaderSource:          "checkout",
	}).Return(success()).Once()

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))
	f.wait(t)
	f.publisher.AssertExpectations(t)
}

func TestDispatcher_MissingHeadersUseFallbacks(t *testing.T) {
	f := newFixture(t, domain.StrategyReliable, transformer.Passthrough{})
	f.publisher.On("Publish", mock.Anything, "payload", map[string]string{
		queue.HeaderMessageID: "key-9",
		queue.HeaderSource:    queue.UnknownSource,
	}).Return(success()).Once()

	msg := queue.Message{Topic: "in", Key: "key-9", Value: "payload"}
	require.NoError(t, f.dispatcher.Consume(context.Background(), msg))
	f.wait(t)

	event := f.onlyEvent(t)
	assert.Equal(t, "key-9", event.MessageID)
	assert.Equal(t, queue.UnknownSource, event.Source)
	assert.Nil(t, event.SendTimestampNs)
	assert.Nil(t, event.TotalLatencyMs)
	assert.Equal(t, int64(0), f.tracker.TotalMessageCount())
	f.publisher.AssertExpectations(t)
}

func TestDispatcher_Wait_TimesOut(t *testing.T) {
	f := newFixture(t, domain.StrategyLightweight, transformer.Passthrough{})
	pending := make(chan publisher.Result)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return((<-chan publisher.Result)(pending)).Once()

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.dispatcher.Wait(ctx), context.DeadlineExceeded)

	close(pending)
	f.wait(t)
}

func TestDispatcher_CompletionSurvivesCancelledContext(t *testing.T) {
	f := newFixture(t, domain.StrategyReliable, transformer.Passthrough{})
	results := make(chan publisher.Result, 1)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return((<-chan publisher.Result)(results)).Once()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.dispatcher.Consume(ctx, message("payload")))
	cancel()

	results <- publisher.Result{Destination: queue.Destination{Topic: "out"}, Attempts: 1}
	f.wait(t)
	assert.Equal(t, domain.StatusSuccess, f.onlyEvent(t).Status)
}

func TestDispatcher_RecordsSpans(t *testing.T) {
	f := newFixture(t, domain.StrategyReliable, transformer.Passthrough{})
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(success()).Once()

	require.NoError(t, f.dispatcher.Consume(context.Background(), message("payload")))
	f.wait(t)

	names := make(map[string]int)
	for _, span := range f.spans.GetSpans() {
		names[span.Name]++
	}
	assert.Equal(t, 1, names["orchestrator.consume"])
	assert.Equal(t, 1, names["orchestrator.complete"])
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	f := newFixture(t, domain.StrategyOutbox, transformer.Passthrough{})
	assert.NoError(t, f.dispatcher.ConsumeBatch(context.Background(), nil))
	assert.Empty(t, f.spans.GetSpans())
}

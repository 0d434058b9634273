package consumer

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// MockQueueConsumer is a mock implementation of queue.Consumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) Receive(ctx context.Context, limit int) ([]queue.Message, error) {
	args := m.Called(ctx, limit)
	msgs, _ := args.Get(0).([]queue.Message)
	if len(msgs) == 0 && args.Error(1) == nil {
		// behave like a long poll that timed out
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
	}
	return msgs, args.Error(1)
}

func (m *MockQueueConsumer) Ack(ctx context.Context, msgs ...queue.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *MockQueueConsumer) Close() error {
	return m.Called().Error(0)
}

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) ConsumeBatch(ctx context.Context, msgs []queue.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

// MockDeduplicator is a mock implementation of Deduplicator
type MockDeduplicator struct {
	mock.Mock
}

func (m *MockDeduplicator) Split(ctx context.Context, msgs []queue.Message) ([]queue.Message, []queue.Message, error) {
	args := m.Called(ctx, msgs)
	fresh, _ := args.Get(0).([]queue.Message)
	dups, _ := args.Get(1).([]queue.Message)
	return fresh, dups, args.Error(2)
}

func (m *MockDeduplicator) MarkProcessed(ctx context.Context, msgs ...queue.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func testMessage(offset int64) queue.Message {
	return queue.Message{Topic: "orders", Partition: 0, Offset: offset, Value: "payload"}
}

func offsetIs(offset int64) interface{} {
	return mock.MatchedBy(func(msgs []queue.Message) bool {
		return len(msgs) == 1 && msgs[0].Offset == offset
	})
}

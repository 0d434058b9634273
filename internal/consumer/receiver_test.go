package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

func collect(out <-chan queue.Message, timeout time.Duration) []queue.Message {
	var received []queue.Message
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return received
			}
			received = append(received, msg)
		case <-deadline:
			return received
		}
	}
}

func TestReceiver_Start_Success(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := NewReceiver(mockConsumer, ReceiverConfig{MaxMessages: 10}, zap.NewNop())

	mockConsumer.On("Receive", mock.Anything, 10).
		Return([]queue.Message{testMessage(1), testMessage(2)}, nil).Once()
	mockConsumer.On("Receive", mock.Anything, 10).
		Return(nil, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := make(chan queue.Message, 10)
	go receiver.Start(ctx, out)

	received := collect(out, 500*time.Millisecond)

	assert.Len(t, received, 2)
	assert.Equal(t, int64(1), received[0].Offset)
	assert.Equal(t, int64(2), received[1].Offset)
}

func TestReceiver_Start_ReceiveErrorBacksOff(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := NewReceiver(mockConsumer, ReceiverConfig{MaxMessages: 5, ErrorBackoff: 10 * time.Millisecond}, zap.NewNop())

	mockConsumer.On("Receive", mock.Anything, 5).
		Return(nil, errors.New("broker unreachable")).Once()
	mockConsumer.On("Receive", mock.Anything, 5).
		Return([]queue.Message{testMessage(3)}, nil).Once()
	mockConsumer.On("Receive", mock.Anything, 5).
		Return(nil, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out := make(chan queue.Message, 10)
	go receiver.Start(ctx, out)

	received := collect(out, time.Second)

	assert.Len(t, received, 1)
	assert.Equal(t, int64(3), received[0].Offset)
}

func TestReceiver_Start_ClosesOutputOnCancel(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := NewReceiver(mockConsumer, ReceiverConfig{MaxMessages: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan queue.Message)
	done := make(chan struct{})
	go func() {
		receiver.Start(ctx, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop")
	}
	_, ok := <-out
	assert.False(t, ok)
	mockConsumer.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
}

package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

func runDedupStage(t *testing.T, stage *DedupStage, msgs ...queue.Message) []*Envelope {
	t.Helper()

	in := make(chan queue.Message, len(msgs))
	out := make(chan *Envelope, len(msgs))
	for _, msg := range msgs {
		in <- msg
	}
	close(in)

	done := make(chan struct{})
	go func() {
		stage.Start(context.Background(), in, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dedup stage did not finish")
	}

	var envelopes []*Envelope
	for env := range out {
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func TestDedupStage_WithoutDeduplicator(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	stage := NewDedupStage(mockConsumer, nil, zap.NewNop())

	envelopes := runDedupStage(t, stage, testMessage(1), testMessage(2))
	require.Len(t, envelopes, 2)

	mockConsumer.On("Ack", mock.Anything, offsetIs(1)).Return(nil).Once()
	assert.NoError(t, envelopes[0].Ack(context.Background()))
	assert.NoError(t, envelopes[1].Nack(context.Background()))
	mockConsumer.AssertExpectations(t)
}

func TestDedupStage_SkipsDuplicates(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockDedup := new(MockDeduplicator)
	stage := NewDedupStage(mockConsumer, mockDedup, zap.NewNop())

	dup := testMessage(1)
	fresh := testMessage(2)
	mockDedup.On("Split", mock.Anything, offsetIs(1)).Return(nil, []queue.Message{dup}, nil)
	mockDedup.On("Split", mock.Anything, offsetIs(2)).Return([]queue.Message{fresh}, nil, nil)
	mockConsumer.On("Ack", mock.Anything, offsetIs(1)).Return(nil).Once()

	envelopes := runDedupStage(t, stage, dup, fresh)

	require.Len(t, envelopes, 1)
	assert.Equal(t, int64(2), envelopes[0].Message.Offset)
	mockConsumer.AssertExpectations(t)
}

func TestDedupStage_AckMarksProcessed(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockDedup := new(MockDeduplicator)
	stage := NewDedupStage(mockConsumer, mockDedup, zap.NewNop())

	msg := testMessage(5)
	mockDedup.On("Split", mock.Anything, offsetIs(5)).Return([]queue.Message{msg}, nil, nil)
	mockConsumer.On("Ack", mock.Anything, offsetIs(5)).Return(nil).Once()
	mockDedup.On("MarkProcessed", mock.Anything, offsetIs(5)).Return(nil).Once()

	envelopes := runDedupStage(t, stage, msg)
	require.Len(t, envelopes, 1)
	require.NoError(t, envelopes[0].Ack(context.Background()))

	mockConsumer.AssertExpectations(t)
	mockDedup.AssertExpectations(t)
}

func TestDedupStage_AckFailureSkipsMarking(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockDedup := new(MockDeduplicator)
	stage := NewDedupStage(mockConsumer, mockDedup, zap.NewNop())

	msg := testMessage(6)
	mockDedup.On("Split", mock.Anything, mock.Anything).Return([]queue.Message{msg}, nil, nil)
	mockConsumer.On("Ack", mock.Anything, mock.Anything).Return(errors.New("rebalance in progress"))

	envelopes := runDedupStage(t, stage, msg)
	require.Len(t, envelopes, 1)
	assert.Error(t, envelopes[0].Ack(context.Background()))
	mockDedup.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestDedupStage_LookupErrorLeavesMessageUnacked(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockDedup := new(MockDeduplicator)
	stage := NewDedupStage(mockConsumer, mockDedup, zap.NewNop())

	mockDedup.On("Split", mock.Anything, mock.Anything).Return(nil, nil, errors.New("valkey down"))

	envelopes := runDedupStage(t, stage, testMessage(1))

	assert.Empty(t, envelopes)
	mockConsumer.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
}

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlowThresholdMs is the end-to-end latency above which an event counts as slow.
const SlowThresholdMs int64 = 1000

// Origin identifies the inbound record an Event was built from
type Origin struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Event represents one message traversing the pipeline
type Event struct {
	ID                   string `db:"id"`
	SourceTopic          string `db:"source_topic"`
	SourcePartition      int32  `db:"source_partition"`
	SourceOffset         int64  `db:"source_offset"`
	MessageID            string `db:"message_id"`
	Source               string `db:"source"`
	Payload              string `db:"payload"`
	TransformedPayload   string `db:"transformed_payload"`
	DestinationTopic     string `db:"destination_topic"`
	DestinationPartition *int32 `db:"destination_partition"`
	DestinationOffset    *int64 `db:"destination_offset"`
	Status               Status `db:"status"`
	ErrorMessage         string `db:"error_message"`
	RetryCount           int    `db:"retry_count"`
	SendTimestampNs      *int64 `db:"send_timestamp_ns"`
	TotalLatencyMs       *int64 `db:"total_latency_ms"`
	ExceededOneSecond    *bool  `db:"exceeded_one_second"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	ReceivedAt  time.Time  `db:"received_at"`
	ProcessedAt *time.Time `db:"processed_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// NewEvent builds a RECEIVED event with a fresh id
func NewEvent(origin Origin, payload string, receivedAt time.Time) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:              uuid.NewString(),
		SourceTopic:     origin.Topic,
		SourcePartition: origin.Partition,
		SourceOffset:    origin.Offset,
		Payload:         payload,
		Status:          StatusReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
		ReceivedAt:      receivedAt,
	}
}

// CalculateTimings derives TotalLatencyMs and ExceededOneSecond from
// PublishedAt and SendTimestampNs. It is a no-op unless both are present.
func (e *Event) CalculateTimings() {
	if e.SendTimestampNs == nil || e.PublishedAt == nil {
		return
	}
	total := e.PublishedAt.UnixMilli() - *e.SendTimestampNs/int64(time.Millisecond)
	exceeded := total > SlowThresholdMs
	e.TotalLatencyMs = &total
	e.ExceededOneSecond = &exceeded
}

// SendTime returns the upstream send time, if the producer supplied one.
func (e *Event) SendTime() (time.Time, bool) {
	if e.SendTimestampNs == nil {
		return time.Time{}, false
	}
	return time.Unix(0, *e.SendTimestampNs), true
}

// MarkPublished records a confirmed publish and derives the latency fields.
func (e *Event) MarkPublished(topic string, partition int32, offset int64, at time.Time) {
	e.Status = StatusSuccess
	e.DestinationTopic = topic
	e.DestinationPartition = &partition
	e.DestinationOffset = &offset
	e.PublishedAt = &at
	e.UpdatedAt = at
	e.CalculateTimings()
}

// MarkFailed moves the event to FAILED with the given reason.
func (e *Event) MarkFailed(reason string, at time.Time) {
	e.Status = StatusFailed
	e.ErrorMessage = reason
	e.UpdatedAt = at
}

// TopicPartition renders the origin as "topic-partition".
func (e *Event) TopicPartition() string {
	return fmt.Sprintf("%s-%d", e.SourceTopic, e.SourcePartition)
}

// Clone returns a deep copy so stores never share pointers with callers.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.DestinationPartition = clonePtr(e.DestinationPartition)
	c.DestinationOffset = clonePtr(e.DestinationOffset)
	c.SendTimestampNs = clonePtr(e.SendTimestampNs)
	c.TotalLatencyMs = clonePtr(e.TotalLatencyMs)
	c.ExceededOneSecond = clonePtr(e.ExceededOneSecond)
	c.ProcessedAt = clonePtr(e.ProcessedAt)
	c.PublishedAt = clonePtr(e.PublishedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

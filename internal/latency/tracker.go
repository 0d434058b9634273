package latency

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
)

// Recorder receives individual latency observations, typically a metrics backend
type Recorder interface {
	ObserveConsumerLatency(d time.Duration)
	ObserveProcessingLatency(d time.Duration)
	ObservePublishingLatency(d time.Duration)
	ObserveEndToEndLatency(d time.Duration)
}

// Stats is a point-in-time view of the counters
type Stats struct {
	TotalMessages  int64
	SlowMessages   int64
	SlowPercentage float64
	Threshold      time.Duration
}

// FastMessages is the number of messages within the threshold
func (s Stats) FastMessages() int64 {
	return s.TotalMessages - s.SlowMessages
}

// Tracker derives pipeline latencies from checkpoints and counts messages
// whose end-to-end latency exceeds the slow threshold. Safe for concurrent use.
type Tracker struct {
	total    atomic.Int64
	slow     atomic.Int64
	recorder Recorder
	log      *zap.Logger
}

// NewTracker creates a tracker. recorder may be nil.
func NewTracker(recorder Recorder, log *zap.Logger) *Tracker {
	return &Tracker{recorder: recorder, log: log}
}

// RecordConsumerLatency records the delay between the producer send time and arrival.
func (t *Tracker) RecordConsumerLatency(sendTimestampNs *int64, receivedAt time.Time) {
	if sendTimestampNs == nil || t.recorder == nil {
		return
	}
	t.recorder.ObserveConsumerLatency(receivedAt.Sub(time.Unix(0, *sendTimestampNs)))
}

// RecordProcessingLatency records time spent between arrival and publish start.
func (t *Tracker) RecordProcessingLatency(start, end time.Time) {
	if t.recorder != nil {
		t.recorder.ObserveProcessingLatency(end.Sub(start))
	}
}

// RecordPublishingLatency records time spent waiting for the broker.
func (t *Tracker) RecordPublishingLatency(start, end time.Time) {
	if t.recorder != nil {
		t.recorder.ObservePublishingLatency(end.Sub(start))
	}
}

// RecordEndToEndLatency counts one message and marks it slow when totalLatencyMs exceeds the threshold.
func (t *Tracker) RecordEndToEndLatency(totalLatencyMs int64) {
	t.total.Add(1)
	if totalLatencyMs > domain.SlowThresholdMs {
		t.slow.Add(1)
	}
	if t.recorder != nil {
		t.recorder.ObserveEndToEndLatency(time.Duration(totalLatencyMs) * time.Millisecond)
	}
}

// RecordEvent records the end-to-end latency of a published event, if it has one.
func (t *Tracker) RecordEvent(event *domain.Event) {
	if event.TotalLatencyMs == nil {
		return
	}
	t.RecordEndToEndLatency(*event.TotalLatencyMs)
	if *event.TotalLatencyMs > domain.SlowThresholdMs {
		t.log.Debug("Slow message",
			zap.String("event_id", event.ID),
			zap.String("message_id", event.MessageID),
			zap.Int64("total_latency_ms", *event.TotalLatencyMs))
	}
}

// TotalMessageCount is the number of end-to-end observations
func (t *Tracker) TotalMessageCount() int64 {
	return t.total.Load()
}

// SlowMessageCount is the number of observations over the threshold
func (t *Tracker) SlowMessageCount() int64 {
	return t.slow.Load()
}

// SlowMessagePercentage is slow/total*100, or 0 before any observation
func (t *Tracker) SlowMessagePercentage() float64 {
	return percentage(t.slow.Load(), t.total.Load())
}

// Stats returns a snapshot of the counters
func (t *Tracker) Stats() Stats {
	total := t.total.Load()
	slow := t.slow.Load()
	return Stats{
		TotalMessages:  total,
		SlowMessages:   slow,
		SlowPercentage: percentage(slow, total),
		Threshold:      time.Duration(domain.SlowThresholdMs) * time.Millisecond,
	}
}

// LogStats writes the current counters at info level
func (t *Tracker) LogStats() {
	s := t.Stats()
	t.log.Info("Latency stats",
		zap.Int64("total_messages", s.TotalMessages),
		zap.Int64("slow_messages", s.SlowMessages),
		zap.Float64("slow_percentage", s.SlowPercentage))
}

func percentage(slow, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(slow) / float64(total) * 100
}

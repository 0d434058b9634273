package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/dto"
	"github.com/himanshugvu/eventAdapter/internal/latency"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

// PipelineInfo is the static configuration reported by Summary
type PipelineInfo struct {
	Strategy    domain.Strategy
	Transformer string
	Transport   string
	Concurrency int
	BulkSize    int
}

// StatsService represents the stats service
type StatsService struct {
	store   repository.EventStore
	tracker *latency.Tracker
	info    PipelineInfo
	log     *zap.Logger
	now     func() time.Time
}

// NewStatsService creates a new stats service
func NewStatsService(store repository.EventStore, tracker *latency.Tracker, info PipelineInfo, log *zap.Logger) *StatsService {
	return &StatsService{
		store:   store,
		tracker: tracker,
		info:    info,
		log:     log,
		now:     time.Now,
	}
}

// Health checks the event store
func (s *StatsService) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("event store unreachable: %w", err)
	}
	return nil
}

// LatencyStats returns the tracker counters and logs them
func (s *StatsService) LatencyStats() *dto.LatencyStatsResponse {
	stats := s.tracker.Stats()
	s.tracker.LogStats()

	return &dto.LatencyStatsResponse{
		TotalMessages:    stats.TotalMessages,
		SlowMessages:     stats.SlowMessages,
		FastMessages:     stats.FastMessages(),
		SlowPercentage:   fmt.Sprintf("%.2f%%", stats.SlowPercentage),
		LatencyThreshold: formatThreshold(stats.Threshold),
		Timestamp:        s.now().UnixMilli(),
	}
}

// Summary reports pipeline configuration and per-status event counts
func (s *StatsService) Summary(ctx context.Context) (*dto.SummaryResponse, error) {
	counts := make(map[string]int64, len(domain.Statuses))
	for _, status := range domain.Statuses {
		n, err := s.store.CountByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s events: %w", status, err)
		}
		counts[status.String()] = n
	}

	return &dto.SummaryResponse{
		Status:           "running",
		Strategy:         s.info.Strategy.String(),
		Transformer:      s.info.Transformer,
		Transport:        s.info.Transport,
		Concurrency:      s.info.Concurrency,
		BulkSize:         s.info.BulkSize,
		LatencyThreshold: formatThreshold(time.Duration(domain.SlowThresholdMs) * time.Millisecond),
		Events:           counts,
	}, nil
}

// GetEvent looks up a stored event. A missing event yields repository.ErrNotFound.
func (s *StatsService) GetEvent(ctx context.Context, id string) (*dto.EventResponse, error) {
	event, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toEventResponse(event), nil
}

func toEventResponse(e *domain.Event) *dto.EventResponse {
	return &dto.EventResponse{
		ID:                 e.ID,
		Status:             e.Status.String(),
		SourceTopic:        e.SourceTopic,
		SourcePartition:    e.SourcePartition,
		SourceOffset:       e.SourceOffset,
		MessageID:          e.MessageID,
		Source:             e.Source,
		Payload:            e.Payload,
		TransformedPayload: e.TransformedPayload,
		DestinationTopic:   e.DestinationTopic,
		DestinationOffset:  e.DestinationOffset,
		ErrorMessage:       e.ErrorMessage,
		RetryCount:         e.RetryCount,
		TotalLatencyMs:     e.TotalLatencyMs,
		ExceededOneSecond:  e.ExceededOneSecond,
		ReceivedAt:         e.ReceivedAt,
		ProcessedAt:        e.ProcessedAt,
		PublishedAt:        e.PublishedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func formatThreshold(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

package service

import (
	"context"

	"github.com/himanshugvu/eventAdapter/internal/dto"
)

// StatsServicer defines the read-only operations exposed over HTTP
type StatsServicer interface {
	Health(ctx context.Context) error
	LatencyStats() *dto.LatencyStatsResponse
	Summary(ctx context.Context) (*dto.SummaryResponse, error)
	GetEvent(ctx context.Context, id string) (*dto.EventResponse, error)
}

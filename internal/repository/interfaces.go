package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/himanshugvu/eventAdapter/internal/domain"
)

var (
	// ErrNotFound is returned when no event has the requested id.
	ErrNotFound = errors.New("event not found")
	// ErrInvalidTransition is returned when a status update would break the event state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateEvent is returned when an inserted event id already exists.
	ErrDuplicateEvent = errors.New("duplicate event id")
)

// EventStore defines durable persistence for pipeline events. Implementations
// must be safe for concurrent use.
type EventStore interface {
	// BulkInsert persists all events or none of them
	BulkInsert(ctx context.Context, events []*domain.Event) error

	// UpdateStatus moves an event to status, recording errorMessage when it is not empty
	UpdateStatus(ctx context.Context, id string, status domain.Status, errorMessage string) error

	// UpdateOutcome persists the processing result carried by event: status,
	// error, transformed payload, destination and timing fields
	UpdateOutcome(ctx context.Context, event *domain.Event) error

	FindByID(ctx context.Context, id string) (*domain.Event, error)

	// FindStaleEvents returns RECEIVED events that arrived more than threshold ago
	FindStaleEvents(ctx context.Context, threshold time.Duration) ([]*domain.Event, error)

	// FindFailedEvents returns FAILED events whose retry count is below maxRetries
	FindFailedEvents(ctx context.Context, maxRetries int) ([]*domain.Event, error)

	IncrementRetryCount(ctx context.Context, id string) error

	CountByStatus(ctx context.Context, status domain.Status) (int64, error)

	// DeleteOlderThan removes events created more than retention ago and returns how many were removed
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	// Ping checks if the backend is reachable
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// MaxErrorMessageBytes bounds stored error messages.
const MaxErrorMessageBytes = 2048

// TruncateError shortens msg to MaxErrorMessageBytes without splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageBytes {
		return msg
	}
	cut := MaxErrorMessageBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

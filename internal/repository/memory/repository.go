package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

// Repository is an in-process EventStore. It keeps copies of every event so
// callers can keep mutating the values they pass in.
type Repository struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
	now    func() time.Time
}

// Option customizes a Repository
type Option func(*Repository)

// WithClock overrides the time source used for staleness and retention.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates an empty in-memory repository
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		events: make(map[string]*domain.Event),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BulkInsert stores all events, or none if any id is already present
func (r *Repository) BulkInsert(ctx context.Context, events []*domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		if _, ok := r.events[event.ID]; ok {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateEvent, event.ID)
		}
		if _, ok := seen[event.ID]; ok {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateEvent, event.ID)
		}
		seen[event.ID] = struct{}{}
	}

	for _, event := range events {
		stored := event.Clone()
		stored.ErrorMessage = repository.TruncateError(stored.ErrorMessage)
		r.events[event.ID] = stored
	}
	return nil
}

// UpdateStatus applies a guarded status change
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.Status, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.transition(id, status)
	if err != nil {
		return err
	}
	if errorMessage != "" {
		event.ErrorMessage = repository.TruncateError(errorMessage)
	}
	return nil
}

// UpdateOutcome copies the processing result of update onto the stored event
func (r *Repository) UpdateOutcome(ctx context.Context, update *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.transition(update.ID, update.Status)
	if err != nil {
		return err
	}

	src := update.Clone()
	event.ErrorMessage = repository.TruncateError(src.ErrorMessage)
	event.TransformedPayload = src.TransformedPayload
	event.DestinationTopic = src.DestinationTopic
	event.DestinationPartition = src.DestinationPartition
	event.DestinationOffset = src.DestinationOffset
	event.ProcessedAt = src.ProcessedAt
	event.PublishedAt = src.PublishedAt
	event.TotalLatencyMs = src.TotalLatencyMs
	event.ExceededOneSecond = src.ExceededOneSecond
	return nil
}

// transition must be called with the write lock held.
func (r *Repository) transition(id string, status domain.Status) (*domain.Event, error) {
	event, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if !domain.CanTransition(event.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, event.Status, status)
	}
	event.Status = status
	event.UpdatedAt = r.now()
	return event, nil
}

// FindByID returns a copy of the stored event
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return event.Clone(), nil
}

// FindStaleEvents returns RECEIVED events older than threshold, oldest first
func (r *Repository) FindStaleEvents(ctx context.Context, threshold time.Duration) ([]*domain.Event, error) {
	cutoff := r.now().Add(-threshold)
	return r.filter(ctx, func(e *domain.Event) bool {
		return e.Status == domain.StatusReceived && e.ReceivedAt.Before(cutoff)
	})
}

// FindFailedEvents returns FAILED events that still have retries left, oldest first
func (r *Repository) FindFailedEvents(ctx context.Context, maxRetries int) ([]*domain.Event, error) {
	return r.filter(ctx, func(e *domain.Event) bool {
		return e.Status == domain.StatusFailed && e.RetryCount < maxRetries
	})
}

func (r *Repository) filter(ctx context.Context, keep func(*domain.Event) bool) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Event
	for _, event := range r.events {
		if keep(event) {
			out = append(out, event.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

// IncrementRetryCount bumps the retry counter of an event
func (r *Repository) IncrementRetryCount(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	event.RetryCount++
	event.UpdatedAt = r.now()
	return nil
}

// CountByStatus counts events currently in status
func (r *Repository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, event := range r.events {
		if event.Status == status {
			n++
		}
	}
	return n, nil
}

// DeleteOlderThan drops events created before now minus retention
func (r *Repository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, event := range r.events {
		if event.CreatedAt.Before(cutoff) {
			delete(r.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds
func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (r *Repository) Close() error {
	return nil
}

var _ repository.EventStore = (*Repository)(nil)

package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

const columns = `id, source_topic, source_partition, source_offset, message_id, source, payload,
	transformed_payload, destination_topic, destination_partition, destination_offset, status,
	error_message, retry_count, send_timestamp_ns, total_latency_ms, exceeded_one_second,
	created_at, updated_at, received_at, processed_at, published_at, version`

// eventRow is the ClickHouse shape of an event. Every update inserts a new
// row with a higher version and ReplacingMergeTree keeps the latest one.
type eventRow struct {
	ID                   string     `ch:"id"`
	SourceTopic          string     `ch:"source_topic"`
	SourcePartition      int32      `ch:"source_partition"`
	SourceOffset         int64      `ch:"source_offset"`
	MessageID            string     `ch:"message_id"`
	Source               string     `ch:"source"`
	Payload              string     `ch:"payload"`
	TransformedPayload   string     `ch:"transformed_payload"`
	DestinationTopic     string     `ch:"destination_topic"`
	DestinationPartition *int32     `ch:"destination_partition"`
	DestinationOffset    *int64     `ch:"destination_offset"`
	Status               string     `ch:"status"`
	ErrorMessage         string     `ch:"error_message"`
	RetryCount           int32      `ch:"retry_count"`
	SendTimestampNs      *int64     `ch:"send_timestamp_ns"`
	TotalLatencyMs       *int64     `ch:"total_latency_ms"`
	ExceededOneSecond    *bool      `ch:"exceeded_one_second"`
	CreatedAt            time.Time  `ch:"created_at"`
	UpdatedAt            time.Time  `ch:"updated_at"`
	ReceivedAt           time.Time  `ch:"received_at"`
	ProcessedAt          *time.Time `ch:"processed_at"`
	PublishedAt          *time.Time `ch:"published_at"`
	Version              uint64     `ch:"version"`
}

func toRow(e *domain.Event, version uint64) eventRow {
	c := e.Clone()
	return eventRow{
		ID:                   c.ID,
		SourceTopic:          c.SourceTopic,
		SourcePartition:      c.SourcePartition,
		SourceOffset:         c.SourceOffset,
		MessageID:            c.MessageID,
		Source:               c.Source,
		Payload:              c.Payload,
		TransformedPayload:   c.TransformedPayload,
		DestinationTopic:     c.DestinationTopic,
		DestinationPartition: c.DestinationPartition,
		DestinationOffset:    c.DestinationOffset,
		Status:               string(c.Status),
		ErrorMessage:         repository.TruncateError(c.ErrorMessage),
		RetryCount:           int32(c.RetryCount),
		SendTimestampNs:      c.SendTimestampNs,
		TotalLatencyMs:       c.TotalLatencyMs,
		ExceededOneSecond:    c.ExceededOneSecond,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
		ReceivedAt:           c.ReceivedAt,
		ProcessedAt:          c.ProcessedAt,
		PublishedAt:          c.PublishedAt,
		Version:              version,
	}
}

func (r eventRow) toDomain() *domain.Event {
	return &domain.Event{
		ID:                   r.ID,
		SourceTopic:          r.SourceTopic,
		SourcePartition:      r.SourcePartition,
		SourceOffset:         r.SourceOffset,
		MessageID:            r.MessageID,
		Source:               r.Source,
		Payload:              r.Payload,
		TransformedPayload:   r.TransformedPayload,
		DestinationTopic:     r.DestinationTopic,
		DestinationPartition: r.DestinationPartition,
		DestinationOffset:    r.DestinationOffset,
		Status:               domain.Status(r.Status),
		ErrorMessage:         r.ErrorMessage,
		RetryCount:           int(r.RetryCount),
		SendTimestampNs:      r.SendTimestampNs,
		TotalLatencyMs:       r.TotalLatencyMs,
		ExceededOneSecond:    r.ExceededOneSecond,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		ReceivedAt:           r.ReceivedAt,
		ProcessedAt:          r.ProcessedAt,
		PublishedAt:          r.PublishedAt,
	}
}

// nextVersion is strictly greater than current and tracks wall time
func nextVersion(current uint64, now time.Time) uint64 {
	v := uint64(now.UnixNano())
	if v <= current {
		return current + 1
	}
	return v
}

// Repository implements repository.EventStore for ClickHouse. ClickHouse has
// no row-level transactions, so read-modify-write updates are serialized
// within the process.
type Repository struct {
	client *Client
	mu     sync.Mutex
	now    func() time.Time
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		now:    time.Now,
		log:    log,
	}
}

// InitSchema creates the events table if it does not exist
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS orchestrator_events (
		id String,
		source_topic LowCardinality(String),
		source_partition Int32,
		source_offset Int64,
		message_id String,
		source LowCardinality(String),
		payload String,
		transformed_payload String,
		destination_topic LowCardinality(String),
		destination_partition Nullable(Int32),
		destination_offset Nullable(Int64),
		status LowCardinality(String),
		error_message String,
		retry_count Int32,
		send_timestamp_ns Nullable(Int64),
		total_latency_ms Nullable(Int64),
		exceeded_one_second Nullable(Bool),
		created_at DateTime64(3),
		updated_at DateTime64(3),
		received_at DateTime64(3),
		processed_at Nullable(DateTime64(3)),
		published_at Nullable(DateTime64(3)),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY id
	PARTITION BY toYYYYMM(created_at)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create orchestrator_events table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// BulkInsert appends all events in one native batch
func (r *Repository) BulkInsert(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]eventRow, len(events))
	version := uint64(r.now().UnixNano())
	for i, event := range events {
		rows[i] = toRow(event, version)
	}
	return r.write(ctx, rows...)
}

func (r *Repository) write(ctx context.Context, rows ...eventRow) error {
	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO orchestrator_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s to batch: %w", rows[i].ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// latest reads the current version of an event
func (r *Repository) latest(ctx context.Context, id string) (eventRow, error) {
	var rows []eventRow
	query := `SELECT ` + columns + ` FROM orchestrator_events FINAL WHERE id = ? LIMIT 1`
	if err := r.client.Conn().Select(ctx, &rows, query, id); err != nil {
		return eventRow{}, fmt.Errorf("failed to read event %s: %w", id, err)
	}
	if len(rows) == 0 {
		return eventRow{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return rows[0], nil
}

// mutate applies fn to the latest version of an event and writes the result back
func (r *Repository) mutate(ctx context.Context, id string, fn func(*domain.Event) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.latest(ctx, id)
	if err != nil {
		return err
	}

	event := row.toDomain()
	if err := fn(event); err != nil {
		return err
	}

	now := r.now()
	event.UpdatedAt = now
	return r.write(ctx, toRow(event, nextVersion(row.Version, now)))
}

// UpdateStatus writes a new version with the new status
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.Status, errorMessage string) error {
	return r.mutate(ctx, id, func(event *domain.Event) error {
		if !domain.CanTransition(event.Status, status) {
			return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, event.Status, status)
		}
		event.Status = status
		if errorMessage != "" {
			event.ErrorMessage = errorMessage
		}
		return nil
	})
}

// UpdateOutcome writes a new version carrying the processing result
func (r *Repository) UpdateOutcome(ctx context.Context, update *domain.Event) error {
	return r.mutate(ctx, update.ID, func(event *domain.Event) error {
		if !domain.CanTransition(event.Status, update.Status) {
			return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, event.Status, update.Status)
		}
		src := update.Clone()
		event.Status = src.Status
		event.ErrorMessage = src.ErrorMessage
		event.TransformedPayload = src.TransformedPayload
		event.DestinationTopic = src.DestinationTopic
		event.DestinationPartition = src.DestinationPartition
		event.DestinationOffset = src.DestinationOffset
		event.ProcessedAt = src.ProcessedAt
		event.PublishedAt = src.PublishedAt
		event.TotalLatencyMs = src.TotalLatencyMs
		event.ExceededOneSecond = src.ExceededOneSecond
		return nil
	})
}

// IncrementRetryCount writes a new version with retry_count + 1
func (r *Repository) IncrementRetryCount(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(event *domain.Event) error {
		event.RetryCount++
		return nil
	})
}

// FindByID returns the latest version of an event
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Event, error) {
	row, err := r.latest(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *Repository) query(ctx context.Context, where string, args ...interface{}) ([]*domain.Event, error) {
	var rows []eventRow
	query := `SELECT ` + columns + ` FROM orchestrator_events FINAL WHERE ` + where + ` ORDER BY received_at`
	if err := r.client.Conn().Select(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	events := make([]*domain.Event, len(rows))
	for i, row := range rows {
		events[i] = row.toDomain()
	}
	return events, nil
}

// FindStaleEvents returns RECEIVED events that arrived before now minus threshold
func (r *Repository) FindStaleEvents(ctx context.Context, threshold time.Duration) ([]*domain.Event, error) {
	events, err := r.query(ctx, `status = ? AND received_at < ?`,
		string(domain.StatusReceived), r.now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to find stale events: %w", err)
	}
	return events, nil
}

// FindFailedEvents returns FAILED events with retries left
func (r *Repository) FindFailedEvents(ctx context.Context, maxRetries int) ([]*domain.Event, error) {
	events, err := r.query(ctx, `status = ? AND retry_count < ?`,
		string(domain.StatusFailed), int32(maxRetries))
	if err != nil {
		return nil, fmt.Errorf("failed to find failed events: %w", err)
	}
	return events, nil
}

// CountByStatus counts the latest versions in the given status
func (r *Repository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n uint64
	row := r.client.Conn().QueryRow(ctx,
		`SELECT count() FROM orchestrator_events FINAL WHERE status = ?`, string(status))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", status, err)
	}
	return int64(n), nil
}

// DeleteOlderThan removes every version of events created before now minus retention
func (r *Repository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.now().Add(-retention)

	var n uint64
	row := r.client.Conn().QueryRow(ctx,
		`SELECT count() FROM orchestrator_events FINAL WHERE created_at < ?`, cutoff)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count expired events: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if err := r.client.Conn().Exec(ctx, `ALTER TABLE orchestrator_events DELETE WHERE created_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return int64(n), nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

var _ repository.EventStore = (*Repository)(nil)

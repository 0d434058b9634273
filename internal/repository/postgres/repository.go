package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

const uniqueViolation = "23505"

const selectColumns = `id, source_topic, source_partition, source_offset, message_id, source, payload,
	transformed_payload, destination_topic, destination_partition, destination_offset, status,
	error_message, retry_count, send_timestamp_ns, total_latency_ms, exceeded_one_second,
	created_at, updated_at, received_at, processed_at, published_at`

const insertEvents = `
INSERT INTO orchestrator_events (` + selectColumns + `)
VALUES (:id, :source_topic, :source_partition, :source_offset, :message_id, :source, :payload,
	:transformed_payload, :destination_topic, :destination_partition, :destination_offset, :status,
	:error_message, :retry_count, :send_timestamp_ns, :total_latency_ms, :exceeded_one_second,
	:created_at, :updated_at, :received_at, :processed_at, :published_at)`

// Repository implements repository.EventStore on PostgreSQL
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
	log *zap.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(db *sqlx.DB, log *zap.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log,
	}
}

// BulkInsert writes all events in a single transaction
func (r *Repository) BulkInsert(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]domain.Event, len(events))
	for i, event := range events {
		rows[i] = *event
		rows[i].ErrorMessage = repository.TruncateError(event.ErrorMessage)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertEvents, rows); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateEvent, pgErr.Detail)
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// UpdateStatus changes the status of an event when the state machine allows it
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.Status, errorMessage string) error {
	allowed := domain.AllowedFrom(status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: nothing may move to %s", repository.ErrInvalidTransition, status)
	}

	query := `UPDATE orchestrator_events SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`
	args := []interface{}{status, r.now().UTC(), id, allowed}
	if errorMessage != "" {
		query = `UPDATE orchestrator_events SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status IN (?)`
		args = []interface{}{status, repository.TruncateError(errorMessage), r.now().UTC(), id, allowed}
	}

	return r.guardedUpdate(ctx, id, query, args...)
}

// UpdateOutcome persists the processing result of an event
func (r *Repository) UpdateOutcome(ctx context.Context, event *domain.Event) error {
	allowed := domain.AllowedFrom(event.Status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: nothing may move to %s", repository.ErrInvalidTransition, event.Status)
	}

	const query = `
UPDATE orchestrator_events
SET status = ?, error_message = ?, transformed_payload = ?, destination_topic = ?,
	destination_partition = ?, destination_offset = ?, processed_at = ?, published_at = ?,
	total_latency_ms = ?, exceeded_one_second = ?, updated_at = ?
WHERE id = ? AND status IN (?)`

	return r.guardedUpdate(ctx, event.ID, query,
		event.Status,
		repository.TruncateError(event.ErrorMessage),
		event.TransformedPayload,
		event.DestinationTopic,
		event.DestinationPartition,
		event.DestinationOffset,
		event.ProcessedAt,
		event.PublishedAt,
		event.TotalLatencyMs,
		event.ExceededOneSecond,
		r.now().UTC(),
		event.ID,
		allowed,
	)
}

// guardedUpdate runs an UPDATE restricted to legal predecessor states and
// tells a missing row apart from a rejected transition.
func (r *Repository) guardedUpdate(ctx context.Context, id, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current domain.Status
	err = r.db.GetContext(ctx, &current, `SELECT status FROM orchestrator_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read event %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", repository.ErrInvalidTransition, id, current)
}

// FindByID loads a single event
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Event, error) {
	var event domain.Event
	err := r.db.GetContext(ctx, &event, `SELECT `+selectColumns+` FROM orchestrator_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event %s: %w", id, err)
	}
	return &event, nil
}

// FindStaleEvents returns RECEIVED events that arrived before now minus threshold
func (r *Repository) FindStaleEvents(ctx context.Context, threshold time.Duration) ([]*domain.Event, error) {
	var events []*domain.Event
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+selectColumns+` FROM orchestrator_events
		WHERE status = $1 AND received_at < $2 ORDER BY received_at`,
		domain.StatusReceived, r.now().Add(-threshold).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find stale events: %w", err)
	}
	return events, nil
}

// FindFailedEvents returns FAILED events with retries left
func (r *Repository) FindFailedEvents(ctx context.Context, maxRetries int) ([]*domain.Event, error) {
	var events []*domain.Event
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+selectColumns+` FROM orchestrator_events
		WHERE status = $1 AND retry_count < $2 ORDER BY received_at`,
		domain.StatusFailed, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to find failed events: %w", err)
	}
	return events, nil
}

// IncrementRetryCount bumps retry_count by one
func (r *Repository) IncrementRetryCount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orchestrator_events SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2`,
		r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return nil
}

// CountByStatus counts events in the given status
func (r *Repository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM orchestrator_events WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", status, err)
	}
	return n, nil
}

// DeleteOlderThan removes events created before now minus retention
func (r *Repository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM orchestrator_events WHERE created_at < $1`, r.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return deleted, nil
}

// Ping checks if the PostgreSQL connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool
func (r *Repository) Close() error {
	r.log.Info("Closing PostgreSQL connection")
	return r.db.Close()
}

var _ repository.EventStore = (*Repository)(nil)

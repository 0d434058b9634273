package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

// Job names accepted by RunJob
const (
	JobStale   = "stale"
	JobRetry   = "retry"
	JobCleanup = "cleanup"
)

// TimeoutMessage is recorded on events failed by the stale reaper
const TimeoutMessage = "Event timeout - exceeded threshold"

// ErrUnknownJob is returned by RunJob for an unrecognized job name
var ErrUnknownJob = errors.New("unknown maintenance job")

// Metrics receives the outcome of each job run
type Metrics interface {
	ObserveJob(job string, affected int64, err error)
}

// Config holds thresholds and run intervals for the maintenance jobs
type Config struct {
	StaleThreshold time.Duration
	MaxRetries     int
	Retention      time.Duration

	StaleInterval   time.Duration
	RetryInterval   time.Duration
	CleanupInterval time.Duration
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int64, error)
}

// Scheduler runs the stale reaper, retry marker and retention cleanup against
// the event store. Each job runs on its own fixed-delay loop; a failed run is
// logged and the job waits for its next turn.
type Scheduler struct {
	config  Config
	store   repository.EventStore
	metrics Metrics
	log     *zap.Logger
	jobs    map[string]job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler
func NewScheduler(config Config, store repository.EventStore, metrics Metrics, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		config:  config,
		store:   store,
		metrics: metrics,
		log:     log,
	}
	s.jobs = map[string]job{
		JobStale:   {name: JobStale, interval: config.StaleInterval, run: s.ReapStaleEvents},
		JobRetry:   {name: JobRetry, interval: config.RetryInterval, run: s.MarkRetryableEvents},
		JobCleanup: {name: JobCleanup, interval: config.CleanupInterval, run: s.CleanupOldEvents},
	}
	return s
}

// Start launches one loop per job. It returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance: scheduler is already running")
	}
	for _, j := range s.jobs {
		if j.interval <= 0 {
			return fmt.Errorf("maintenance: %s interval must be positive", j.name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}

	s.log.Info("Maintenance scheduler started",
		zap.Duration("stale_interval", s.config.StaleInterval),
		zap.Duration("retry_interval", s.config.RetryInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))
	return nil
}

// Stop cancels the loops and waits for any in-progress run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info("Maintenance scheduler stopped")
}

// RunJob executes the named job once
func (s *Scheduler) RunJob(ctx context.Context, name string) (int64, error) {
	j, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

// loop runs j immediately, then again interval after each run completes.
func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_, _ = s.execute(ctx, j)
			timer.Reset(j.interval)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j job) (affected int64, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("maintenance job %s panicked: %v", j.name, r)
		}
		s.metrics.ObserveJob(j.name, affected, err)
		if err != nil {
			s.log.Error("Maintenance job failed",
				zap.String("job", j.name),
				zap.Int64("count", affected),
				zap.Error(err))
			return
		}
		s.log.Debug("Maintenance job finished",
			zap.String("job", j.name),
			zap.Int64("count", affected),
			zap.Duration("duration", time.Since(start)))
	}()

	return j.run(ctx)
}

// ReapStaleEvents fails RECEIVED events older than the stale threshold.
// Events that completed in the meantime are skipped.
func (s *Scheduler) ReapStaleEvents(ctx context.Context) (int64, error) {
	events, err := s.store.FindStaleEvents(ctx, s.config.StaleThreshold)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	s.log.Warn("Found stale events", zap.Int("count", len(events)))

	var reaped int64
	var errs []error
	for _, event := range events {
		err := s.store.UpdateStatus(ctx, event.ID, domain.StatusFailed, TimeoutMessage)
		switch {
		case err == nil:
			reaped++
		case errors.Is(err, repository.ErrInvalidTransition), errors.Is(err, repository.ErrNotFound):
			s.log.Debug("Stale event already resolved", zap.String("event_id", event.ID), zap.Error(err))
		default:
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
		}
	}
	return reaped, errors.Join(errs...)
}

// MarkRetryableEvents flags FAILED events below the retry limit as RETRYING and
// bumps their retry count. Nothing is resubmitted.
func (s *Scheduler) MarkRetryableEvents(ctx context.Context) (int64, error) {
	events, err := s.store.FindFailedEvents(ctx, s.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to find failed events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	s.log.Info("Found failed events eligible for retry", zap.Int("count", len(events)))

	var marked int64
	var errs []error
	for _, event := range events {
		err := s.store.UpdateStatus(ctx, event.ID, domain.StatusRetrying, "")
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		if err := s.store.IncrementRetryCount(ctx, event.ID); err != nil {
			errs = append(errs, fmt.Errorf("event %s: increment retry count: %w", event.ID, err))
			continue
		}
		marked++
	}
	return marked, errors.Join(errs...)
}

// CleanupOldEvents deletes events created before the retention period.
func (s *Scheduler) CleanupOldEvents(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteOlderThan(ctx, s.config.Retention)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	if deleted > 0 {
		s.log.Info("Cleaned up old events",
			zap.Int64("count", deleted),
			zap.Duration("retention", s.config.Retention))
	}
	return deleted, nil
}

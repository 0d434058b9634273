package publisher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// Metrics receives publish outcomes
type Metrics interface {
	IncPublished()
	IncPublishErrors()
}

// Config configures the publisher
type Config struct {
	Topic       string
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout bounds a single attempt; zero means no per-attempt limit.
	Timeout time.Duration
}

// Result is the outcome of one Publish call
type Result struct {
	Destination queue.Destination
	Err         error
	Attempts    int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the time spent publishing, retries included
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Publisher sends payloads to the outbound topic with bounded, fixed-delay retry
type Publisher struct {
	producer queue.Producer
	config   Config
	metrics  Metrics
	log      *zap.Logger
}

// NewPublisher creates a new publisher
func NewPublisher(producer queue.Producer, config Config, metrics Metrics, log *zap.Logger) *Publisher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Publisher{
		producer: producer,
		config:   config,
		metrics:  metrics,
		log:      log,
	}
}

// Publish sends payload asynchronously. The returned channel receives exactly
// one Result and is never closed without one.
func (p *Publisher) Publish(ctx context.Context, payload string, headers map[string]string) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		done <- p.PublishSync(ctx, payload, headers)
	}()
	return done
}

// PublishSync sends payload, retrying up to MaxAttempts in total
func (p *Publisher) PublishSync(ctx context.Context, payload string, headers map[string]string) Result {
	msg := queue.Message{
		Topic:   p.config.Topic,
		Key:     headers[queue.HeaderMessageID],
		Value:   payload,
		Headers: headers,
	}

	result := Result{StartedAt: time.Now()}

	operation := func() error {
		result.Attempts++

		attemptCtx := ctx
		if p.config.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
			defer cancel()
		}

		dest, err := p.producer.Send(attemptCtx, msg)
		if err != nil {
			return err
		}
		result.Destination = dest
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(p.config.MaxAttempts-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		p.log.Warn("Publish attempt failed, retrying",
			zap.String("topic", p.config.Topic),
			zap.String("message_id", msg.Key),
			zap.Int("attempt", result.Attempts),
			zap.Int("max_attempts", p.config.MaxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	result.Err = backoff.RetryNotify(operation, policy, notify)
	result.FinishedAt = time.Now()

	if result.Err != nil {
		p.metrics.IncPublishErrors()
		p.log.Error("Publish failed after retries",
			zap.String("topic", p.config.Topic),
			zap.String("message_id", msg.Key),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err))
		return result
	}

	p.metrics.IncPublished()
	return result
}

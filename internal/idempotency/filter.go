// Package idempotency drops inbound records that were already acknowledged,
// using Valkey (or any Redis-compatible server) as the shared ledger.
package idempotency

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/queue"
)

const keyPrefix = "orchestrator:processed"

// Client is the subset of the redis client the filter uses
type Client interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// NewClient connects to Valkey and verifies the connection
func NewClient(ctx context.Context, cfg config.Valkey) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}
	return client, nil
}

// Filter remembers acknowledged records for TTL so redeliveries can be skipped.
// With failOpen set, ledger errors let records through instead of failing them.
type Filter struct {
	client   Client
	ttl      time.Duration
	failOpen bool
	log      *zap.Logger
}

// NewFilter creates a filter
func NewFilter(client Client, ttl time.Duration, failOpen bool, log *zap.Logger) *Filter {
	return &Filter{
		client:   client,
		ttl:      ttl,
		failOpen: failOpen,
		log:      log,
	}
}

// Split partitions msgs into records not seen before and duplicates
func (f *Filter) Split(ctx context.Context, msgs []queue.Message) (fresh, duplicates []queue.Message, err error) {
	for _, msg := range msgs {
		seen, err := f.seen(ctx, msg)
		if err != nil {
			return nil, nil, err
		}
		if seen {
			duplicates = append(duplicates, msg)
			continue
		}
		fresh = append(fresh, msg)
	}
	return fresh, duplicates, nil
}

// MarkProcessed records msgs as acknowledged
func (f *Filter) MarkProcessed(ctx context.Context, msgs ...queue.Message) error {
	for _, msg := range msgs {
		if err := f.client.SetNX(ctx, Key(msg), 1, f.ttl).Err(); err != nil {
			if f.failOpen {
				f.log.Warn("Failed to record processed message",
					zap.String("key", Key(msg)),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to record processed message: %w", err)
		}
	}
	return nil
}

func (f *Filter) seen(ctx context.Context, msg queue.Message) (bool, error) {
	n, err := f.client.Exists(ctx, Key(msg)).Result()
	if err != nil {
		if f.failOpen {
			f.log.Warn("Idempotency lookup failed, letting message through",
				zap.String("key", Key(msg)),
				zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return n > 0, nil
}

// Key identifies a record by its position in the stream. Receipt-based
// transports have no stable offsets, so the broker message id is used instead.
func Key(msg queue.Message) string {
	if msg.Receipt != "" {
		return fmt.Sprintf("%s:%s:%s", keyPrefix, msg.Topic, msg.Key)
	}
	return fmt.Sprintf("%s:%s:%d:%d", keyPrefix, msg.Topic, msg.Partition, msg.Offset)
}

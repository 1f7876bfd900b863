package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
)

const (
	sequenceKeyPrefix = "order:seq:"

	// DefaultSequenceTTL keeps a day's counter around past midnight in every
	// time zone the service may run in.
	DefaultSequenceTTL = 48 * time.Hour
)

// SequenceSeeder reports the highest sequence already stored for a day.
type SequenceSeeder interface {
	MaxDailySequence(ctx context.Context, day string) (int, error)
}

// SequenceAllocator hands out order numbers from a per-day Redis counter.
// A missing counter is seeded from the database before the first INCR, so a
// flushed or restarted Redis never reissues a number.
type SequenceAllocator struct {
	client redis.UniversalClient
	seeder SequenceSeeder
	ttl    time.Duration
}

// NewSequenceAllocator creates a Redis-backed order number allocator.
func NewSequenceAllocator(client redis.UniversalClient, seeder SequenceSeeder, ttl time.Duration) *SequenceAllocator {
	if ttl <= 0 {
		ttl = DefaultSequenceTTL
	}
	return &SequenceAllocator{client: client, seeder: seeder, ttl: ttl}
}

var _ repository.NumberAllocator = (*SequenceAllocator)(nil)

// NextOrderNumber atomically increments the counter for the day of now.
func (a *SequenceAllocator) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := domain.OrderNumberDay(now)
	key := sequenceKeyPrefix + day

	if err := a.seed(ctx, key, day); err != nil {
		return "", err
	}

	var incr *redis.IntCmd
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, a.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis incr order sequence: %w", err)
	}

	return domain.FormatOrderNumber(now, int(incr.Val())), nil
}

// seed initialises the counter from the database when it does not exist.
// SETNX makes concurrent seeders agree on a single starting value.
func (a *SequenceAllocator) seed(ctx context.Context, key, day string) error {
	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis check order sequence: %w", err)
	}
	if exists == 1 {
		return nil
	}

	current, err := a.seeder.MaxDailySequence(ctx, day)
	if err != nil {
		return fmt.Errorf("seed order sequence: %w", err)
	}

	if err := a.client.SetNX(ctx, key, current, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis seed order sequence: %w", err)
	}
	return nil
}

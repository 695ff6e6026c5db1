package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fillledger:dedup:"

// RedisLedger is the durable ledger tier: one Redis key per execution
// identifier with a retention TTL. SET NX gives the atomic check-and-set
// that prevents two concurrent callers from both claiming "first writer".
//
// Retention must exceed the longest plausible re-delivery window of the
// source feed; the same export file is typically re-delivered and appended
// to repeatedly over a trading day, and historical re-imports span days.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func (r *RedisLedger) IsKnown(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrLedgerUnavailable, id, err)
	}
	return n > 0, nil
}

func (r *RedisLedger) Remember(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	first, err := r.rdb.SetNX(ctx, keyPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrLedgerUnavailable, id, err)
	}
	return first, nil
}

func (r *RedisLedger) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"FillLedger/internal/execution"
	"FillLedger/internal/observability"
)

// readModelKeys are the per-key read-model entries the presentation layer
// caches; every rebuild of a key deletes all of them.
func readModelKeys(key execution.PositionKey) []string {
	prefix := "fillledger:readmodel:"
	suffix := key.Account + ":" + key.Instrument
	return []string{
		prefix + "positions:" + suffix,
		prefix + "stats:" + suffix,
		prefix + "chart:" + suffix,
	}
}

// Invalidator deletes read-model cache entries and emits the rebuilt event
// for one position key. Cache deletion is a mandatory rebuild postcondition:
// a deletion failure fails the rebuild so the caller retries (the rebuild is
// a pure re-derivation, retrying is always safe). Event publishing is
// emit-only: a publish failure is logged and counted, never fatal, since
// consumers can re-read the position store.
type Invalidator struct {
	rdb       *redis.Client
	publisher *Publisher
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewInvalidator(rdb *redis.Client, publisher *Publisher, metrics *observability.Metrics, log zerolog.Logger) *Invalidator {
	return &Invalidator{rdb: rdb, publisher: publisher, metrics: metrics, log: log}
}

// Invalidate runs after a key's position set has been replaced.
func (inv *Invalidator) Invalidate(ctx context.Context, key execution.PositionKey, positions int) error {
	if err := inv.rdb.Del(ctx, readModelKeys(key)...).Err(); err != nil {
		return fmt.Errorf("invalidate read model %s: %w", key, err)
	}
	if inv.metrics != nil {
		inv.metrics.CacheInvalidations.Inc()
	}

	if inv.publisher != nil {
		if err := inv.publisher.PublishRebuilt(ctx, key, positions); err != nil {
			inv.log.Warn().Err(err).Stringer("key", key).Msg("rebuilt event publish failed")
			if inv.metrics != nil {
				inv.metrics.RebuiltEventsDropped.Inc()
			}
		} else if inv.metrics != nil {
			inv.metrics.RebuiltEventsPublished.Inc()
		}
	}

	return nil
}

// Package dedup implements the durable, TTL-bounded deduplication ledger
// keyed by execution identifier. An identifier present in the ledger must
// never be re-inserted into the execution store.
package dedup

import (
	"context"
	"errors"
	"time"

	"FillLedger/internal/observability"
)

// ErrLedgerUnavailable wraps ledger transport failures. Ingestion fails
// closed on it: the batch is rejected and retried later, never accepted
// without dedup protection.
var ErrLedgerUnavailable = errors.New("dedup ledger unavailable")

// Ledger answers "have I seen this execution before?" and records new
// identifiers with a bounded retention window.
type Ledger interface {
	// IsKnown reports whether the identifier has been remembered and is
	// still within its retention window.
	IsKnown(ctx context.Context, id string) (bool, error)

	// Remember records the identifier with the given TTL. The returned bool
	// is true when this call was the first writer; false means another
	// caller already remembered it (atomic check-and-set, safe under
	// concurrent writers).
	Remember(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// Ping verifies the ledger is reachable. Ingestion batches are rejected
	// up front when it is not.
	Ping(ctx context.Context) error
}

// TieredLedger fronts a durable ledger with an in-process LRU. The LRU is
// a hot-path accelerator only: a hit short-circuits the durable lookup, a
// miss always consults the durable tier. Durable-tier errors propagate:
// the caller must fail closed, the LRU is never an availability fallback.
type TieredLedger struct {
	lru     *LRU
	durable Ledger
	metrics *observability.Metrics
}

func NewTieredLedger(capacity int, durable Ledger, metrics *observability.Metrics) *TieredLedger {
	return &TieredLedger{
		lru:     NewLRU(capacity),
		durable: durable,
		metrics: metrics,
	}
}

func (t *TieredLedger) IsKnown(ctx context.Context, id string) (bool, error) {
	start := time.Now()

	if t.lru.Contains(id) {
		t.countHit("lru", start)
		return true, nil
	}

	known, err := t.durable.IsKnown(ctx, id)
	if err != nil {
		return false, err
	}
	if known {
		t.lru.Add(id)
		t.countHit("redis", start)
		return true, nil
	}
	if t.metrics != nil {
		t.metrics.DedupCheckDur.Observe(time.Since(start).Seconds())
	}
	return false, nil
}

func (t *TieredLedger) Remember(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	first, err := t.durable.Remember(ctx, id, ttl)
	if err != nil {
		return false, err
	}
	t.lru.Add(id)
	if t.metrics != nil {
		t.metrics.DedupLRUSize.Set(float64(t.lru.Size()))
	}
	return first, nil
}

func (t *TieredLedger) Ping(ctx context.Context) error {
	return t.durable.Ping(ctx)
}

// Warm preloads recently remembered identifiers into the LRU so a restart
// does not pay the durable-tier lookup for the hot set.
func (t *TieredLedger) Warm(ids []string) {
	for _, id := range ids {
		t.lru.Add(id)
	}
	if t.metrics != nil {
		t.metrics.DedupLRUSize.Set(float64(t.lru.Size()))
	}
}

// LRUSize returns the current number of entries in the hot tier.
func (t *TieredLedger) LRUSize() int {
	return t.lru.Size()
}

func (t *TieredLedger) countHit(tier string, start time.Time) {
	if t.metrics == nil {
		return
	}
	t.metrics.DedupHits.WithLabelValues(tier).Inc()
	t.metrics.DedupLRUSize.Set(float64(t.lru.Size()))
	t.metrics.DedupCheckDur.Observe(time.Since(start).Seconds())
}

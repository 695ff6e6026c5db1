package rebuild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"FillLedger/internal/execution"
	"FillLedger/internal/observability"
	"FillLedger/internal/position"
)

// ErrCrossKeyClaim is returned when a key's executions are already claimed
// by another key's positions. This blocks rebuild of the key until the
// underlying contamination is resolved.
var ErrCrossKeyClaim = errors.New("execution claimed by another position key")

// ExecutionSource provides a key's full execution history in derivation
// order.
type ExecutionSource interface {
	ListByKey(ctx context.Context, key execution.PositionKey) ([]*execution.Execution, error)
}

// PositionSink replaces a key's entire position set atomically and answers
// cross-key claim queries.
type PositionSink interface {
	ReplaceForKey(ctx context.Context, key execution.PositionKey, positions []*position.Position) error
	ClaimedElsewhere(ctx context.Context, key execution.PositionKey, executionIDs []string) ([]execution.PositionKey, error)
}

// Invalidator runs the mandatory post-rebuild invalidation for one key.
type Invalidator interface {
	Invalidate(ctx context.Context, key execution.PositionKey, positions int) error
}

// Coordinator re-derives position state per key. Each key's rebuild is a
// pure full re-derivation: load history, build, replace. It can be
// abandoned and retried at any point because nothing partial is ever
// visible to readers.
type Coordinator struct {
	executions  ExecutionSource
	positions   PositionSink
	builder     *position.Builder
	locks       *KeyLocks
	invalidator Invalidator
	metrics     *observability.Metrics
	log         zerolog.Logger

	maxParallel int
}

func NewCoordinator(
	executions ExecutionSource,
	positions PositionSink,
	builder *position.Builder,
	invalidator Invalidator,
	metrics *observability.Metrics,
	log zerolog.Logger,
	maxParallel int,
) *Coordinator {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Coordinator{
		executions:  executions,
		positions:   positions,
		builder:     builder,
		locks:       NewKeyLocks(),
		invalidator: invalidator,
		metrics:     metrics,
		log:         log,
		maxParallel: maxParallel,
	}
}

// Rebuild re-derives one key's positions from its full execution history.
// Returns ErrRebuildInFlight when the key is locked (caller retries) and
// ErrCrossKeyClaim when contamination blocks the key.
func (c *Coordinator) Rebuild(ctx context.Context, key execution.PositionKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	release, err := c.locks.Acquire(key)
	if err != nil {
		c.count("conflict")
		return fmt.Errorf("rebuild %s: %w", key, err)
	}
	defer release()

	start := time.Now()
	if err := c.rebuildLocked(ctx, key); err != nil {
		c.count("error")
		return err
	}

	c.count("ok")
	if c.metrics != nil {
		c.metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (c *Coordinator) rebuildLocked(ctx context.Context, key execution.PositionKey) error {
	history, err := c.executions.ListByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("load history %s: %w", key, err)
	}

	ids := make([]string, len(history))
	for i, e := range history {
		ids[i] = e.ID
	}

	claims, err := c.positions.ClaimedElsewhere(ctx, key, ids)
	if err != nil {
		return fmt.Errorf("claims check %s: %w", key, err)
	}
	if len(claims) > 0 {
		return fmt.Errorf("rebuild %s blocked by %v: %w", key, claims, ErrCrossKeyClaim)
	}

	positions, err := c.builder.Build(key, history)
	if err != nil {
		return fmt.Errorf("build %s: %w", key, err)
	}

	if err := c.positions.ReplaceForKey(ctx, key, positions); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}

	if c.metrics != nil {
		c.metrics.RebuildPositions.Observe(float64(len(positions)))
	}

	// Mandatory postcondition: downstream read models for this key are
	// stale the moment the replace commits.
	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(ctx, key, len(positions)); err != nil {
			return err
		}
	}

	c.log.Info().
		Stringer("key", key).
		Int("executions", len(history)).
		Int("positions", len(positions)).
		Msg("rebuilt position key")

	return nil
}

// RebuildScope fans rebuild work out across the scope's keys and fans in
// before returning: the batch is reported complete only when every key has
// finished or failed. Keys fail independently; the first error is returned
// after all keys settle.
func (c *Coordinator) RebuildScope(ctx context.Context, scope *Scope) error {
	keys := scope.Keys()
	if len(keys) == 0 {
		return nil
	}

	if c.metrics != nil {
		c.metrics.RebuildScopeKeys.Observe(float64(len(keys)))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			return c.Rebuild(ctx, key)
		})
	}

	return g.Wait()
}

// TryHeld reports whether a key currently has an in-flight rebuild.
func (c *Coordinator) TryHeld(key execution.PositionKey) bool {
	return c.locks.Held(key)
}

func (c *Coordinator) count(result string) {
	if c.metrics != nil {
		c.metrics.RebuildsTotal.WithLabelValues(result).Inc()
	}
}

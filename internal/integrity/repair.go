package integrity

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"FillLedger/internal/execution"
	"FillLedger/internal/observability"
	"FillLedger/internal/position"
)

// IssueSource is the issue surface the repairer needs.
type IssueSource interface {
	Get(ctx context.Context, id uuid.UUID) (*Issue, error)
	UpdateResolution(ctx context.Context, id uuid.UUID, resolution Resolution) error
}

// Rebuilder re-derives one key's positions from its execution history and
// runs the post-rebuild invalidation.
type Rebuilder interface {
	Rebuild(ctx context.Context, key execution.PositionKey) error
}

// RepairResult describes what a repair did, or in dry-run mode, would do.
type RepairResult struct {
	IssueID uuid.UUID
	Key     execution.PositionKey
	DryRun  bool

	// Changed reports whether re-derivation produces a position set that
	// differs from what is stored. A clean diff on a repairable issue means
	// the stored state already matches the history and the issue can be
	// resolved without a rebuild.
	Changed         bool
	PositionsBefore int
	PositionsAfter  int
}

// Repairer fixes repairable issues by re-deriving the affected key from its
// execution history. Repair is always explicit and per-issue; nothing in the
// system repairs automatically.
type Repairer struct {
	issues     IssueSource
	executions ExecutionSource
	positions  PositionSource
	builder    *position.Builder
	rebuilder  Rebuilder
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewRepairer(issues IssueSource, executions ExecutionSource, positions PositionSource, builder *position.Builder, rebuilder Rebuilder, metrics *observability.Metrics, log zerolog.Logger) *Repairer {
	return &Repairer{
		issues:     issues,
		executions: executions,
		positions:  positions,
		builder:    builder,
		rebuilder:  rebuilder,
		metrics:    metrics,
		log:        log,
	}
}

// Repair re-derives the key behind one open, repairable issue. In dry-run
// mode it reports whether a rebuild would change the stored positions and
// persists nothing. An applied repair rebuilds the key, which replaces the
// stored positions and invalidates downstream read models, then marks the
// issue REPAIRED.
func (r *Repairer) Repair(ctx context.Context, issueID uuid.UUID, dryRun bool) (*RepairResult, error) {
	issue, err := r.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Resolution != ResolutionOpen {
		return nil, fmt.Errorf("issue %s is %s, not open", issueID, issue.Resolution)
	}
	if !issue.Repairable {
		return nil, fmt.Errorf("issue %s (%s) requires manual resolution", issueID, issue.Kind)
	}
	if issue.Key == nil {
		return nil, fmt.Errorf("issue %s has no position key to repair", issueID)
	}
	key := *issue.Key

	result := &RepairResult{IssueID: issueID, Key: key, DryRun: dryRun}

	stored, err := r.positions.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("repair %s: load positions: %w", issueID, err)
	}
	history, err := r.executions.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("repair %s: load executions: %w", issueID, err)
	}
	candidate, err := r.builder.Build(key, history)
	if err != nil {
		return nil, fmt.Errorf("repair %s: derive: %w", issueID, err)
	}

	result.PositionsBefore = len(stored)
	result.PositionsAfter = len(candidate)
	result.Changed = positionsDiffer(stored, candidate)

	if dryRun {
		r.count("dry_run")
		r.log.Info().
			Stringer("issue", issueID).
			Stringer("key", key).
			Bool("changed", result.Changed).
			Msg("repair dry run")
		return result, nil
	}

	if result.Changed {
		if err := r.rebuilder.Rebuild(ctx, key); err != nil {
			return nil, fmt.Errorf("repair %s: %w", issueID, err)
		}
	}

	if err := r.issues.UpdateResolution(ctx, issueID, ResolutionRepaired); err != nil {
		return nil, fmt.Errorf("repair %s: %w", issueID, err)
	}
	issue.Resolution = ResolutionRepaired

	r.count("applied")
	r.log.Info().
		Stringer("issue", issueID).
		Stringer("key", key).
		Bool("changed", result.Changed).
		Int("positions", len(candidate)).
		Msg("repair applied")

	return result, nil
}

// positionsDiffer compares stored and candidate sets by canonical bytes.
// Derivation is deterministic, so byte equality is state equality.
func positionsDiffer(stored, candidate []*position.Position) bool {
	if len(stored) != len(candidate) {
		return true
	}
	for i := range stored {
		if !bytes.Equal(stored[i].CanonicalBytes(), candidate[i].CanonicalBytes()) {
			return true
		}
	}
	return false
}

func (r *Repairer) count(mode string) {
	if r.metrics != nil {
		r.metrics.RepairsTotal.WithLabelValues(mode).Inc()
	}
}

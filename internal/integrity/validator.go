package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"FillLedger/internal/execution"
	"FillLedger/internal/observability"
	"FillLedger/internal/position"
)

// ExecutionSource is the execution read surface the validator needs.
type ExecutionSource interface {
	ListByKey(ctx context.Context, key execution.PositionKey) ([]*execution.Execution, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*execution.Execution, error)
}

// PositionSource is the position read surface the validator needs.
type PositionSource interface {
	ListByKey(ctx context.Context, key execution.PositionKey) ([]*position.Position, error)
	ClaimedElsewhere(ctx context.Context, key execution.PositionKey, executionIDs []string) ([]execution.PositionKey, error)
}

// IssueSink persists detected issues. Re-inserting an identical open issue
// must be a no-op so repeated validation passes stay idempotent.
type IssueSink interface {
	Insert(ctx context.Context, issue *Issue) error
	CountOpen(ctx context.Context) (int, error)
}

// Report is the outcome of one validation pass over a position key.
type Report struct {
	Key        execution.PositionKey
	Executions int
	Positions  int
	Issues     []*Issue
}

// Clean reports whether the pass found nothing wrong.
func (r *Report) Clean() bool {
	return len(r.Issues) == 0
}

// Validator cross-checks a key's stored positions against the executions
// they were derived from. Detection only: the validator persists issues and
// never mutates positions or executions.
type Validator struct {
	executions ExecutionSource
	positions  PositionSource
	issues     IssueSink
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewValidator(executions ExecutionSource, positions PositionSource, issues IssueSink, metrics *observability.Metrics, log zerolog.Logger) *Validator {
	return &Validator{
		executions: executions,
		positions:  positions,
		issues:     issues,
		metrics:    metrics,
		log:        log,
	}
}

// ValidateKey runs every check against one position key and persists the
// issues it finds. The returned report lists them in detection order.
func (v *Validator) ValidateKey(ctx context.Context, key execution.PositionKey) (*Report, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	history, err := v.executions.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("validate %s: load executions: %w", key, err)
	}
	positions, err := v.positions.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("validate %s: load positions: %w", key, err)
	}

	report := &Report{Key: key, Executions: len(history), Positions: len(positions)}

	if err := v.checkCompleteness(ctx, key, positions, report); err != nil {
		return nil, err
	}
	v.checkClaims(key, history, positions, report)
	v.checkPositionSums(key, positions, report)
	v.checkOrdering(key, history, report)
	v.checkDuplicates(key, history, report)
	v.checkRunningHints(key, history, report)
	if err := v.checkCrossKey(ctx, key, history, report); err != nil {
		return nil, err
	}

	for _, issue := range report.Issues {
		if err := v.issues.Insert(ctx, issue); err != nil {
			return nil, fmt.Errorf("validate %s: persist issue: %w", key, err)
		}
		if v.metrics != nil {
			v.metrics.IssuesDetected.WithLabelValues(string(issue.Kind)).Inc()
		}
	}

	if v.metrics != nil {
		v.metrics.ValidationDur.Observe(time.Since(start).Seconds())
		if open, err := v.issues.CountOpen(ctx); err == nil {
			v.metrics.IssuesOpen.Set(float64(open))
		}
	}

	v.log.Info().
		Stringer("key", key).
		Int("executions", len(history)).
		Int("positions", len(positions)).
		Int("issues", len(report.Issues)).
		Msg("validated position key")

	return report, nil
}

// checkCompleteness verifies every execution a position references still
// exists.
func (v *Validator) checkCompleteness(ctx context.Context, key execution.PositionKey, positions []*position.Position, report *Report) error {
	referenced := make(map[string]bool)
	for _, p := range positions {
		for _, ref := range p.Refs {
			referenced[ref.ExecutionID] = true
		}
	}

	ids := make([]string, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	found, err := v.executions.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("validate %s: resolve references: %w", key, err)
	}

	for _, id := range ids {
		if _, ok := found[id]; !ok {
			execID := id
			report.Issues = append(report.Issues, NewIssue(&key, &execID,
				KindMissingExecution, SeverityCritical, false,
				fmt.Sprintf("position references execution %s which is not in the store", id)))
		}
	}
	return nil
}

// checkClaims verifies every stored execution is claimed, and claimed for
// exactly its quantity. A reversal execution legitimately appears in two
// positions; its portions must still sum to the full fill.
func (v *Validator) checkClaims(key execution.PositionKey, history []*execution.Execution, positions []*position.Position, report *Report) {
	claimed := make(map[string]int64)
	for _, p := range positions {
		for _, ref := range p.Refs {
			claimed[ref.ExecutionID] += abs64(ref.Quantity)
		}
	}

	for _, e := range history {
		got, ok := claimed[e.ID]
		if !ok {
			execID := e.ID
			report.Issues = append(report.Issues, NewIssue(&key, &execID,
				KindOrphanedExecution, SeverityHigh, true,
				fmt.Sprintf("execution %s is claimed by no position", e.ID)))
			continue
		}
		if got != e.Quantity {
			execID := e.ID
			report.Issues = append(report.Issues, NewIssue(&key, &execID,
				KindQuantityMismatch, SeverityHigh, true,
				fmt.Sprintf("execution %s: claimed quantity %d, fill quantity %d", e.ID, got, e.Quantity)))
		}
	}
}

// checkPositionSums verifies each position's signed reference quantities
// reconcile with its aggregate fields.
func (v *Validator) checkPositionSums(key execution.PositionKey, positions []*position.Position, report *Report) {
	for _, p := range positions {
		var net int64
		for _, ref := range p.Refs {
			net += ref.Quantity
		}

		switch p.Status {
		case position.StatusClosed:
			if net != 0 || p.NetQuantity != 0 {
				report.Issues = append(report.Issues, NewIssue(&key, nil,
					KindQuantityMismatch, SeverityHigh, true,
					fmt.Sprintf("closed position %d: reference sum %d, net quantity %d, both must be zero",
						p.Sequence, net, p.NetQuantity)))
			}
		case position.StatusOpen:
			if net != p.NetQuantity {
				report.Issues = append(report.Issues, NewIssue(&key, nil,
					KindQuantityMismatch, SeverityHigh, true,
					fmt.Sprintf("open position %d: reference sum %d does not match net quantity %d",
						p.Sequence, net, p.NetQuantity)))
			}
		}
	}
}

// checkOrdering flags history where ingestion order disagrees with reported
// execution time. Derivation always follows (timestamp, sequence), so this
// is advisory: it usually means a backfill arrived late.
func (v *Validator) checkOrdering(key execution.PositionKey, history []*execution.Execution, report *Report) {
	var maxSeq int64
	inverted := 0
	for _, e := range history {
		if e.Sequence < maxSeq {
			inverted++
		} else {
			maxSeq = e.Sequence
		}
	}
	if inverted > 0 {
		report.Issues = append(report.Issues, NewIssue(&key, nil,
			KindTimestampAnomaly, SeverityLow, false,
			fmt.Sprintf("%d executions arrived out of execution-time order", inverted)))
	}
}

// checkDuplicates flags distinct identifiers that describe what looks like
// the same fill. The dedup ledger only catches identifier replays; a source
// re-export under fresh identifiers lands here instead.
func (v *Validator) checkDuplicates(key execution.PositionKey, history []*execution.Execution, report *Report) {
	type fingerprint struct {
		side     execution.Side
		quantity int64
		price    string
		at       int64
	}

	seen := make(map[fingerprint]string, len(history))
	for _, e := range history {
		fp := fingerprint{e.Side, e.Quantity, e.Price.String(), e.Timestamp.UnixMicro()}
		if firstID, ok := seen[fp]; ok {
			execID := e.ID
			report.Issues = append(report.Issues, NewIssue(&key, &execID,
				KindDuplicateExecution, SeverityHigh, false,
				fmt.Sprintf("execution %s matches %s on side, quantity, price and time", e.ID, firstID)))
			continue
		}
		seen[fp] = e.ID
	}
}

// checkRunningHints cross-checks the source-reported running position
// against the derived running quantity. A mismatch means the store is
// missing fills the source saw, or carries fills it should not.
func (v *Validator) checkRunningHints(key execution.PositionKey, history []*execution.Execution, report *Report) {
	var running int64
	for _, e := range history {
		running += e.SignedQuantity()
		if e.RunningHint == nil {
			continue
		}
		if *e.RunningHint != running {
			execID := e.ID
			report.Issues = append(report.Issues, NewIssue(&key, &execID,
				KindQuantityMismatch, SeverityMedium, false,
				fmt.Sprintf("execution %s: source reports running position %d, derived %d",
					e.ID, *e.RunningHint, running)))
		}
	}
}

// checkCrossKey flags executions of this key claimed by another key's
// positions. This key's own positions are the only legitimate claimants.
func (v *Validator) checkCrossKey(ctx context.Context, key execution.PositionKey, history []*execution.Execution, report *Report) error {
	ids := make([]string, len(history))
	for i, e := range history {
		ids[i] = e.ID
	}

	claims, err := v.positions.ClaimedElsewhere(ctx, key, ids)
	if err != nil {
		return fmt.Errorf("validate %s: cross-key claims: %w", key, err)
	}
	for _, other := range claims {
		report.Issues = append(report.Issues, NewIssue(&key, nil,
			KindCrossKeyClaim, SeverityCritical, false,
			fmt.Sprintf("executions of %s are claimed by positions under %s", key, other)))
	}
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

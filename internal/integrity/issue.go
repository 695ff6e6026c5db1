// Package integrity implements the validator that cross-checks positions
// against their constituent executions, the persisted Issue model, and the
// explicit repair operation.
package integrity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"FillLedger/internal/execution"
)

// Kind classifies a detected inconsistency.
type Kind string

const (
	KindMissingExecution   Kind = "MISSING_EXECUTION"   // position references an id absent from the store
	KindOrphanedExecution  Kind = "ORPHANED_EXECUTION"  // stored execution claimed by no position
	KindQuantityMismatch   Kind = "QUANTITY_MISMATCH"   // signed sums disagree with the aggregate
	KindTimestampAnomaly   Kind = "TIMESTAMP_ANOMALY"   // recorded order disagrees with timestamps
	KindDuplicateExecution Kind = "DUPLICATE_EXECUTION" // same fill under two identifiers
	KindCrossKeyClaim      Kind = "CROSS_KEY_CLAIM"     // execution claimed by two position keys
)

// Severity grades how urgently an issue needs attention.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Resolution is the explicit lifecycle of an issue. Issues are never
// silently cleared; every transition out of OPEN is an operator action or
// an applied repair.
type Resolution string

const (
	ResolutionOpen     Resolution = "OPEN"
	ResolutionResolved Resolution = "RESOLVED"
	ResolutionIgnored  Resolution = "IGNORED"
	ResolutionRepaired Resolution = "REPAIRED"
)

// Issue is a persisted record of one detected inconsistency.
type Issue struct {
	ID          uuid.UUID
	Key         *execution.PositionKey // nil for issues scoped to a single execution
	ExecutionID *string
	Kind        Kind
	Severity    Severity
	Description string

	// Repairable issues can be fixed by re-running the builder after
	// correcting the execution set; the rest require human judgment.
	Repairable bool

	Resolution Resolution
	DetectedAt time.Time
}

// NewIssue creates an OPEN issue with a fresh identifier.
func NewIssue(key *execution.PositionKey, executionID *string, kind Kind, severity Severity, repairable bool, description string) *Issue {
	return &Issue{
		ID:          uuid.New(),
		Key:         key,
		ExecutionID: executionID,
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Repairable:  repairable,
		Resolution:  ResolutionOpen,
		DetectedAt:  time.Now().UTC(),
	}
}

// Transition moves an issue out of OPEN. Only OPEN issues may transition,
// and only to a terminal resolution.
func (i *Issue) Transition(to Resolution) error {
	if i.Resolution != ResolutionOpen {
		return fmt.Errorf("issue %s is %s, not open", i.ID, i.Resolution)
	}
	switch to {
	case ResolutionResolved, ResolutionIgnored, ResolutionRepaired:
		i.Resolution = to
		return nil
	default:
		return fmt.Errorf("invalid resolution transition to %s", to)
	}
}

// Package flow contains the quantity-flow analyzer: a pure function that
// turns one position key's execution history into boundary-delimited
// segments. It holds no state and is re-derivable identically from the same
// execution set every time.
package flow

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
)

// Leg is the portion of an execution attributed to one segment. For most
// executions the leg covers the full quantity; a reversal execution is split
// at zero into a closing leg and an opening leg in the next segment.
type Leg struct {
	Execution  *execution.Execution
	Quantity   int64           // signed portion attributed to this segment
	Commission decimal.Decimal // proportional share for split executions

	// RunningAfter is the running signed quantity for the key after this leg.
	RunningAfter int64
}

// Split reports whether this leg covers only part of its execution.
func (l Leg) Split() bool {
	return abs(l.Quantity) != l.Execution.Quantity
}

// Segment is a contiguous run of legs between two boundaries: it starts when
// the running quantity leaves zero and ends when it returns to zero (Open
// false) or when history runs out (Open true).
type Segment struct {
	Key  execution.PositionKey
	Legs []Leg
	Open bool
}

// Segments computes the boundary segmentation for one position key.
// Executions are ordered by (timestamp, ingestion sequence); the running
// signed quantity starts at zero, buys add and sells subtract. Short
// positions are simply negative running quantity, not a separate path.
//
// An execution whose key differs from key is a cross-key contamination and
// fails the whole derivation; the analyzer never silently re-buckets.
func Segments(key execution.PositionKey, execs []*execution.Execution) ([]Segment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ordered := make([]*execution.Execution, len(execs))
	copy(ordered, execs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return execution.ByTime(ordered[i], ordered[j]) < 0
	})

	var segments []Segment
	var current *Segment
	running := int64(0)

	for _, ex := range ordered {
		if ex.Key() != key {
			return nil, fmt.Errorf("execution %s belongs to %s, not %s", ex.ID, ex.Key(), key)
		}

		delta := ex.SignedQuantity()
		if delta == 0 {
			return nil, fmt.Errorf("execution %s has zero signed quantity", ex.ID)
		}

		after := running + delta

		if running != 0 && crossesZero(running, after) {
			// Reversal: split at zero. The closing portion ends the current
			// segment, the remainder opens the next one. Commission is split
			// proportionally by quantity.
			closeQty := -running
			openQty := delta - closeQty

			closeComm, openComm := splitCommission(ex.Commission, closeQty, openQty)

			current.Legs = append(current.Legs, Leg{
				Execution:    ex,
				Quantity:     closeQty,
				Commission:   closeComm,
				RunningAfter: 0,
			})
			segments = append(segments, *current)

			current = &Segment{Key: key}
			current.Legs = append(current.Legs, Leg{
				Execution:    ex,
				Quantity:     openQty,
				Commission:   openComm,
				RunningAfter: after,
			})
			running = after
			continue
		}

		if running == 0 {
			// Opening boundary.
			current = &Segment{Key: key}
		}

		current.Legs = append(current.Legs, Leg{
			Execution:    ex,
			Quantity:     delta,
			Commission:   ex.Commission,
			RunningAfter: after,
		})
		running = after

		if running == 0 {
			// Closing boundary.
			segments = append(segments, *current)
			current = nil
		}
	}

	if current != nil {
		current.Open = true
		segments = append(segments, *current)
	}

	return segments, nil
}

// crossesZero reports whether applying a delta moved the running quantity
// through zero without landing on it.
func crossesZero(before, after int64) bool {
	return (before > 0 && after < 0) || (before < 0 && after > 0)
}

// splitCommission divides an execution's commission proportionally by
// quantity between the closing and opening portions of a reversal.
func splitCommission(total decimal.Decimal, closeQty, openQty int64) (closeShare, openShare decimal.Decimal) {
	whole := decimal.NewFromInt(abs(closeQty) + abs(openQty))
	if whole.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	closeShare = total.Mul(decimal.NewFromInt(abs(closeQty))).Div(whole)
	openShare = total.Sub(closeShare)
	return closeShare, openShare
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

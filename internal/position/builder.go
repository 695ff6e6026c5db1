package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
	"FillLedger/internal/flow"
)

// Builder derives positions from one key's full, deduplicated execution
// history. Building from an identical execution set is idempotent:
// byte-for-byte equal output every time.
type Builder struct {
	multipliers map[string]decimal.Decimal
}

// NewBuilder creates a builder with per-instrument contract multipliers.
// Instruments without an entry use a multiplier of 1.
func NewBuilder(multipliers map[string]decimal.Decimal) *Builder {
	if multipliers == nil {
		multipliers = make(map[string]decimal.Decimal)
	}
	return &Builder{multipliers: multipliers}
}

// Multiplier returns the contract multiplier for an instrument.
func (b *Builder) Multiplier(instrument string) decimal.Decimal {
	if m, ok := b.multipliers[instrument]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// Build runs the flow analyzer over the key's history and aggregates each
// segment into a Position. An empty execution list yields no positions and
// no error.
func (b *Builder) Build(key execution.PositionKey, execs []*execution.Execution) ([]*Position, error) {
	if len(execs) == 0 {
		return nil, nil
	}

	segments, err := flow.Segments(key, execs)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", key, err)
	}

	mult := b.Multiplier(key.Instrument)

	positions := make([]*Position, 0, len(segments))
	for i, seg := range segments {
		pos, err := buildSegment(key, i, seg, mult)
		if err != nil {
			return nil, fmt.Errorf("build %s segment %d: %w", key, i, err)
		}
		positions = append(positions, pos)
	}

	return positions, nil
}

// buildSegment aggregates one segment. Entry legs are the ones moving the
// running quantity away from zero (same sign as the segment direction),
// exit legs move it back toward zero.
func buildSegment(key execution.PositionKey, seq int, seg flow.Segment, mult decimal.Decimal) (*Position, error) {
	if len(seg.Legs) == 0 {
		return nil, fmt.Errorf("empty segment")
	}

	first := seg.Legs[0]
	dir := DirectionLong
	if first.Quantity < 0 {
		dir = DirectionShort
	}
	dirSign := dir.Sign()

	var (
		entryQty, exitQty           int64
		entryNotional, exitNotional decimal.Decimal
		commission                  decimal.Decimal
		peak, net                   int64
		refs                        []Ref
	)

	for _, leg := range seg.Legs {
		qty := leg.Quantity
		absQty := qty
		if absQty < 0 {
			absQty = -absQty
		}

		notional := leg.Execution.Price.Mul(decimal.NewFromInt(absQty))

		if qty*dirSign > 0 {
			entryQty += absQty
			entryNotional = entryNotional.Add(notional)
		} else {
			exitQty += absQty
			exitNotional = exitNotional.Add(notional)
		}

		commission = commission.Add(leg.Commission)
		refs = append(refs, Ref{ExecutionID: leg.Execution.ID, Quantity: qty})

		net = leg.RunningAfter
		if after := absInt(leg.RunningAfter); after > peak {
			peak = after
		}
	}

	if entryQty == 0 {
		return nil, fmt.Errorf("segment has no entry quantity")
	}
	if exitQty > entryQty {
		return nil, fmt.Errorf("segment exit quantity %d exceeds entry %d", exitQty, entryQty)
	}

	pos := &Position{
		Key:           key,
		Sequence:      seq,
		Direction:     dir,
		EntryTime:     seg.Legs[0].Execution.Timestamp,
		AvgEntryPrice: entryNotional.Div(decimal.NewFromInt(entryQty)),
		Quantity:      entryQty,
		NetQuantity:   net,
		PeakQuantity:  peak,
		Commission:    commission,
		Refs:          refs,
	}

	if seg.Open {
		pos.Status = StatusOpen
	} else {
		pos.Status = StatusClosed
		last := seg.Legs[len(seg.Legs)-1].Execution.Timestamp
		pos.ExitTime = &last
	}

	if exitQty > 0 {
		avgExit := exitNotional.Div(decimal.NewFromInt(exitQty))
		pos.AvgExitPrice = &avgExit

		// Realized P&L on the matched quantity (weighted-average matching):
		// (exit notional − entry cost of the matched quantity) × direction ×
		// contract multiplier, minus the segment's total commission. For a
		// closed segment matched == entryQty and the cost term is the whole
		// entry notional.
		matched := decimal.NewFromInt(exitQty)
		entryCost := entryNotional.Mul(matched).Div(decimal.NewFromInt(entryQty))
		gross := exitNotional.Sub(entryCost).Mul(decimal.NewFromInt(dirSign)).Mul(mult)
		pos.RealizedPnL = gross.Sub(commission)
	} else {
		pos.RealizedPnL = decimal.Zero.Sub(commission)
	}

	return pos, nil
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

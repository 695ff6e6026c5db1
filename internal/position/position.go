// Package position defines the Position aggregate and the builder that
// derives it from execution history. Positions are never edited in place;
// they are destroyed and rebuilt from source executions whenever their key
// is recomputed.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
)

// Status is the lifecycle state of a position.
type Status int32

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// Direction is the side of the market a position is on.
type Direction int32

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionShort {
		return "SHORT"
	}
	return "LONG"
}

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() int64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Ref ties a position to the signed portion of a constituent execution.
// A reversal execution appears in two positions with disjoint portions.
type Ref struct {
	ExecutionID string
	Quantity    int64 // signed portion
}

// Position is a derived, fully-recomputable aggregate over one segment of a
// key's quantity flow. It is a pure function of its constituent executions
// plus the flow analyzer's segmentation rule.
type Position struct {
	Key      execution.PositionKey
	Sequence int // position index within the key's history
	Status   Status

	Direction     Direction
	EntryTime     time.Time
	AvgEntryPrice decimal.Decimal
	ExitTime      *time.Time
	AvgExitPrice  *decimal.Decimal

	Quantity     int64 // total entered quantity (absolute)
	NetQuantity  int64 // signed remaining open quantity, zero when closed
	PeakQuantity int64 // maximum absolute running quantity within the segment

	RealizedPnL decimal.Decimal
	Commission  decimal.Decimal

	Refs []Ref
}

// CanonicalBytes returns a deterministic serialization of the position.
// Rebuilding an identical execution set must produce byte-identical output;
// this is what that guarantee is checked against, and what repair dry-runs
// diff.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = appendString(buf, p.Key.Account)
	buf = appendString(buf, p.Key.Instrument)
	buf = appendInt64LE(buf, int64(p.Sequence))
	buf = append(buf, byte(p.Status), byte(p.Direction))

	buf = appendInt64LE(buf, p.EntryTime.UnixMicro())
	buf = appendString(buf, p.AvgEntryPrice.String())

	if p.ExitTime != nil {
		buf = append(buf, 1)
		buf = appendInt64LE(buf, p.ExitTime.UnixMicro())
	} else {
		buf = append(buf, 0)
	}
	if p.AvgExitPrice != nil {
		buf = append(buf, 1)
		buf = appendString(buf, p.AvgExitPrice.String())
	} else {
		buf = append(buf, 0)
	}

	buf = appendInt64LE(buf, p.Quantity)
	buf = appendInt64LE(buf, p.NetQuantity)
	buf = appendInt64LE(buf, p.PeakQuantity)
	buf = appendString(buf, p.RealizedPnL.String())
	buf = appendString(buf, p.Commission.String())

	buf = appendInt64LE(buf, int64(len(p.Refs)))
	for _, r := range p.Refs {
		buf = appendString(buf, r.ExecutionID)
		buf = appendInt64LE(buf, r.Quantity)
	}

	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt64LE(buf, int64(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

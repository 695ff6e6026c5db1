package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a fill as reported by the source platform.
type Side int32

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys, -1 for sells, 0 otherwise.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// ParseSide maps the source platform's side strings onto Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "Buy", "BUY", "B", "long":
		return SideBuy, nil
	case "sell", "Sell", "SELL", "S", "short":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unknown side %q", s)
	}
}

// PositionKey is the (account, instrument) pair that all grouping, locking,
// rebuild scoping and cache invalidation is performed at. It is always passed
// as a single compound value, never as two loose strings.
type PositionKey struct {
	Account    string
	Instrument string
}

func (k PositionKey) String() string {
	return k.Account + ":" + k.Instrument
}

// Validate rejects keys with an empty component. An empty account is the
// classic defect this type exists to prevent: grouping by instrument alone.
func (k PositionKey) Validate() error {
	if k.Account == "" {
		return fmt.Errorf("position key missing account (instrument=%s)", k.Instrument)
	}
	if k.Instrument == "" {
		return fmt.Errorf("position key missing instrument (account=%s)", k.Account)
	}
	return nil
}

// Execution is an immutable trade execution fact. Once accepted it is never
// mutated or deleted; corrections arrive as new executions.
type Execution struct {
	ID         string
	Account    string
	Instrument string
	Side       Side
	Quantity   int64 // contracts, always positive; sign comes from Side
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time

	// Sequence is the server-assigned ingestion sequence number, used as the
	// ordering tie-break for executions sharing a timestamp.
	Sequence int64

	// RunningHint is the source-provided "position after this fill", when the
	// export carries one. Derivation never depends on it; the integrity
	// validator cross-checks it.
	RunningHint *int64
}

// Key returns the compound grouping key for this execution.
func (e *Execution) Key() PositionKey {
	return PositionKey{Account: e.Account, Instrument: e.Instrument}
}

// SignedQuantity is the quantity-flow contribution: buys add, sells subtract.
func (e *Execution) SignedQuantity() int64 {
	return e.Side.Sign() * e.Quantity
}

// Validate checks the invariants an execution must satisfy before it can be
// accepted into the store.
func (e *Execution) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("execution missing id")
	}
	if err := e.Key().Validate(); err != nil {
		return fmt.Errorf("execution %s: %w", e.ID, err)
	}
	if e.Side != SideBuy && e.Side != SideSell {
		return fmt.Errorf("execution %s: invalid side", e.ID)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("execution %s: non-positive quantity %d", e.ID, e.Quantity)
	}
	if e.Price.IsNegative() {
		return fmt.Errorf("execution %s: negative price %s", e.ID, e.Price)
	}
	if e.Commission.IsNegative() {
		return fmt.Errorf("execution %s: negative commission %s", e.ID, e.Commission)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("execution %s: missing timestamp", e.ID)
	}
	return nil
}

// ByTime orders executions by timestamp, tie-broken by ingestion sequence.
// This is the single ordering rule for all derivation; wall-clock is never
// re-derived.
func ByTime(a, b *Execution) int {
	switch {
	case a.Timestamp.Before(b.Timestamp):
		return -1
	case a.Timestamp.After(b.Timestamp):
		return 1
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	default:
		return 0
	}
}

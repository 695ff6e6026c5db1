package position_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/position"
)

func TestCanonicalBytesSensitivity(t *testing.T) {
	base := func() *position.Position {
		return &position.Position{
			Key:           testKey,
			Sequence:      0,
			Status:        position.StatusClosed,
			Direction:     position.DirectionLong,
			EntryTime:     time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
			AvgEntryPrice: decimal.RequireFromString("100.25"),
			Quantity:      2,
			RealizedPnL:   decimal.RequireFromString("17"),
			Commission:    decimal.RequireFromString("3"),
			Refs: []position.Ref{
				{ExecutionID: "e1", Quantity: 2},
				{ExecutionID: "e2", Quantity: -2},
			},
		}
	}

	if !bytes.Equal(base().CanonicalBytes(), base().CanonicalBytes()) {
		t.Fatal("identical positions must serialize identically")
	}

	mutations := map[string]func(*position.Position){
		"sequence":    func(p *position.Position) { p.Sequence = 1 },
		"status":      func(p *position.Position) { p.Status = position.StatusOpen },
		"direction":   func(p *position.Position) { p.Direction = position.DirectionShort },
		"pnl":         func(p *position.Position) { p.RealizedPnL = decimal.RequireFromString("17.01") },
		"ref order":   func(p *position.Position) { p.Refs[0], p.Refs[1] = p.Refs[1], p.Refs[0] },
		"ref portion": func(p *position.Position) { p.Refs[1].Quantity = -1 },
		"exit time": func(p *position.Position) {
			ts := p.EntryTime.Add(time.Minute)
			p.ExitTime = &ts
		},
	}

	reference := base().CanonicalBytes()
	for name, mutate := range mutations {
		p := base()
		mutate(p)
		if bytes.Equal(reference, p.CanonicalBytes()) {
			t.Errorf("mutation %q not reflected in canonical bytes", name)
		}
	}
}

package flow_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
	"FillLedger/internal/flow"
)

var testKey = execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}

func exec(id string, side execution.Side, qty int64, price string, commission string, seq int64) *execution.Execution {
	base := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	return &execution.Execution{
		ID:         id,
		Account:    testKey.Account,
		Instrument: testKey.Instrument,
		Side:       side,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		Commission: decimal.RequireFromString(commission),
		Timestamp:  base.Add(time.Duration(seq) * time.Second),
		Sequence:   seq,
	}
}

func TestSegmentsRoundTrip(t *testing.T) {
	execs := []*execution.Execution{
		exec("e1", execution.SideBuy, 2, "100", "0.5", 1),
		exec("e2", execution.SideSell, 2, "105", "0.5", 2),
	}

	segments, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}

	seg := segments[0]
	if seg.Open {
		t.Error("segment should be closed")
	}
	if len(seg.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(seg.Legs))
	}
	if seg.Legs[0].Quantity != 2 || seg.Legs[0].RunningAfter != 2 {
		t.Errorf("leg 0: quantity %d running %d, want 2/2", seg.Legs[0].Quantity, seg.Legs[0].RunningAfter)
	}
	if seg.Legs[1].Quantity != -2 || seg.Legs[1].RunningAfter != 0 {
		t.Errorf("leg 1: quantity %d running %d, want -2/0", seg.Legs[1].Quantity, seg.Legs[1].RunningAfter)
	}
}

func TestSegmentsOpenTail(t *testing.T) {
	execs := []*execution.Execution{
		exec("e1", execution.SideBuy, 3, "100", "1", 1),
		exec("e2", execution.SideSell, 1, "101", "1", 2),
	}

	segments, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if !segments[0].Open {
		t.Error("segment should be open")
	}
	last := segments[0].Legs[len(segments[0].Legs)-1]
	if last.RunningAfter != 2 {
		t.Errorf("running after last leg: got %d, want 2", last.RunningAfter)
	}
}

func TestSegmentsShortSide(t *testing.T) {
	execs := []*execution.Execution{
		exec("e1", execution.SideSell, 2, "100", "0", 1),
		exec("e2", execution.SideBuy, 2, "98", "0", 2),
	}

	segments, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Open {
		t.Fatalf("expected 1 closed segment, got %+v", segments)
	}
	if segments[0].Legs[0].Quantity != -2 {
		t.Errorf("first leg quantity: got %d, want -2", segments[0].Legs[0].Quantity)
	}
}

func TestSegmentsReversalSplit(t *testing.T) {
	// Long 2, then sell 5: the sell closes 2 and opens a short 3. The sell's
	// commission splits proportionally, 2/5 to the close and 3/5 to the open.
	execs := []*execution.Execution{
		exec("e1", execution.SideBuy, 2, "100", "1", 1),
		exec("e2", execution.SideSell, 5, "110", "5", 2),
	}

	segments, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}

	closed, open := segments[0], segments[1]
	if closed.Open || !open.Open {
		t.Fatalf("expected closed then open, got %v/%v", closed.Open, open.Open)
	}

	closeLeg := closed.Legs[len(closed.Legs)-1]
	if closeLeg.Quantity != -2 || closeLeg.RunningAfter != 0 {
		t.Errorf("closing leg: quantity %d running %d, want -2/0", closeLeg.Quantity, closeLeg.RunningAfter)
	}
	if !closeLeg.Split() {
		t.Error("closing leg should be marked as a split portion")
	}
	if want := decimal.RequireFromString("2"); !closeLeg.Commission.Equal(want) {
		t.Errorf("closing commission: got %s, want %s", closeLeg.Commission, want)
	}

	openLeg := open.Legs[0]
	if openLeg.Quantity != -3 || openLeg.RunningAfter != -3 {
		t.Errorf("opening leg: quantity %d running %d, want -3/-3", openLeg.Quantity, openLeg.RunningAfter)
	}
	if want := decimal.RequireFromString("3"); !openLeg.Commission.Equal(want) {
		t.Errorf("opening commission: got %s, want %s", openLeg.Commission, want)
	}
	if openLeg.Execution.ID != closeLeg.Execution.ID {
		t.Error("both portions must reference the same execution")
	}
}

func TestSegmentsOrdersByTimeThenSequence(t *testing.T) {
	// Same timestamp: sequence is the tie-break. Delivered out of order.
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	e1 := exec("e1", execution.SideBuy, 1, "100", "0", 1)
	e2 := exec("e2", execution.SideBuy, 1, "101", "0", 2)
	e3 := exec("e3", execution.SideSell, 2, "102", "0", 3)
	for _, e := range []*execution.Execution{e1, e2, e3} {
		e.Timestamp = ts
	}

	segments, err := flow.Segments(testKey, []*execution.Execution{e3, e1, e2})
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Open {
		t.Fatalf("expected 1 closed segment, got %+v", segments)
	}

	ids := make([]string, 0, 3)
	for _, leg := range segments[0].Legs {
		ids = append(ids, leg.Execution.ID)
	}
	want := []string{"e1", "e2", "e3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("leg order: got %v, want %v", ids, want)
		}
	}
}

func TestSegmentsDeterministic(t *testing.T) {
	execs := []*execution.Execution{
		exec("e1", execution.SideBuy, 2, "100", "1", 1),
		exec("e2", execution.SideSell, 5, "110", "5", 2),
		exec("e3", execution.SideBuy, 3, "108", "1.5", 3),
	}

	first, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	second, err := flow.Segments(testKey, execs)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("segment count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Legs) != len(second[i].Legs) {
			t.Fatalf("segment %d leg count differs", i)
		}
		for j := range first[i].Legs {
			a, b := first[i].Legs[j], second[i].Legs[j]
			if a.Execution.ID != b.Execution.ID || a.Quantity != b.Quantity ||
				!a.Commission.Equal(b.Commission) || a.RunningAfter != b.RunningAfter {
				t.Errorf("segment %d leg %d differs: %+v vs %+v", i, j, a, b)
			}
		}
	}
}

func TestSegmentsRejectsWrongKey(t *testing.T) {
	stray := exec("e1", execution.SideBuy, 1, "100", "0", 1)
	stray.Account = "OtherAccount"

	if _, err := flow.Segments(testKey, []*execution.Execution{stray}); err == nil {
		t.Fatal("expected error for execution under a different key")
	}
}

func TestSegmentsRejectsZeroSignedQuantity(t *testing.T) {
	bad := exec("e1", execution.SideUnknown, 1, "100", "0", 1)

	if _, err := flow.Segments(testKey, []*execution.Execution{bad}); err == nil {
		t.Fatal("expected error for zero signed quantity")
	}
}

func TestSegmentsEmptyHistory(t *testing.T) {
	segments, err := flow.Segments(testKey, nil)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(segments))
	}
}

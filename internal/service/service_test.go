package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"FillLedger/internal/dedup"
	"FillLedger/internal/execution"
	"FillLedger/internal/ingest"
	"FillLedger/internal/integrity"
	"FillLedger/internal/persistence"
	"FillLedger/internal/position"
	"FillLedger/internal/rebuild"
	"FillLedger/internal/service"
)

// flakyLedger fails exactly one Remember call, by position, then recovers.
type flakyLedger struct {
	*dedup.MemoryLedger
	calls  int
	failOn int
}

func (f *flakyLedger) Remember(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	f.calls++
	if f.calls == f.failOn {
		return false, dedup.ErrLedgerUnavailable
	}
	return f.MemoryLedger.Remember(ctx, id, ttl)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[execution.PositionKey]int
}

func (c *countingInvalidator) Invalidate(_ context.Context, key execution.PositionKey, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key]++
	return nil
}

type harness struct {
	svc       *service.Service
	execs     *persistence.MemoryExecutionStore
	positions *persistence.MemoryPositionStore
	issues    *persistence.MemoryIssueStore
	inv       *countingInvalidator
}

func newHarness() *harness {
	return newHarnessWithLedger(dedup.NewTieredLedger(64, dedup.NewMemoryLedger(), nil))
}

func newHarnessWithLedger(ledger dedup.Ledger) *harness {
	execs := persistence.NewMemoryExecutionStore()
	positions := persistence.NewMemoryPositionStore()
	issues := persistence.NewMemoryIssueStore()
	inv := &countingInvalidator{calls: make(map[execution.PositionKey]int)}

	builder := position.NewBuilder(nil)
	ingestor := ingest.NewIngestor(ledger, execs, 24*time.Hour, nil, zerolog.Nop())
	coordinator := rebuild.NewCoordinator(execs, positions, builder, inv, nil, zerolog.Nop(), 4)
	validator := integrity.NewValidator(execs, positions, issues, nil, zerolog.Nop())
	repairer := integrity.NewRepairer(issues, execs, positions, builder, coordinator, nil, zerolog.Nop())

	return &harness{
		svc:       service.New(ingestor, coordinator, validator, repairer, zerolog.Nop()),
		execs:     execs,
		positions: positions,
		issues:    issues,
		inv:       inv,
	}
}

func record(id, account, instrument, action string, qty int, seq int) ingest.RawRecord {
	return ingest.RawRecord{
		"ID":         id,
		"Account":    account,
		"Instrument": instrument,
		"Action":     action,
		"Quantity":   fmt.Sprintf("%d", qty),
		"Price":      "18250.25",
		"Commission": "$0.62",
		"Time":       fmt.Sprintf("2024-03-15T09:30:%02dZ", seq),
	}
}

func TestProcessBatchRebuildsTouchedKeys(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	keyA := execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}
	keyB := execution.PositionKey{Account: "Sim101", Instrument: "MES"}

	result, err := h.svc.ProcessBatch(ctx, []ingest.RawRecord{
		record("a1", "Sim101", "MNQ", "Buy", 2, 1),
		record("a2", "Sim101", "MNQ", "Sell", 2, 2),
		record("b1", "Sim101", "MES", "Buy", 1, 3),
	})
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if accepted, _, _ := result.Counts(); accepted != 3 {
		t.Fatalf("accepted: got %d, want 3", accepted)
	}

	posA, _ := h.positions.ListByKey(ctx, keyA)
	if len(posA) != 1 || posA[0].Status != position.StatusClosed {
		t.Errorf("key A positions: %+v, want one closed", posA)
	}
	posB, _ := h.positions.ListByKey(ctx, keyB)
	if len(posB) != 1 || posB[0].Status != position.StatusOpen {
		t.Errorf("key B positions: %+v, want one open", posB)
	}
	if h.inv.calls[keyA] != 1 || h.inv.calls[keyB] != 1 {
		t.Errorf("invalidations: %v, want one per key", h.inv.calls)
	}
}

func TestProcessBatchAllDuplicatesSkipsRebuild(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	keyA := execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}

	batch := []ingest.RawRecord{
		record("a1", "Sim101", "MNQ", "Buy", 1, 1),
	}

	if _, err := h.svc.ProcessBatch(ctx, batch); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := h.svc.ProcessBatch(ctx, batch); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	// The re-delivered batch accepted nothing, so no key was stale and no
	// rebuild ran.
	if h.positions.Replaces[keyA] != 1 {
		t.Errorf("replaces: got %d, want 1", h.positions.Replaces[keyA])
	}
	if h.inv.calls[keyA] != 1 {
		t.Errorf("invalidations: got %d, want 1", h.inv.calls[keyA])
	}
}

func TestProcessBatchLedgerFailureMidBatchStillRebuilds(t *testing.T) {
	// The ledger dies while marking the second record, after the insert
	// committed and the first record was already marked. On redelivery the
	// marked record comes back as a duplicate, so its key would never enter
	// a rebuild scope again; the failed delivery itself must rebuild every
	// inserted key before surfacing the error.
	h := newHarnessWithLedger(&flakyLedger{MemoryLedger: dedup.NewMemoryLedger(), failOn: 2})
	ctx := context.Background()

	keyA := execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}
	keyB := execution.PositionKey{Account: "Sim101", Instrument: "MES"}

	batch := []ingest.RawRecord{
		record("a1", "Sim101", "MNQ", "Buy", 1, 1),
		record("b1", "Sim101", "MES", "Buy", 1, 2),
	}

	if _, err := h.svc.ProcessBatch(ctx, batch); err == nil {
		t.Fatal("expected the first delivery to fail")
	}

	posA, _ := h.positions.ListByKey(ctx, keyA)
	if len(posA) != 1 {
		t.Fatalf("key A positions after failed delivery: got %d, want 1", len(posA))
	}
	if h.inv.calls[keyA] != 1 {
		t.Errorf("key A invalidations after failed delivery: got %d, want 1", h.inv.calls[keyA])
	}

	// Redelivery: a1 is a known duplicate, b1 lands. Both keys end up with
	// exactly one execution and one position.
	if _, err := h.svc.ProcessBatch(ctx, batch); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	for _, key := range []execution.PositionKey{keyA, keyB} {
		execs, _ := h.execs.ListByKey(ctx, key)
		if len(execs) != 1 {
			t.Errorf("%s executions: got %d, want 1", key, len(execs))
		}
		positions, _ := h.positions.ListByKey(ctx, key)
		if len(positions) != 1 {
			t.Errorf("%s positions: got %d, want 1", key, len(positions))
		}
	}
}

func TestValidateAndRepairThroughFacade(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	key := execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}

	if _, err := h.svc.ProcessBatch(ctx, []ingest.RawRecord{
		record("a1", "Sim101", "MNQ", "Buy", 1, 1),
	}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// An execution lands without its rebuild (direct ingest).
	if _, err := h.svc.IngestBatch(ctx, []ingest.RawRecord{
		record("a2", "Sim101", "MNQ", "Sell", 1, 2),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	report, err := h.svc.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected an orphaned execution issue")
	}

	open, _ := h.issues.ListOpenByKey(ctx, key)
	if len(open) != 1 {
		t.Fatalf("open issues: got %d, want 1", len(open))
	}

	if _, err := h.svc.Repair(ctx, open[0].ID, false); err != nil {
		t.Fatalf("repair: %v", err)
	}

	after, err := h.svc.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate after repair: %v", err)
	}
	if !after.Clean() {
		t.Errorf("expected clean key after repair, got %+v", after.Issues)
	}
}

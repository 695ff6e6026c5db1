package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
	"FillLedger/internal/integrity"
	"FillLedger/internal/persistence"
	"FillLedger/internal/position"
	"FillLedger/internal/testutil"
)

var testKey = execution.PositionKey{Account: "Sim101", Instrument: "MNQ"}

func exec(id string, side execution.Side, qty int64, price string, offset int) *execution.Execution {
	base := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	return &execution.Execution{
		ID:         id,
		Account:    testKey.Account,
		Instrument: testKey.Instrument,
		Side:       side,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		Commission: decimal.RequireFromString("0.62"),
		Timestamp:  base.Add(time.Duration(offset) * time.Second),
	}
}

func TestExecutionStoreInsertIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := persistence.NewExecutionStore(db)

	batch := []*execution.Execution{
		exec("it-e1", execution.SideBuy, 2, "18250.25", 1),
		exec("it-e2", execution.SideSell, 2, "18260.50", 2),
	}

	inserted, err := store.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted: got %d, want 2", inserted)
	}

	// Replay of the same identifiers is absorbed by the conflict guard.
	inserted, err = store.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if inserted != 0 {
		t.Errorf("replay inserted: got %d, want 0", inserted)
	}

	listed, err := store.ListByKey(ctx, testKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed: got %d, want 2", len(listed))
	}
	if listed[0].ID != "it-e1" || listed[1].ID != "it-e2" {
		t.Errorf("order: got %s, %s", listed[0].ID, listed[1].ID)
	}
	if listed[0].Sequence == 0 || listed[1].Sequence <= listed[0].Sequence {
		t.Errorf("sequences not assigned in order: %d, %d", listed[0].Sequence, listed[1].Sequence)
	}
	if !listed[0].Price.Equal(decimal.RequireFromString("18250.25")) {
		t.Errorf("price round-trip: got %s", listed[0].Price)
	}
}

func TestPositionStoreReplaceAndClaims(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := persistence.NewPositionStore(db)

	pos := &position.Position{
		Key:           testKey,
		Sequence:      0,
		Status:        position.StatusOpen,
		Direction:     position.DirectionLong,
		EntryTime:     time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
		AvgEntryPrice: decimal.RequireFromString("18250.25"),
		Quantity:      2,
		NetQuantity:   2,
		PeakQuantity:  2,
		RealizedPnL:   decimal.RequireFromString("-1.24"),
		Commission:    decimal.RequireFromString("1.24"),
		Refs:          []position.Ref{{ExecutionID: "it-e1", Quantity: 2}},
	}

	if err := store.ReplaceForKey(ctx, testKey, []*position.Position{pos}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Replace again with an empty set: delete-then-insert semantics.
	if err := store.ReplaceForKey(ctx, testKey, nil); err != nil {
		t.Fatalf("replace empty: %v", err)
	}
	listed, err := store.ListByKey(ctx, testKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("positions after empty replace: got %d, want 0", len(listed))
	}

	// Claims from another key surface in ClaimedElsewhere.
	other := execution.PositionKey{Account: "Sim102", Instrument: "MNQ"}
	otherPos := *pos
	otherPos.Key = other
	if err := store.ReplaceForKey(ctx, other, []*position.Position{&otherPos}); err != nil {
		t.Fatalf("replace other: %v", err)
	}

	claims, err := store.ClaimedElsewhere(ctx, testKey, []string{"it-e1"})
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if len(claims) != 1 || claims[0] != other {
		t.Errorf("claims: got %v, want [%s]", claims, other)
	}
}

func TestIssueStoreOpenDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := persistence.NewIssueStore(db)
	key := testKey
	execID := "it-e1"

	first := integrity.NewIssue(&key, &execID, integrity.KindOrphanedExecution, integrity.SeverityHigh, true, "orphan")
	if err := store.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Identical open issue from a second validation pass is a no-op.
	dup := integrity.NewIssue(&key, &execID, integrity.KindOrphanedExecution, integrity.SeverityHigh, true, "orphan")
	if err := store.Insert(ctx, dup); err != nil {
		t.Fatalf("insert dup: %v", err)
	}

	open, err := store.ListOpenByKey(ctx, key)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open issues: got %d, want 1", len(open))
	}

	// Resolving reopens the dedup slot.
	if err := store.UpdateResolution(ctx, open[0].ID, integrity.ResolutionResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	again := integrity.NewIssue(&key, &execID, integrity.KindOrphanedExecution, integrity.SeverityHigh, true, "orphan again")
	if err := store.Insert(ctx, again); err != nil {
		t.Fatalf("insert after resolve: %v", err)
	}
	open, _ = store.ListOpenByKey(ctx, key)
	if len(open) != 1 {
		t.Errorf("open issues after reopen: got %d, want 1", len(open))
	}
}

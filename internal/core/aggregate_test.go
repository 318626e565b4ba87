package core_test

import (
	"errors"
	"testing"

	"ximopet/internal/core"
)

func TestIntegrity_VerifyHoldsDivergedKey(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)
	f.receive(t, itemVitamin, farmA, "2024-01-01", "10", "15")

	key := core.StockKey{ItemID: itemFeed, LocationID: farmA}
	f.store.OverrideCurrentStock(key, dec("999"))

	report, err := f.engine.Stock.Verify(f.ctx, key)
	if !errors.Is(err, core.ErrIntegrityMismatch) {
		t.Fatalf("Verify: got %v, want ErrIntegrityMismatch", err)
	}
	if !report.Diverged || !report.Held {
		t.Errorf("report: %+v", report)
	}
	if !report.Stored.Equal(dec("999")) || !report.Computed.Equal(dec("150")) {
		t.Errorf("stored=%s computed=%s", report.Stored, report.Computed)
	}

	// Allocation against the held key is refused.
	_, err = f.engine.Usage.CreateUsage(f.ctx, core.UsageInput{
		LocationID: farmA,
		UsageDate:  day("2024-01-06"),
		Lines:      lines("10"),
		Initial:    pending(),
	})
	var ie *core.IntegrityMismatchError
	if !errors.As(err, &ie) || !ie.Held {
		t.Fatalf("allocation on held key: got %v", err)
	}

	// Unrelated keys keep working.
	if _, err := f.engine.Usage.CreateUsage(f.ctx, core.UsageInput{
		LocationID: farmA,
		UsageDate:  day("2024-01-06"),
		Lines:      []core.LineInput{{ItemID: itemVitamin, UnitID: unitKg, Quantity: dec("2")}},
		Initial:    pending(),
	}); err != nil {
		t.Fatalf("allocation on unrelated key: %v", err)
	}

	repaired, err := f.engine.Stock.Recompute(f.ctx, key)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if !repaired.Diverged || repaired.Held || !repaired.Computed.Equal(dec("150")) {
		t.Errorf("recompute report: %+v", repaired)
	}
	if got := f.currentStock(t, itemFeed, farmA); got != "150" {
		t.Errorf("current stock after recompute: got %s, want 150", got)
	}

	f.createUsage(t, "10", pending())
	f.assertConsistent(t)
}

func TestIntegrity_HoldDoesNotBlockCredits(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)
	before := f.batches(t, itemFeed, farmA)

	u := f.createUsage(t, "50", pending())
	key := core.StockKey{ItemID: itemFeed, LocationID: farmA}
	f.store.OverrideCurrentStock(key, dec("1"))
	if _, err := f.engine.Stock.Verify(f.ctx, key); !errors.Is(err, core.ErrIntegrityMismatch) {
		t.Fatalf("Verify: %v", err)
	}

	f.transition(t, u.ID, core.UsageCancelled, core.RoleOperator)
	assertSameLedger(t, before, f.batches(t, itemFeed, farmA))
}

func TestIntegrity_VerifyAllReportsEveryKey(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)
	f.receive(t, itemVitamin, farmB, "2024-01-01", "10", "15")
	f.store.OverrideCurrentStock(core.StockKey{ItemID: itemVitamin, LocationID: farmB}, dec("3"))

	reports, err := f.engine.Stock.VerifyAll(f.ctx)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports: got %d, want 2", len(reports))
	}
	diverged := 0
	for _, r := range reports {
		if r.Diverged {
			diverged++
			if r.Key.ItemID != itemVitamin {
				t.Errorf("unexpected divergence on %s", r.Key)
			}
		}
	}
	if diverged != 1 {
		t.Errorf("diverged: got %d, want 1", diverged)
	}
}

func TestIntegrity_ConsistentKeyVerifiesClean(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)
	f.createUsage(t, "20", pending())

	report, err := f.engine.Stock.Verify(f.ctx, core.StockKey{ItemID: itemFeed, LocationID: farmA})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Diverged || report.Held || !report.Stored.Equal(dec("130")) {
		t.Errorf("report: %+v", report)
	}
}

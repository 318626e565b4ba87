package core_test

import (
	"context"
	"testing"

	"ximopet/internal/core"
	"ximopet/internal/logging"
	"ximopet/internal/store/memory"
)

const (
	itemFeed    int64 = 1
	itemVitamin int64 = 2

	unitKg   int64 = 1
	unitSack int64 = 2

	farmA int64 = 10
	farmB int64 = 20
	coop  int64 = 101
)

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *core.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.SetConversions(core.NewConversionTable(itemFeed,
		core.UnitConversion{UnitID: unitKg, Value: dec("1"), IsSmallest: true, IsDefaultUsage: true},
		core.UnitConversion{UnitID: unitSack, Value: dec("50"), IsDefaultPurchase: true, IsDefaultMutation: true},
	))
	st.SetConversions(core.NewConversionTable(itemVitamin,
		core.UnitConversion{UnitID: unitKg, Value: dec("1"), IsSmallest: true},
	))
	return &fixture{
		ctx:    context.Background(),
		store:  st,
		engine: core.NewEngine(st, nil, logging.Discard(), nil),
	}
}

// receive books a purchase in kg at unit price and returns the new batch.
func (f *fixture) receive(t *testing.T, item, location int64, date, qty, price string) *core.StockBatch {
	t.Helper()
	b, err := f.engine.Stock.ReceiveStock(f.ctx, core.ReceiptInput{
		ItemID:     item,
		LocationID: location,
		UnitID:     unitKg,
		BatchDate:  day(date),
		Quantity:   dec(qty),
		UnitPrice:  dec(price),
	})
	if err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}
	return b
}

// seedScenario books the two feed batches used throughout: 100 on 2024-01-01 and 50 on 2024-01-05.
func (f *fixture) seedScenario(t *testing.T) (b1, b2 int64) {
	t.Helper()
	return f.receive(t, itemFeed, farmA, "2024-01-01", "100", "2").ID,
		f.receive(t, itemFeed, farmA, "2024-01-05", "50", "3").ID
}

func (f *fixture) batches(t *testing.T, item, location int64) map[int64]core.StockBatch {
	t.Helper()
	list, err := f.store.ListBatches(f.ctx, core.StockKey{ItemID: item, LocationID: location})
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	out := make(map[int64]core.StockBatch, len(list))
	for _, b := range list {
		out[b.ID] = b
	}
	return out
}

func (f *fixture) available(t *testing.T, item, location, batchID int64) string {
	t.Helper()
	b, ok := f.batches(t, item, location)[batchID]
	if !ok {
		t.Fatalf("batch %d not found at location %d", batchID, location)
	}
	return b.Available().String()
}

func (f *fixture) currentStock(t *testing.T, item, location int64) string {
	t.Helper()
	rows, err := f.store.ListCurrentStock(f.ctx, location)
	if err != nil {
		t.Fatalf("ListCurrentStock: %v", err)
	}
	for _, r := range rows {
		if r.ItemID == item {
			return r.Quantity.String()
		}
	}
	return "0"
}

// assertConsistent checks the batch invariant and that every cached row matches its batches.
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	keys, err := f.store.ListStockKeys(f.ctx)
	if err != nil {
		t.Fatalf("ListStockKeys: %v", err)
	}
	for _, k := range keys {
		for _, b := range f.batches(t, k.ItemID, k.LocationID) {
			if err := b.CheckInvariant(); err != nil {
				t.Errorf("batch %d: %v", b.ID, err)
			}
		}
	}
	reports, err := f.engine.Stock.VerifyAll(f.ctx)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	for _, r := range reports {
		if r.Diverged {
			t.Errorf("%s: stored %s, computed %s", r.Key, r.Stored, r.Computed)
		}
	}
}

func (f *fixture) createUsage(t *testing.T, qty string, initial *core.TransitionRequest) *core.Usage {
	t.Helper()
	sub := coop
	u, err := f.engine.Usage.CreateUsage(f.ctx, core.UsageInput{
		LocationID:    farmA,
		SubLocationID: &sub,
		UsageDate:     day("2024-01-06"),
		CreatedBy:     "tester",
		Lines:         []core.LineInput{{ItemID: itemFeed, UnitID: unitKg, Quantity: dec(qty)}},
		Initial:       initial,
	})
	if err != nil {
		t.Fatalf("CreateUsage: %v", err)
	}
	return u
}

func (f *fixture) transition(t *testing.T, id int64, to core.UsageStatus, role core.Role) *core.Usage {
	t.Helper()
	u, err := f.engine.Usage.TransitionUsage(f.ctx, id, core.TransitionRequest{To: to, Role: role, Actor: "tester"})
	if err != nil {
		t.Fatalf("TransitionUsage(%s): %v", to, err)
	}
	return u
}

func lines(qty string) []core.LineInput {
	return []core.LineInput{{ItemID: itemFeed, UnitID: unitKg, Quantity: dec(qty)}}
}

package report_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"ximopet/internal/app"
	"ximopet/internal/core"
	"ximopet/internal/logging"
	"ximopet/internal/report"
	"ximopet/internal/store/memory"
)

func newService(t *testing.T) app.ApplicationService {
	t.Helper()
	st := memory.New()
	st.SetConversions(core.NewConversionTable(1,
		core.UnitConversion{UnitID: 1, Value: decimal.NewFromInt(1), IsSmallest: true},
	))
	log := logging.Discard()
	return app.NewAppService(core.NewEngine(st, nil, log, nil), log)
}

func TestWrite_StockAndBatchSheets(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	for _, r := range []app.ReceiveStockRequest{
		{ItemID: 1, LocationID: 10, UnitID: 1, Date: "2024-01-05", Quantity: "50", UnitPrice: "3"},
		{ItemID: 1, LocationID: 10, UnitID: 1, Date: "2024-01-01", Quantity: "100", UnitPrice: "2"},
	} {
		if _, err := svc.ReceiveStock(ctx, r); err != nil {
			t.Fatalf("ReceiveStock: %v", err)
		}
	}

	snap, err := report.Collect(ctx, svc, 10)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()

	stock, err := f.GetRows("Stock")
	if err != nil {
		t.Fatalf("GetRows(Stock): %v", err)
	}
	if len(stock) != 2 {
		t.Fatalf("stock sheet has %d rows, want header + 1", len(stock))
	}
	if stock[0][2] != "quantity" || stock[1][2] != "150" {
		t.Errorf("stock row = %v, want quantity 150", stock[1])
	}

	batches, err := f.GetRows("Batches")
	if err != nil {
		t.Fatalf("GetRows(Batches): %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("batches sheet has %d rows, want header + 2", len(batches))
	}
	// FIFO order: the 2024-01-01 receipt first even though it was booked second.
	if batches[1][3] != "2024-01-01" || batches[2][3] != "2024-01-05" {
		t.Errorf("batch dates = %s, %s", batches[1][3], batches[2][3])
	}
	if batches[1][9] != "2" {
		t.Errorf("unit cost = %s, want 2", batches[1][9])
	}
}

func TestWrite_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Write(&buf, &report.Snapshot{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()
	if got := f.GetSheetList(); len(got) != 2 || got[0] != "Stock" || got[1] != "Batches" {
		t.Errorf("sheets = %v", got)
	}
}

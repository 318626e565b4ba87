package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"ximopet/internal/adapters/cli"
	"ximopet/internal/app"
	"ximopet/internal/core"
	"ximopet/internal/logging"
	"ximopet/internal/store/memory"
)

func setup(t *testing.T) (*memory.Store, app.ApplicationService) {
	t.Helper()
	st := memory.New()
	st.SetConversions(core.NewConversionTable(1,
		core.UnitConversion{UnitID: 1, Value: decimal.NewFromInt(1), IsSmallest: true},
	))
	log := logging.Discard()
	svc := app.NewAppService(core.NewEngine(st, nil, log, nil), log)
	_, err := svc.ReceiveStock(context.Background(), app.ReceiveStockRequest{
		ItemID: 1, LocationID: 10, UnitID: 1, Date: "2024-01-01",
		Quantity: "100", UnitPrice: "2",
	})
	if err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}
	return st, svc
}

func run(t *testing.T, svc app.ApplicationService, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := cli.Run(context.Background(), svc, args, &out)
	return out.String(), err
}

func TestRun_Stock(t *testing.T) {
	_, svc := setup(t)
	out, err := run(t, svc, "stock", "10")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if !strings.Contains(out, "100") {
		t.Errorf("output missing balance:\n%s", out)
	}
}

func TestRun_VerifyAndRecompute(t *testing.T) {
	st, svc := setup(t)
	st.OverrideCurrentStock(core.StockKey{ItemID: 1, LocationID: 10}, decimal.NewFromInt(90))

	out, err := run(t, svc, "verify")
	if !errors.Is(err, cli.ErrDiverged) {
		t.Fatalf("verify err = %v, want ErrDiverged", err)
	}
	if !strings.Contains(out, "DIVERGED") {
		t.Errorf("verify output:\n%s", out)
	}

	if _, err := run(t, svc, "recompute", "1", "10"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if _, err := run(t, svc, "verify", "1", "10"); err != nil {
		t.Errorf("verify after recompute: %v", err)
	}
}

func TestRun_Export(t *testing.T) {
	_, svc := setup(t)
	path := filepath.Join(t.TempDir(), "stock.xlsx")
	out, err := run(t, svc, "export", path)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "1 balances and 1 batches") {
		t.Errorf("export output: %s", out)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("workbook not written: %v", err)
	}
}

func TestRun_Schema(t *testing.T) {
	_, svc := setup(t)
	out, err := run(t, svc, "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(out, "create_usage") {
		t.Errorf("schema list:\n%s", out)
	}
	out, err = run(t, svc, "schema", "create_mutation")
	if err != nil {
		t.Fatalf("schema create_mutation: %v", err)
	}
	if !strings.Contains(out, "destination_location_id") {
		t.Errorf("schema body:\n%s", out)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	_, svc := setup(t)
	for _, args := range [][]string{
		{},
		{"frobnicate"},
		{"batches", "1"},
		{"batches", "x", "10"},
		{"schema", "nope"},
	} {
		if _, err := run(t, svc, args...); !errors.Is(err, cli.ErrUsage) {
			t.Errorf("Run(%v) err = %v, want ErrUsage", args, err)
		}
	}
}

func TestRun_PreviewReportsFailureKind(t *testing.T) {
	_, svc := setup(t)
	for _, qty := range []string{"0", "lots"} {
		_, err := run(t, svc, "preview", "1", "10", "2024-01-02", qty)
		var f *app.Failure
		if !errors.As(err, &f) || f.Kind != core.KindInvalidQuantity {
			t.Errorf("preview %s: err = %v, want InvalidQuantity failure", qty, err)
		}
	}
}

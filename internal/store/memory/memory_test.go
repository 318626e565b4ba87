package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ximopet/internal/core"
	"ximopet/internal/store/memory"
)

var key = core.StockKey{ItemID: 1, LocationID: 10}

func newBatch(date string, qty int64) *core.StockBatch {
	d, _ := time.Parse(time.DateOnly, date)
	return &core.StockBatch{
		ItemID:          key.ItemID,
		LocationID:      key.LocationID,
		BatchDate:       d,
		ReceivedAt:      d,
		QuantityIn:      decimal.NewFromInt(qty),
		QuantityUsed:    decimal.Zero,
		QuantityMutated: decimal.Zero,
		Amount:          decimal.NewFromInt(qty),
		Origin:          core.OriginPurchase,
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx core.Tx) error {
		if err := tx.InsertBatch(ctx, newBatch("2024-01-01", 10)); err != nil {
			return err
		}
		if err := tx.AdjustCurrentStock(ctx, key, decimal.NewFromInt(10)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	batches, _ := st.ListBatches(ctx, key)
	stocks, _ := st.ListCurrentStock(ctx, 0)
	if len(batches) != 0 || len(stocks) != 0 {
		t.Errorf("rolled-back writes visible: %d batches, %d stock rows", len(batches), len(stocks))
	}
}

func TestWithTx_CommitsAndIsolatesCallerCopies(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	b := newBatch("2024-01-01", 10)
	if err := st.WithTx(ctx, func(tx core.Tx) error { return tx.InsertBatch(ctx, b) }); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	b.QuantityUsed = decimal.NewFromInt(99)

	batches, _ := st.ListBatches(ctx, key)
	if len(batches) != 1 || !batches[0].QuantityUsed.IsZero() {
		t.Errorf("stored batch aliased the caller's value: %+v", batches)
	}
}

func TestUpdateBatch_Guards(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	b := newBatch("2024-01-01", 10)
	_ = st.WithTx(ctx, func(tx core.Tx) error { return tx.InsertBatch(ctx, b) })

	err := st.WithTx(ctx, func(tx core.Tx) error {
		changed := *b
		changed.QuantityIn = decimal.NewFromInt(11)
		return tx.UpdateBatch(ctx, changed)
	})
	if err == nil {
		t.Error("quantity_in change accepted")
	}

	err = st.WithTx(ctx, func(tx core.Tx) error {
		over := *b
		over.QuantityUsed = decimal.NewFromInt(11)
		return tx.UpdateBatch(ctx, over)
	})
	if !errors.Is(err, core.ErrInsufficientAvailable) {
		t.Errorf("overdraw: got %v, want ErrInsufficientAvailable", err)
	}
}

func TestLockBatches_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_ = st.WithTx(ctx, func(tx core.Tx) error {
		for _, d := range []string{"2024-03-01", "2024-01-01", "2024-02-01"} {
			if err := tx.InsertBatch(ctx, newBatch(d, 5)); err != nil {
				return err
			}
		}
		return nil
	})

	_ = st.WithTx(ctx, func(tx core.Tx) error {
		batches, err := tx.LockBatches(ctx, key)
		if err != nil {
			return err
		}
		for i := 1; i < len(batches); i++ {
			if batches[i].BatchDate.Before(batches[i-1].BatchDate) {
				t.Errorf("batches out of order at %d", i)
			}
		}
		earliest, ok, _ := tx.EarliestBatchDate(ctx, key)
		if !ok || earliest.Format(time.DateOnly) != "2024-01-01" {
			t.Errorf("earliest: %v %v", earliest, ok)
		}
		return nil
	})
}

func TestNextDocumentNumber(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	var got []string
	_ = st.WithTx(ctx, func(tx core.Tx) error {
		for _, c := range []struct {
			kind core.DocumentKind
			year int
		}{
			{core.DocumentUsage, 2024},
			{core.DocumentUsage, 2024},
			{core.DocumentMutation, 2024},
			{core.DocumentUsage, 2025},
		} {
			n, err := tx.NextDocumentNumber(ctx, c.kind, c.year)
			if err != nil {
				return err
			}
			got = append(got, n)
		}
		return nil
	})

	want := []string{"USE-2024-00001", "USE-2024-00002", "MUT-2024-00001", "USE-2025-00001"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("number %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConversions_Missing(t *testing.T) {
	st := memory.New()
	if _, err := st.Conversions(context.Background(), 42); !errors.Is(err, core.ErrMissingConversion) {
		t.Errorf("got %v, want ErrMissingConversion", err)
	}
}

// Package report renders stock snapshots as xlsx workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"ximopet/internal/app"
	"ximopet/internal/core"
)

const (
	stockSheet   = "Stock"
	batchesSheet = "Batches"
)

// Snapshot is the data a stock workbook is built from.
type Snapshot struct {
	TakenAt time.Time
	Stock   []core.CurrentStock
	Batches []app.BatchView
}

// Collect reads the current balances of locationID (0 for every location) and the
// live batches behind each balance.
func Collect(ctx context.Context, svc app.ApplicationService, locationID int64) (*Snapshot, error) {
	stock, err := svc.GetStock(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current stock: %w", err)
	}
	snap := &Snapshot{TakenAt: time.Now().UTC(), Stock: stock.Rows}
	for _, row := range stock.Rows {
		list, err := svc.ListBatches(ctx, row.ItemID, row.LocationID)
		if err != nil {
			return nil, fmt.Errorf("failed to list batches for item %d at location %d: %w", row.ItemID, row.LocationID, err)
		}
		snap.Batches = append(snap.Batches, list.Batches...)
	}
	return snap, nil
}

// Write renders snap as a two-sheet workbook: balances per key and batches in FIFO order.
func Write(w io.Writer, snap *Snapshot) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), stockSheet); err != nil {
		return fmt.Errorf("failed to name stock sheet: %w", err)
	}
	if _, err := f.NewSheet(batchesSheet); err != nil {
		return fmt.Errorf("failed to create batches sheet: %w", err)
	}

	stockRows := [][]any{{"item_id", "location_id", "quantity", "on_hold", "updated_at"}}
	for _, s := range snap.Stock {
		stockRows = append(stockRows, []any{
			s.ItemID,
			s.LocationID,
			s.Quantity.InexactFloat64(),
			s.Hold,
			s.UpdatedAt.Format(time.RFC3339),
		})
	}
	if err := writeRows(f, stockSheet, stockRows); err != nil {
		return err
	}

	batchRows := [][]any{{
		"batch_id", "item_id", "location_id", "batch_date", "origin",
		"quantity_in", "quantity_used", "quantity_mutated", "available", "unit_cost", "amount",
	}}
	for _, b := range snap.Batches {
		batchRows = append(batchRows, []any{
			b.ID,
			b.ItemID,
			b.LocationID,
			b.BatchDate.Format(time.DateOnly),
			string(b.Origin),
			b.QuantityIn.InexactFloat64(),
			b.QuantityUsed.InexactFloat64(),
			b.QuantityMutated.InexactFloat64(),
			b.Available.InexactFloat64(),
			b.UnitCost.InexactFloat64(),
			b.Amount.InexactFloat64(),
		})
	}
	if err := writeRows(f, batchesSheet, batchRows); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for _, sheet := range []struct {
		name string
		cols int
	}{{stockSheet, len(stockRows[0])}, {batchesSheet, len(batchRows[0])}} {
		last, err := excelize.CoordinatesToCellName(sheet.cols, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet.name, "A1", last, bold); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sheet.name, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ximopet/internal/core"
)

type pgTx struct {
	tx pgx.Tx
}

var _ core.Tx = (*pgTx)(nil)

const batchColumns = `id, item_id, location_id, batch_date, received_at, quantity_in, quantity_used,
		quantity_mutated, amount, origin, origin_mutation_id, deleted_at`

func scanBatch(row pgx.Row) (core.StockBatch, error) {
	var b core.StockBatch
	var origin string
	err := row.Scan(&b.ID, &b.ItemID, &b.LocationID, &b.BatchDate, &b.ReceivedAt, &b.QuantityIn, &b.QuantityUsed,
		&b.QuantityMutated, &b.Amount, &origin, &b.OriginMutationID, &b.DeletedAt)
	b.Origin = core.BatchOrigin(origin)
	return b, err
}

func queryBatches(ctx context.Context, q querier, sql string, args ...any) ([]core.StockBatch, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []core.StockBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (t *pgTx) Conversions(ctx context.Context, itemID int64) (core.ConversionTable, error) {
	return loadConversions(ctx, t.tx, itemID)
}

// ── Batches ───────────────────────────────────────────────────────────────────

func (t *pgTx) InsertBatch(ctx context.Context, b *core.StockBatch) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO stock_batches (item_id, location_id, batch_date, received_at, quantity_in, quantity_used,
			quantity_mutated, amount, origin, origin_mutation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, b.ItemID, b.LocationID, b.BatchDate, b.ReceivedAt, b.QuantityIn, b.QuantityUsed,
		b.QuantityMutated, b.Amount, string(b.Origin), b.OriginMutationID).Scan(&b.ID)
}

func (t *pgTx) GetBatch(ctx context.Context, id int64) (core.StockBatch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx, "SELECT "+batchColumns+" FROM stock_batches WHERE id = $1", id))
	if err != nil {
		return core.StockBatch{}, notFound(err, "batch %d", id)
	}
	return b, nil
}

// LockBatches locks the key's current_stocks row, creating it at zero if absent, and then
// its live batch rows. The aggregate row lock serialises writers on keys with no batches.
func (t *pgTx) LockBatches(ctx context.Context, key core.StockKey) ([]core.StockBatch, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO current_stocks (item_id, location_id, quantity) VALUES ($1, $2, 0)
		ON CONFLICT (item_id, location_id) DO NOTHING
	`, key.ItemID, key.LocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure current stock row: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `
		SELECT 1 FROM current_stocks WHERE item_id = $1 AND location_id = $2 FOR UPDATE
	`, key.ItemID, key.LocationID); err != nil {
		return nil, fmt.Errorf("failed to lock current stock row: %w", err)
	}
	return queryBatches(ctx, t.tx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE item_id = $1 AND location_id = $2 AND deleted_at IS NULL
		ORDER BY batch_date, received_at, id
		FOR UPDATE
	`, key.ItemID, key.LocationID)
}

func (t *pgTx) LockBatchesByID(ctx context.Context, ids []int64) ([]core.StockBatch, error) {
	return queryBatches(ctx, t.tx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
}

func (t *pgTx) UpdateBatch(ctx context.Context, b core.StockBatch) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_batches
		SET quantity_used = $2, quantity_mutated = $3, deleted_at = $4
		WHERE id = $1
	`, b.ID, b.QuantityUsed, b.QuantityMutated, b.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %d", core.ErrNotFound, b.ID)
	}
	return nil
}

func (t *pgTx) EarliestBatchDate(ctx context.Context, key core.StockKey) (time.Time, bool, error) {
	var earliest *time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT MIN(batch_date) FROM stock_batches
		WHERE item_id = $1 AND location_id = $2 AND deleted_at IS NULL
	`, key.ItemID, key.LocationID).Scan(&earliest)
	if err != nil {
		return time.Time{}, false, err
	}
	if earliest == nil {
		return time.Time{}, false, nil
	}
	return *earliest, true, nil
}

func (t *pgTx) SumAvailable(ctx context.Context, key core.StockKey, asOf *time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_in - quantity_used - quantity_mutated), 0)
		FROM stock_batches
		WHERE item_id = $1 AND location_id = $2 AND deleted_at IS NULL
		  AND ($3::date IS NULL OR batch_date <= $3::date)
	`, key.ItemID, key.LocationID, asOf).Scan(&total)
	return total, err
}

func (t *pgTx) CountBatchReferences(ctx context.Context, batchID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM usage_allocations a
				JOIN usage_details d ON d.id = a.usage_detail_id
				JOIN usages u ON u.id = d.usage_id
				WHERE a.batch_id = $1 AND u.deleted_at IS NULL)
			+
			(SELECT COUNT(*) FROM mutation_items i
				JOIN mutation_lines l ON l.id = i.mutation_line_id
				JOIN mutations m ON m.id = l.mutation_id
				WHERE (i.source_batch_id = $1 OR i.destination_batch_id = $1) AND m.deleted_at IS NULL)
	`, batchID).Scan(&n)
	return n, err
}

// ── Current stock ─────────────────────────────────────────────────────────────

func (t *pgTx) GetCurrentStock(ctx context.Context, key core.StockKey) (core.CurrentStock, bool, error) {
	var cs core.CurrentStock
	err := t.tx.QueryRow(ctx, `
		SELECT item_id, location_id, quantity, integrity_hold, updated_at
		FROM current_stocks
		WHERE item_id = $1 AND location_id = $2
	`, key.ItemID, key.LocationID).Scan(&cs.ItemID, &cs.LocationID, &cs.Quantity, &cs.Hold, &cs.UpdatedAt)
	if err == pgx.ErrNoRows {
		return core.CurrentStock{}, false, nil
	}
	if err != nil {
		return core.CurrentStock{}, false, err
	}
	return cs, true, nil
}

func (t *pgTx) AdjustCurrentStock(ctx context.Context, key core.StockKey, delta decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO current_stocks (item_id, location_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET quantity = current_stocks.quantity + EXCLUDED.quantity, updated_at = now()
	`, key.ItemID, key.LocationID, delta)
	return err
}

func (t *pgTx) SaveCurrentStock(ctx context.Context, cs core.CurrentStock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO current_stocks (item_id, location_id, quantity, integrity_hold, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, integrity_hold = EXCLUDED.integrity_hold, updated_at = now()
	`, cs.ItemID, cs.LocationID, cs.Quantity, cs.Hold)
	return err
}

// ── Numbering ─────────────────────────────────────────────────────────────────

// NextDocumentNumber allocates the next number of the (kind, year) series.
// The upsert holds the sequence row until commit, so numbers stay gapless.
func (t *pgTx) NextDocumentNumber(ctx context.Context, kind core.DocumentKind, year int) (string, error) {
	var last int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO document_sequences (kind, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (kind, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, string(kind), year).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to generate gapless sequence number: %w", err)
	}
	return core.FormatDocumentNumber(kind, year, last), nil
}

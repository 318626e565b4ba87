package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger owns every write to stock batches. Each debit or credit emits the matching
// current-stock delta inside the caller's transaction.
type Ledger struct {
	stock *Aggregate
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewLedger constructs a Ledger that reports deltas to stock.
func NewLedger(stock *Aggregate, log logrus.FieldLogger) *Ledger {
	return &Ledger{stock: stock, log: log, now: time.Now}
}

// NewBatch is the input of AddBatch.
type NewBatch struct {
	ItemID           int64
	LocationID       int64
	BatchDate        time.Time
	Quantity         decimal.Decimal // smallest unit
	Amount           decimal.Decimal // total cost of Quantity
	Origin           BatchOrigin
	OriginMutationID *int64
}

// AddBatch creates a batch and credits its quantity to the current-stock row.
func (l *Ledger) AddBatch(ctx context.Context, tx Tx, in NewBatch) (StockBatch, error) {
	if !in.Quantity.IsPositive() {
		return StockBatch{}, invalidQuantity("batch quantity must be positive, got %s", in.Quantity)
	}
	if in.Amount.IsNegative() {
		return StockBatch{}, invalidQuantity("batch amount cannot be negative, got %s", in.Amount)
	}
	if in.BatchDate.IsZero() {
		return StockBatch{}, validationError("batch date is required")
	}
	origin := in.Origin
	if origin == "" {
		origin = OriginPurchase
	}

	b := StockBatch{
		ItemID:           in.ItemID,
		LocationID:       in.LocationID,
		BatchDate:        DateOnly(in.BatchDate),
		ReceivedAt:       l.now().UTC(),
		QuantityIn:       in.Quantity,
		QuantityUsed:     decimal.Zero,
		QuantityMutated:  decimal.Zero,
		Amount:           in.Amount,
		Origin:           origin,
		OriginMutationID: in.OriginMutationID,
	}
	if err := tx.InsertBatch(ctx, &b); err != nil {
		return StockBatch{}, fmt.Errorf("failed to insert batch: %w", err)
	}
	if err := l.stock.apply(ctx, tx, b.Key(), b.QuantityIn); err != nil {
		return StockBatch{}, err
	}
	return b, nil
}

// Debit draws qty from a batch into col (quantity_used or quantity_mutated).
// It fails with ErrInsufficientAvailable if the batch does not have qty available.
func (l *Ledger) Debit(ctx context.Context, tx Tx, batchID int64, qty decimal.Decimal, col LedgerColumn) (StockBatch, error) {
	if !qty.IsPositive() {
		return StockBatch{}, invalidQuantity("debit quantity must be positive, got %s", qty)
	}
	b, err := l.lockLive(ctx, tx, batchID)
	if err != nil {
		return StockBatch{}, err
	}
	if qty.GreaterThan(b.Available()) {
		return StockBatch{}, fmt.Errorf("%w: batch %d has %s available, debit of %s requested",
			ErrInsufficientAvailable, batchID, b.Available(), qty)
	}
	switch col {
	case ColumnUsed:
		b.QuantityUsed = b.QuantityUsed.Add(qty)
	case ColumnMutated:
		b.QuantityMutated = b.QuantityMutated.Add(qty)
	default:
		return StockBatch{}, fmt.Errorf("unknown ledger column %q", col)
	}
	if err := l.save(ctx, tx, b); err != nil {
		return StockBatch{}, err
	}
	if err := l.stock.apply(ctx, tx, b.Key(), qty.Neg()); err != nil {
		return StockBatch{}, err
	}
	return b, nil
}

// Credit returns qty previously drawn into col back to the batch.
// It fails with ErrInsufficientAvailable if more is credited than was drawn.
func (l *Ledger) Credit(ctx context.Context, tx Tx, batchID int64, qty decimal.Decimal, col LedgerColumn) (StockBatch, error) {
	if !qty.IsPositive() {
		return StockBatch{}, invalidQuantity("credit quantity must be positive, got %s", qty)
	}
	b, err := l.lockLive(ctx, tx, batchID)
	if err != nil {
		return StockBatch{}, err
	}
	switch col {
	case ColumnUsed:
		if qty.GreaterThan(b.QuantityUsed) {
			return StockBatch{}, fmt.Errorf("%w: batch %d credit of %s exceeds quantity_used %s",
				ErrInsufficientAvailable, batchID, qty, b.QuantityUsed)
		}
		b.QuantityUsed = b.QuantityUsed.Sub(qty)
	case ColumnMutated:
		if qty.GreaterThan(b.QuantityMutated) {
			return StockBatch{}, fmt.Errorf("%w: batch %d credit of %s exceeds quantity_mutated %s",
				ErrInsufficientAvailable, batchID, qty, b.QuantityMutated)
		}
		b.QuantityMutated = b.QuantityMutated.Sub(qty)
	default:
		return StockBatch{}, fmt.Errorf("unknown ledger column %q", col)
	}
	if err := l.save(ctx, tx, b); err != nil {
		return StockBatch{}, err
	}
	if err := l.stock.apply(ctx, tx, b.Key(), qty); err != nil {
		return StockBatch{}, err
	}
	return b, nil
}

// Available sums batch availability for key with batch_date <= asOf.
func (l *Ledger) Available(ctx context.Context, tx Tx, key StockKey, asOf time.Time) (decimal.Decimal, error) {
	d := DateOnly(asOf)
	total, err := tx.SumAvailable(ctx, key, &d)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum available for %s: %w", key, err)
	}
	return total, nil
}

// RemoveBatch soft-deletes a batch nothing has drawn from and nothing references.
func (l *Ledger) RemoveBatch(ctx context.Context, tx Tx, batchID int64) error {
	b, err := l.lockLive(ctx, tx, batchID)
	if err != nil {
		return err
	}
	refs, err := tx.CountBatchReferences(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to count references of batch %d: %w", batchID, err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: batch %d has %d references", ErrBatchReferenced, batchID, refs)
	}
	return l.retire(ctx, tx, b)
}

// retire soft-deletes an untouched batch and removes its quantity from current stock.
// The caller is responsible for the references it is about to replace.
func (l *Ledger) retire(ctx context.Context, tx Tx, b StockBatch) error {
	if !b.Untouched() {
		return fmt.Errorf("%w: batch %d already drawn (used=%s mutated=%s)",
			ErrInsufficientAvailable, b.ID, b.QuantityUsed, b.QuantityMutated)
	}
	at := l.now().UTC()
	b.DeletedAt = &at
	if err := tx.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("failed to delete batch %d: %w", b.ID, err)
	}
	return l.stock.apply(ctx, tx, b.Key(), b.QuantityIn.Neg())
}

func (l *Ledger) lockLive(ctx context.Context, tx Tx, batchID int64) (StockBatch, error) {
	batches, err := tx.LockBatchesByID(ctx, []int64{batchID})
	if err != nil {
		return StockBatch{}, fmt.Errorf("failed to lock batch %d: %w", batchID, err)
	}
	if len(batches) == 0 || batches[0].DeletedAt != nil {
		return StockBatch{}, fmt.Errorf("%w: batch %d", ErrNotFound, batchID)
	}
	return batches[0], nil
}

func (l *Ledger) save(ctx context.Context, tx Tx, b StockBatch) error {
	if err := b.CheckInvariant(); err != nil {
		return err
	}
	if err := tx.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("failed to update batch %d: %w", b.ID, err)
	}
	return nil
}

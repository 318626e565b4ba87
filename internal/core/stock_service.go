package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReceiptInput records a purchase receipt of an item into a location.
// Quantity and UnitPrice are expressed in UnitID.
type ReceiptInput struct {
	ItemID     int64
	LocationID int64
	UnitID     int64
	BatchDate  time.Time
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
}

// StockService manages receipts, stock queries and the integrity of the current-stock cache.
type StockService interface {
	// ReceiveStock converts the receipt to the item's smallest unit and adds a batch.
	ReceiveStock(ctx context.Context, in ReceiptInput) (*StockBatch, error)
	// VoidReceipt removes a batch nothing has drawn from. Fails with ErrBatchReferenced otherwise.
	VoidReceipt(ctx context.Context, batchID int64) error
	// PreviewAllocation plans an allocation without applying it.
	PreviewAllocation(ctx context.Context, key StockKey, qty decimal.Decimal, asOf time.Time) (Plan, error)
	Available(ctx context.Context, key StockKey, asOf time.Time) (decimal.Decimal, error)
	ListBatches(ctx context.Context, key StockKey) ([]StockBatch, error)
	// ListCurrentStock returns the cached balances of a location, or of every location when 0.
	ListCurrentStock(ctx context.Context, locationID int64) ([]CurrentStock, error)

	// Verify compares a key's cached balance with its batches. A divergence places the
	// key on hold and is returned as an *IntegrityMismatchError alongside the report.
	Verify(ctx context.Context, key StockKey) (IntegrityReport, error)
	// Recompute rebuilds a key's cached balance from its batches and lifts any hold.
	Recompute(ctx context.Context, key StockKey) (IntegrityReport, error)
	// VerifyAll runs Verify over every known key. Only infrastructure failures are returned
	// as errors; divergences are reported with Diverged set.
	VerifyAll(ctx context.Context) ([]IntegrityReport, error)
}

type stockService struct {
	store   Store
	ledger  *Ledger
	stock   *Aggregate
	log     logrus.FieldLogger
	metrics *Metrics
}

// NewStockService constructs a StockService.
func NewStockService(store Store, ledger *Ledger, stock *Aggregate, log logrus.FieldLogger, metrics *Metrics) StockService {
	return &stockService{store: store, ledger: ledger, stock: stock, log: log, metrics: metrics}
}

func (s *stockService) ReceiveStock(ctx context.Context, in ReceiptInput) (*StockBatch, error) {
	defer s.metrics.observe("receive_stock")()

	if in.ItemID <= 0 || in.LocationID <= 0 {
		return nil, validationError("item and location are required")
	}
	if !in.Quantity.IsPositive() {
		return nil, invalidQuantity("receipt quantity must be positive, got %s", in.Quantity)
	}
	if in.UnitPrice.IsNegative() {
		return nil, invalidQuantity("unit price cannot be negative, got %s", in.UnitPrice)
	}
	table, err := s.store.Conversions(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	qty, err := table.ToSmallest(in.Quantity, in.UnitID)
	if err != nil {
		return nil, err
	}

	var batch StockBatch
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		batch, err = s.ledger.AddBatch(ctx, tx, NewBatch{
			ItemID:     in.ItemID,
			LocationID: in.LocationID,
			BatchDate:  in.BatchDate,
			Quantity:   qty,
			Amount:     in.Quantity.Mul(in.UnitPrice),
			Origin:     OriginPurchase,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"batch_id":    batch.ID,
		"item_id":     batch.ItemID,
		"location_id": batch.LocationID,
		"quantity":    batch.QuantityIn.String(),
	}).Info("stock received")
	return &batch, nil
}

func (s *stockService) VoidReceipt(ctx context.Context, batchID int64) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Origin != OriginPurchase {
			return fmt.Errorf("%w: batch %d was created by a mutation", ErrBatchReferenced, batchID)
		}
		return s.ledger.RemoveBatch(ctx, tx, batchID)
	})
}

func (s *stockService) PreviewAllocation(ctx context.Context, key StockKey, qty decimal.Decimal, asOf time.Time) (Plan, error) {
	if !qty.IsPositive() {
		return Plan{}, invalidQuantity("quantity must be positive, got %s", qty)
	}
	batches, err := s.store.ListBatches(ctx, key)
	if err != nil {
		return Plan{}, err
	}
	return PlanAllocation(batches, key, qty, asOf), nil
}

func (s *stockService) Available(ctx context.Context, key StockKey, asOf time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		total, err = s.ledger.Available(ctx, tx, key, asOf)
		return err
	})
	return total, err
}

func (s *stockService) ListBatches(ctx context.Context, key StockKey) ([]StockBatch, error) {
	return s.store.ListBatches(ctx, key)
}

func (s *stockService) ListCurrentStock(ctx context.Context, locationID int64) ([]CurrentStock, error) {
	return s.store.ListCurrentStock(ctx, locationID)
}

// ── Integrity ─────────────────────────────────────────────────────────────────

func (s *stockService) Verify(ctx context.Context, key StockKey) (IntegrityReport, error) {
	var report IntegrityReport
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		report, err = s.stock.VerifyTx(ctx, tx, key)
		return err
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	return report, report.Err()
}

func (s *stockService) Recompute(ctx context.Context, key StockKey) (IntegrityReport, error) {
	defer s.metrics.observe("recompute")()

	var report IntegrityReport
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		report, err = s.stock.RecomputeTx(ctx, tx, key)
		return err
	})
	return report, err
}

func (s *stockService) VerifyAll(ctx context.Context) ([]IntegrityReport, error) {
	keys, err := s.store.ListStockKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock keys: %w", err)
	}
	reports := make([]IntegrityReport, 0, len(keys))
	for _, key := range keys {
		report, err := s.Verify(ctx, key)
		if err != nil && !errors.Is(err, ErrIntegrityMismatch) {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PlanLine is one (batch, quantity) entry of an allocation plan.
type PlanLine struct {
	BatchID   int64           `json:"batch_id"`
	BatchDate time.Time       `json:"batch_date"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// Plan is the result of PlanAllocation. A plan with a non-zero Shortage must not be applied.
type Plan struct {
	Key       StockKey        `json:"key"`
	AsOf      time.Time       `json:"as_of"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
	Lines     []PlanLine      `json:"lines"`
}

// Satisfied reports whether the plan covers the required quantity.
func (p Plan) Satisfied() bool { return !p.Shortage.IsPositive() }

// Err returns an *InsufficientStockError when the plan has a shortage.
func (p Plan) Err() error {
	if p.Satisfied() {
		return nil
	}
	return &InsufficientStockError{
		ItemID:     p.Key.ItemID,
		LocationID: p.Key.LocationID,
		Requested:  p.Required,
		Available:  p.Available,
		Shortage:   p.Shortage,
	}
}

// Allocations converts the plan lines into usage allocation entries.
func (p Plan) Allocations() []Allocation {
	out := make([]Allocation, len(p.Lines))
	for i, l := range p.Lines {
		out[i] = Allocation{BatchID: l.BatchID, Quantity: l.Quantity, UnitCost: l.UnitCost}
	}
	return out
}

// SortFIFO orders batches by (batch_date, received_at, id).
func SortFIFO(batches []StockBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.BatchDate.Equal(b.BatchDate) {
			return a.BatchDate.Before(b.BatchDate)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// PlanAllocation selects batches oldest-first for required as of asOf.
// It does not modify its input and returns the same plan for the same batch state.
func PlanAllocation(batches []StockBatch, key StockKey, required decimal.Decimal, asOf time.Time) Plan {
	asOf = DateOnly(asOf)
	candidates := make([]StockBatch, 0, len(batches))
	for _, b := range batches {
		if b.Key() != key || b.DeletedAt != nil {
			continue
		}
		if DateOnly(b.BatchDate).After(asOf) || !b.Available().IsPositive() {
			continue
		}
		candidates = append(candidates, b)
	}
	SortFIFO(candidates)

	plan := Plan{Key: key, AsOf: asOf, Required: required, Available: decimal.Zero}
	remaining := required
	for _, b := range candidates {
		plan.Available = plan.Available.Add(b.Available())
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(b.Available(), remaining)
		plan.Lines = append(plan.Lines, PlanLine{
			BatchID:   b.ID,
			BatchDate: b.BatchDate,
			Quantity:  take,
			UnitCost:  b.UnitCost(),
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		plan.Shortage = remaining
	} else {
		plan.Shortage = decimal.Zero
	}
	return plan
}

// Allocator applies FIFO plans to the ledger under row locks.
type Allocator struct {
	ledger  *Ledger
	stock   *Aggregate
	log     logrus.FieldLogger
	metrics *Metrics
}

// NewAllocator constructs an Allocator.
func NewAllocator(ledger *Ledger, stock *Aggregate, log logrus.FieldLogger, metrics *Metrics) *Allocator {
	return &Allocator{ledger: ledger, stock: stock, log: log, metrics: metrics}
}

// Prepare runs Check and then locks every key's batches in key order.
// Callers must Prepare all keys of an operation before Allocate.
func (a *Allocator) Prepare(ctx context.Context, tx Tx, keys []StockKey, date time.Time) error {
	if err := a.Check(ctx, tx, keys, date); err != nil {
		return err
	}
	return a.LockKeys(ctx, tx, keys)
}

// Check runs the validations that must pass before any batch lock is taken:
// the date may not precede the key's stock and the key may not be on integrity hold.
func (a *Allocator) Check(ctx context.Context, tx Tx, keys []StockKey, date time.Time) error {
	sorted := append([]StockKey(nil), keys...)
	sortKeys(sorted)
	for _, key := range sorted {
		if err := a.checkDate(ctx, tx, key, date); err != nil {
			return err
		}
		if err := a.stock.checkHold(ctx, tx, key); err != nil {
			return err
		}
	}
	return nil
}

// LockKeys locks the batches of every distinct key in key order.
func (a *Allocator) LockKeys(ctx context.Context, tx Tx, keys []StockKey) error {
	seen := make(map[StockKey]struct{}, len(keys))
	sorted := make([]StockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sortKeys(sorted)
	for _, key := range sorted {
		if _, err := tx.LockBatches(ctx, key); err != nil {
			return fmt.Errorf("failed to lock batches for %s: %w", key, err)
		}
	}
	return nil
}

// checkDate rejects a date that precedes the earliest live batch of key.
// A key with no batches at all falls through to the shortage check.
func (a *Allocator) checkDate(ctx context.Context, tx Tx, key StockKey, date time.Time) error {
	earliest, ok, err := tx.EarliestBatchDate(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read earliest batch date for %s: %w", key, err)
	}
	d := DateOnly(date)
	if ok && d.Before(DateOnly(earliest)) {
		return &DateOutOfRangeError{
			Key:      key,
			Date:     d.Format(time.DateOnly),
			Earliest: DateOnly(earliest).Format(time.DateOnly),
		}
	}
	return nil
}

// Allocate plans qty of key as of asOf against locked batch state and debits col per line.
// A shortage fails the whole allocation; nothing is debited.
func (a *Allocator) Allocate(ctx context.Context, tx Tx, key StockKey, qty decimal.Decimal, asOf time.Time, col LedgerColumn, purpose string) (Plan, error) {
	if !qty.IsPositive() {
		return Plan{}, invalidQuantity("allocation quantity must be positive, got %s", qty)
	}
	batches, err := tx.LockBatches(ctx, key)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to lock batches for %s: %w", key, err)
	}
	plan := PlanAllocation(batches, key, qty, asOf)
	if !plan.Satisfied() {
		a.metrics.shortage(purpose)
		a.log.WithFields(logrus.Fields{
			"item_id":     key.ItemID,
			"location_id": key.LocationID,
			"required":    qty.String(),
			"available":   plan.Available.String(),
			"purpose":     purpose,
		}).Info("allocation refused: insufficient stock")
		return plan, plan.Err()
	}
	for _, line := range plan.Lines {
		if _, err := a.ledger.Debit(ctx, tx, line.BatchID, line.Quantity, col); err != nil {
			return plan, err
		}
	}
	a.metrics.allocated(purpose)
	return plan, nil
}

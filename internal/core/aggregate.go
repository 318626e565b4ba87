package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Aggregate maintains current_stocks, the per-(item, location) cache of batch availability.
// Rows are never authoritative: Recompute rebuilds them from the batches.
type Aggregate struct {
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

// NewAggregate constructs an Aggregate.
func NewAggregate(log logrus.FieldLogger, metrics *Metrics) *Aggregate {
	return &Aggregate{log: log, metrics: metrics, now: time.Now}
}

// IntegrityReport is the outcome of comparing a current-stock row against its batches.
type IntegrityReport struct {
	Key      StockKey        `json:"key"`
	Stored   decimal.Decimal `json:"stored"`
	Computed decimal.Decimal `json:"computed"`
	Diverged bool            `json:"diverged"`
	Held     bool            `json:"held"`
}

// Err returns the IntegrityMismatchError for a diverged report, nil otherwise.
func (r IntegrityReport) Err() error {
	if !r.Diverged {
		return nil
	}
	return &IntegrityMismatchError{Key: r.Key, Stored: r.Stored, Computed: r.Computed}
}

func (a *Aggregate) apply(ctx context.Context, tx Tx, key StockKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	if err := tx.AdjustCurrentStock(ctx, key, delta); err != nil {
		return fmt.Errorf("failed to adjust current stock for %s: %w", key, err)
	}
	return nil
}

// checkHold refuses allocation against a key left on integrity hold.
func (a *Aggregate) checkHold(ctx context.Context, tx Tx, key StockKey) error {
	cs, ok, err := tx.GetCurrentStock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read current stock for %s: %w", key, err)
	}
	if ok && cs.Hold {
		return &IntegrityMismatchError{Key: key, Stored: cs.Quantity, Held: true}
	}
	return nil
}

func (a *Aggregate) compare(ctx context.Context, tx Tx, key StockKey) (IntegrityReport, CurrentStock, error) {
	batches, err := tx.LockBatches(ctx, key)
	if err != nil {
		return IntegrityReport{}, CurrentStock{}, fmt.Errorf("failed to lock batches for %s: %w", key, err)
	}
	computed := decimal.Zero
	for _, b := range batches {
		computed = computed.Add(b.Available())
	}
	cs, ok, err := tx.GetCurrentStock(ctx, key)
	if err != nil {
		return IntegrityReport{}, CurrentStock{}, fmt.Errorf("failed to read current stock for %s: %w", key, err)
	}
	if !ok {
		cs = CurrentStock{ItemID: key.ItemID, LocationID: key.LocationID, Quantity: decimal.Zero}
	}
	return IntegrityReport{
		Key:      key,
		Stored:   cs.Quantity,
		Computed: computed,
		Diverged: !cs.Quantity.Equal(computed),
		Held:     cs.Hold,
	}, cs, nil
}

// VerifyTx compares the row with its batches and places the key on hold when they diverge.
// The hold must be committed, so a divergence is reported in the result rather than as an error.
func (a *Aggregate) VerifyTx(ctx context.Context, tx Tx, key StockKey) (IntegrityReport, error) {
	report, cs, err := a.compare(ctx, tx, key)
	if err != nil {
		return IntegrityReport{}, err
	}
	if !report.Diverged {
		return report, nil
	}
	a.metrics.mismatch()
	a.log.WithFields(logrus.Fields{
		"item_id":     key.ItemID,
		"location_id": key.LocationID,
		"stored":      report.Stored.String(),
		"computed":    report.Computed.String(),
	}).Error("current stock diverges from ledger; key placed on hold")
	cs.Hold = true
	cs.UpdatedAt = a.now().UTC()
	if err := tx.SaveCurrentStock(ctx, cs); err != nil {
		return IntegrityReport{}, fmt.Errorf("failed to hold current stock for %s: %w", key, err)
	}
	report.Held = true
	return report, nil
}

// RecomputeTx rebuilds the row from its batches and clears any hold.
func (a *Aggregate) RecomputeTx(ctx context.Context, tx Tx, key StockKey) (IntegrityReport, error) {
	report, cs, err := a.compare(ctx, tx, key)
	if err != nil {
		return IntegrityReport{}, err
	}
	if report.Diverged {
		a.metrics.mismatch()
		a.log.WithFields(logrus.Fields{
			"item_id":     key.ItemID,
			"location_id": key.LocationID,
			"stored":      report.Stored.String(),
			"computed":    report.Computed.String(),
		}).Error("current stock diverged from ledger; row rebuilt")
	}
	cs.Quantity = report.Computed
	cs.Hold = false
	cs.UpdatedAt = a.now().UTC()
	if err := tx.SaveCurrentStock(ctx, cs); err != nil {
		return IntegrityReport{}, fmt.Errorf("failed to save recomputed stock for %s: %w", key, err)
	}
	report.Held = false
	return report, nil
}

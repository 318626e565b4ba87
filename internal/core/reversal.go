package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Reverser applies and undoes the ledger effect of usage and mutation records.
// Reversal credits exactly what the recorded allocations took, so reverse followed by
// apply on unchanged lines reproduces the prior ledger state.
type Reverser struct {
	ledger  *Ledger
	alloc   *Allocator
	log     logrus.FieldLogger
	metrics *Metrics
}

// NewReverser constructs a Reverser.
func NewReverser(ledger *Ledger, alloc *Allocator, log logrus.FieldLogger, metrics *Metrics) *Reverser {
	return &Reverser{ledger: ledger, alloc: alloc, log: log, metrics: metrics}
}

// ── Usage ─────────────────────────────────────────────────────────────────────

// ApplyUsage allocates every detail of u FIFO as of the usage date and marks u debited.
// It is a no-op for a usage that is already debited.
func (r *Reverser) ApplyUsage(ctx context.Context, tx Tx, u *Usage) error {
	if u.Debited {
		return nil
	}
	if err := r.alloc.Prepare(ctx, tx, u.Keys(), u.UsageDate); err != nil {
		return err
	}
	for i := range u.Details {
		d := &u.Details[i]
		key := StockKey{ItemID: d.ItemID, LocationID: u.LocationID}
		plan, err := r.alloc.Allocate(ctx, tx, key, d.ConvertedQuantity, u.UsageDate, ColumnUsed, "usage")
		if err != nil {
			return fmt.Errorf("line %d: %w", d.LineNumber, err)
		}
		d.Allocations = plan.Allocations()
	}
	u.Debited = true
	return nil
}

// ReverseUsage credits every recorded allocation of u back to its batch and clears them.
// A usage that was never debited has nothing to undo.
func (r *Reverser) ReverseUsage(ctx context.Context, tx Tx, u *Usage) error {
	if !u.Debited {
		return nil
	}
	if err := r.alloc.LockKeys(ctx, tx, u.Keys()); err != nil {
		return err
	}
	for i := range u.Details {
		d := &u.Details[i]
		for _, a := range d.Allocations {
			if _, err := r.ledger.Credit(ctx, tx, a.BatchID, a.Quantity, ColumnUsed); err != nil {
				return fmt.Errorf("failed to reverse usage %d line %d: %w", u.ID, d.LineNumber, err)
			}
		}
		d.Allocations = nil
	}
	u.Debited = false
	r.metrics.reversed("usage")
	r.log.WithFields(logrus.Fields{"usage_id": u.ID, "number": u.Number}).Info("usage ledger effect reversed")
	return nil
}

// RedoUsage replaces the details of u, reversing the old allocations first and
// re-applying against the restored ledger when u was debited. The new keys are
// date and hold checked before anything is locked or reversed.
func (r *Reverser) RedoUsage(ctx context.Context, tx Tx, u *Usage, details []UsageDetail, date time.Time) error {
	wasDebited := u.Debited
	next := &Usage{LocationID: u.LocationID, Details: details}
	if wasDebited {
		if err := r.alloc.Check(ctx, tx, next.Keys(), date); err != nil {
			return err
		}
	}
	if err := r.alloc.LockKeys(ctx, tx, append(u.Keys(), next.Keys()...)); err != nil {
		return err
	}
	if err := r.ReverseUsage(ctx, tx, u); err != nil {
		return err
	}
	u.Details = details
	u.UsageDate = DateOnly(date)
	if !wasDebited {
		return nil
	}
	return r.ApplyUsage(ctx, tx, u)
}

// ── Mutation ──────────────────────────────────────────────────────────────────

// ReverseMutation undoes every batch move of m. Destination batches must be untouched;
// they are removed and the source batches get their quantity_mutated credited back.
func (r *Reverser) ReverseMutation(ctx context.Context, tx Tx, m *Mutation) error {
	if err := r.alloc.LockKeys(ctx, tx, m.Keys()); err != nil {
		return err
	}
	for i := range m.Lines {
		line := &m.Lines[i]
		for _, it := range line.Items {
			dest, err := r.ledger.lockLive(ctx, tx, it.DestinationBatchID)
			if err != nil {
				return fmt.Errorf("mutation %d line %d: destination %w", m.ID, line.LineNumber, err)
			}
			if err := r.ledger.retire(ctx, tx, dest); err != nil {
				return fmt.Errorf("mutation %d line %d: %w", m.ID, line.LineNumber, err)
			}
			if _, err := r.ledger.Credit(ctx, tx, it.SourceBatchID, it.Quantity, ColumnMutated); err != nil {
				return fmt.Errorf("mutation %d line %d: %w", m.ID, line.LineNumber, err)
			}
		}
		line.Items = nil
	}
	r.metrics.reversed("mutation")
	r.log.WithFields(logrus.Fields{"mutation_id": m.ID, "number": m.Number}).Info("mutation ledger effect reversed")
	return nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ximopet/internal/core"
)

// tx is a core.Tx over a private state copy. Locks are implicit: the Store mutex
// is held for the whole transaction.
type tx struct {
	st *state
}

var _ core.Tx = (*tx)(nil)

func (t *tx) Conversions(_ context.Context, itemID int64) (core.ConversionTable, error) {
	return t.st.conversionsFor(itemID)
}

// ── Batches ───────────────────────────────────────────────────────────────────

func (t *tx) InsertBatch(_ context.Context, b *core.StockBatch) error {
	if err := b.CheckInvariant(); err != nil {
		return err
	}
	b.ID = t.st.nextID()
	t.st.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (t *tx) GetBatch(_ context.Context, id int64) (core.StockBatch, error) {
	b, ok := t.st.batches[id]
	if !ok {
		return core.StockBatch{}, fmt.Errorf("%w: batch %d", core.ErrNotFound, id)
	}
	return cloneBatch(b), nil
}

func (t *tx) LockBatches(_ context.Context, key core.StockKey) ([]core.StockBatch, error) {
	return t.st.liveBatches(key), nil
}

func (t *tx) LockBatchesByID(_ context.Context, ids []int64) ([]core.StockBatch, error) {
	var out []core.StockBatch
	for _, id := range ids {
		if b, ok := t.st.batches[id]; ok {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) UpdateBatch(_ context.Context, b core.StockBatch) error {
	old, ok := t.st.batches[b.ID]
	if !ok {
		return fmt.Errorf("%w: batch %d", core.ErrNotFound, b.ID)
	}
	if !old.QuantityIn.Equal(b.QuantityIn) {
		return fmt.Errorf("batch %d: quantity_in is immutable", b.ID)
	}
	if err := b.CheckInvariant(); err != nil {
		return err
	}
	t.st.batches[b.ID] = cloneBatch(b)
	return nil
}

func (t *tx) EarliestBatchDate(_ context.Context, key core.StockKey) (time.Time, bool, error) {
	var earliest time.Time
	found := false
	for _, b := range t.st.batches {
		if b.Key() != key || b.DeletedAt != nil {
			continue
		}
		if !found || b.BatchDate.Before(earliest) {
			earliest = b.BatchDate
			found = true
		}
	}
	return earliest, found, nil
}

func (t *tx) SumAvailable(_ context.Context, key core.StockKey, asOf *time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range t.st.batches {
		if b.Key() != key || b.DeletedAt != nil {
			continue
		}
		if asOf != nil && b.BatchDate.After(*asOf) {
			continue
		}
		total = total.Add(b.Available())
	}
	return total, nil
}

func (t *tx) CountBatchReferences(_ context.Context, batchID int64) (int, error) {
	n := 0
	for _, u := range t.st.usages {
		if u.DeletedAt != nil {
			continue
		}
		for _, d := range u.Details {
			for _, a := range d.Allocations {
				if a.BatchID == batchID {
					n++
				}
			}
		}
	}
	for _, m := range t.st.mutations {
		if m.DeletedAt != nil {
			continue
		}
		for _, it := range m.Items() {
			if it.SourceBatchID == batchID || it.DestinationBatchID == batchID {
				n++
			}
		}
	}
	return n, nil
}

// ── Current stock ─────────────────────────────────────────────────────────────

func (t *tx) GetCurrentStock(_ context.Context, key core.StockKey) (core.CurrentStock, bool, error) {
	cs, ok := t.st.stocks[key]
	return cs, ok, nil
}

func (t *tx) AdjustCurrentStock(_ context.Context, key core.StockKey, delta decimal.Decimal) error {
	cs, ok := t.st.stocks[key]
	if !ok {
		cs = core.CurrentStock{ItemID: key.ItemID, LocationID: key.LocationID, Quantity: decimal.Zero}
	}
	cs.Quantity = cs.Quantity.Add(delta)
	cs.UpdatedAt = time.Now().UTC()
	t.st.stocks[key] = cs
	return nil
}

func (t *tx) SaveCurrentStock(_ context.Context, cs core.CurrentStock) error {
	cs.UpdatedAt = ensureTime(cs.UpdatedAt)
	t.st.stocks[cs.Key()] = cs
	return nil
}

// ── Usage ─────────────────────────────────────────────────────────────────────

func (t *tx) InsertUsage(_ context.Context, u *core.Usage) error {
	u.ID = t.st.nextID()
	t.assignDetailIDs(u)
	t.st.usages[u.ID] = cloneUsage(u)
	return nil
}

func (t *tx) LockUsage(_ context.Context, id int64) (*core.Usage, error) {
	u, ok := t.st.usages[id]
	if !ok {
		return nil, fmt.Errorf("%w: usage %d", core.ErrNotFound, id)
	}
	return cloneUsage(u), nil
}

// UpdateUsage writes the header fields; details are written by ReplaceUsageDetails.
func (t *tx) UpdateUsage(_ context.Context, u *core.Usage) error {
	old, ok := t.st.usages[u.ID]
	if !ok {
		return fmt.Errorf("%w: usage %d", core.ErrNotFound, u.ID)
	}
	next := cloneUsage(u)
	next.Details = old.Details
	t.st.usages[u.ID] = next
	return nil
}

func (t *tx) ReplaceUsageDetails(_ context.Context, u *core.Usage) error {
	old, ok := t.st.usages[u.ID]
	if !ok {
		return fmt.Errorf("%w: usage %d", core.ErrNotFound, u.ID)
	}
	t.assignDetailIDs(u)
	old.Details = cloneDetails(u.Details)
	return nil
}

func (t *tx) DeleteUsage(_ context.Context, id int64, at time.Time) error {
	u, ok := t.st.usages[id]
	if !ok {
		return fmt.Errorf("%w: usage %d", core.ErrNotFound, id)
	}
	u.DeletedAt = &at
	return nil
}

func (t *tx) InsertStatusChange(_ context.Context, c *core.StatusChange) error {
	c.ID = t.st.nextID()
	t.st.history[c.UsageID] = append(t.st.history[c.UsageID], *c)
	return nil
}

func (t *tx) assignDetailIDs(u *core.Usage) {
	for i := range u.Details {
		u.Details[i].ID = t.st.nextID()
		u.Details[i].UsageID = u.ID
	}
}

// ── Mutation ──────────────────────────────────────────────────────────────────

func (t *tx) InsertMutation(_ context.Context, m *core.Mutation) error {
	m.ID = t.st.nextID()
	t.assignLineIDs(m)
	t.st.mutations[m.ID] = cloneMutation(m)
	return nil
}

func (t *tx) LockMutation(_ context.Context, id int64) (*core.Mutation, error) {
	m, ok := t.st.mutations[id]
	if !ok {
		return nil, fmt.Errorf("%w: mutation %d", core.ErrNotFound, id)
	}
	return cloneMutation(m), nil
}

func (t *tx) UpdateMutation(_ context.Context, m *core.Mutation) error {
	old, ok := t.st.mutations[m.ID]
	if !ok {
		return fmt.Errorf("%w: mutation %d", core.ErrNotFound, m.ID)
	}
	next := cloneMutation(m)
	next.Lines = old.Lines
	t.st.mutations[m.ID] = next
	return nil
}

func (t *tx) ReplaceMutationLines(_ context.Context, m *core.Mutation) error {
	old, ok := t.st.mutations[m.ID]
	if !ok {
		return fmt.Errorf("%w: mutation %d", core.ErrNotFound, m.ID)
	}
	t.assignLineIDs(m)
	old.Lines = cloneLines(m.Lines)
	return nil
}

func (t *tx) DeleteMutation(_ context.Context, id int64, at time.Time) error {
	m, ok := t.st.mutations[id]
	if !ok {
		return fmt.Errorf("%w: mutation %d", core.ErrNotFound, id)
	}
	m.DeletedAt = &at
	return nil
}

func (t *tx) assignLineIDs(m *core.Mutation) {
	for i := range m.Lines {
		m.Lines[i].ID = t.st.nextID()
		m.Lines[i].MutationID = m.ID
		for j := range m.Lines[i].Items {
			m.Lines[i].Items[j].ID = t.st.nextID()
		}
	}
}

// ── Numbering ─────────────────────────────────────────────────────────────────

func (t *tx) NextDocumentNumber(_ context.Context, kind core.DocumentKind, year int) (string, error) {
	k := seqKey{kind: kind, year: year}
	t.st.sequences[k]++
	return core.FormatDocumentNumber(kind, year, t.st.sequences[k]), nil
}

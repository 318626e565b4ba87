// Package memory provides an in-process transactional core.Store.
// A single mutex serialises transactions; each transaction works on a deep copy of
// the state that replaces the committed state only when the callback succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ximopet/internal/core"
)

type seqKey struct {
	kind core.DocumentKind
	year int
}

type state struct {
	conversions map[int64]core.ConversionTable
	batches     map[int64]core.StockBatch
	stocks      map[core.StockKey]core.CurrentStock
	usages      map[int64]*core.Usage
	history     map[int64][]core.StatusChange
	mutations   map[int64]*core.Mutation
	sequences   map[seqKey]int64
	lastID      int64
}

func newState() state {
	return state{
		conversions: map[int64]core.ConversionTable{},
		batches:     map[int64]core.StockBatch{},
		stocks:      map[core.StockKey]core.CurrentStock{},
		usages:      map[int64]*core.Usage{},
		history:     map[int64][]core.StatusChange{},
		mutations:   map[int64]*core.Mutation{},
		sequences:   map[seqKey]int64{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.conversions {
		c.conversions[k] = cloneConversions(v)
	}
	for k, v := range s.batches {
		c.batches[k] = cloneBatch(v)
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.usages {
		c.usages[k] = cloneUsage(v)
	}
	for k, v := range s.history {
		c.history[k] = append([]core.StatusChange(nil), v...)
	}
	for k, v := range s.mutations {
		c.mutations[k] = cloneMutation(v)
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	c.lastID = s.lastID
	return c
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store is the in-memory core.Store.
type Store struct {
	mu    sync.Mutex
	state state
}

var _ core.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// SetConversions registers an item's unit conversion table.
func (s *Store) SetConversions(table core.ConversionTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.conversions[table.ItemID] = cloneConversions(table)
}

// OverrideCurrentStock overwrites a cached balance without touching the batches.
// It exists to rehearse integrity repair.
func (s *Store) OverrideCurrentStock(key core.StockKey, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.state.stocks[key]
	cs.ItemID, cs.LocationID = key.ItemID, key.LocationID
	cs.Quantity = qty
	s.state.stocks[key] = cs
}

// WithTx runs fn against a private copy of the state and commits it if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&tx{st: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

func (s *Store) Conversions(_ context.Context, itemID int64) (core.ConversionTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.conversionsFor(itemID)
}

func (s *Store) GetUsage(_ context.Context, id int64) (*core.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.usages[id]
	if !ok || u.DeletedAt != nil {
		return nil, fmt.Errorf("%w: usage %d", core.ErrNotFound, id)
	}
	return cloneUsage(u), nil
}

func (s *Store) GetMutation(_ context.Context, id int64) (*core.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.mutations[id]
	if !ok || m.DeletedAt != nil {
		return nil, fmt.Errorf("%w: mutation %d", core.ErrNotFound, id)
	}
	return cloneMutation(m), nil
}

func (s *Store) ListUsageHistory(_ context.Context, usageID int64) ([]core.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.StatusChange(nil), s.state.history[usageID]...), nil
}

func (s *Store) ListBatches(_ context.Context, key core.StockKey) ([]core.StockBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.liveBatches(key), nil
}

func (s *Store) ListCurrentStock(_ context.Context, locationID int64) ([]core.CurrentStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CurrentStock
	for _, cs := range s.state.stocks {
		if locationID == 0 || cs.LocationID == locationID {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (s *Store) ListStockKeys(_ context.Context) ([]core.StockKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[core.StockKey]struct{}{}
	for _, b := range s.state.batches {
		seen[b.Key()] = struct{}{}
	}
	for k := range s.state.stocks {
		seen[k] = struct{}{}
	}
	keys := make([]core.StockKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

// ── State helpers ─────────────────────────────────────────────────────────────

func (s *state) conversionsFor(itemID int64) (core.ConversionTable, error) {
	t, ok := s.conversions[itemID]
	if !ok {
		return core.ConversionTable{}, fmt.Errorf("%w: item %d", core.ErrMissingConversion, itemID)
	}
	return cloneConversions(t), nil
}

func (s *state) liveBatches(key core.StockKey) []core.StockBatch {
	var out []core.StockBatch
	for _, b := range s.batches {
		if b.Key() == key && b.DeletedAt == nil {
			out = append(out, cloneBatch(b))
		}
	}
	core.SortFIFO(out)
	return out
}

func cloneConversions(t core.ConversionTable) core.ConversionTable {
	c := core.ConversionTable{ItemID: t.ItemID, Units: make(map[int64]core.UnitConversion, len(t.Units))}
	for k, v := range t.Units {
		c.Units[k] = v
	}
	return c
}

func cloneBatch(b core.StockBatch) core.StockBatch {
	if b.OriginMutationID != nil {
		id := *b.OriginMutationID
		b.OriginMutationID = &id
	}
	if b.DeletedAt != nil {
		at := *b.DeletedAt
		b.DeletedAt = &at
	}
	return b
}

func cloneUsage(u *core.Usage) *core.Usage {
	c := *u
	if u.SubLocationID != nil {
		id := *u.SubLocationID
		c.SubLocationID = &id
	}
	if u.DeletedAt != nil {
		at := *u.DeletedAt
		c.DeletedAt = &at
	}
	c.Details = cloneDetails(u.Details)
	return &c
}

func cloneDetails(in []core.UsageDetail) []core.UsageDetail {
	if in == nil {
		return nil
	}
	out := make([]core.UsageDetail, len(in))
	for i, d := range in {
		d.Allocations = append([]core.Allocation(nil), d.Allocations...)
		out[i] = d
	}
	return out
}

func cloneMutation(m *core.Mutation) *core.Mutation {
	c := *m
	if m.DeletedAt != nil {
		at := *m.DeletedAt
		c.DeletedAt = &at
	}
	c.Lines = cloneLines(m.Lines)
	return &c
}

func cloneLines(in []core.MutationLine) []core.MutationLine {
	if in == nil {
		return nil
	}
	out := make([]core.MutationLine, len(in))
	for i, l := range in {
		l.Items = append([]core.MutationItem(nil), l.Items...)
		out[i] = l
	}
	return out
}

func ensureTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

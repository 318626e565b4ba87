package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MasterData resolves item unit conversion tables. The engine requires presence only.
type MasterData interface {
	Conversions(ctx context.Context, itemID int64) (ConversionTable, error)
}

// Reader holds the non-locking queries available outside a transaction.
type Reader interface {
	MasterData
	GetUsage(ctx context.Context, id int64) (*Usage, error)
	GetMutation(ctx context.Context, id int64) (*Mutation, error)
	ListUsageHistory(ctx context.Context, usageID int64) ([]StatusChange, error)
	ListBatches(ctx context.Context, key StockKey) ([]StockBatch, error)
	ListCurrentStock(ctx context.Context, locationID int64) ([]CurrentStock, error)
	ListStockKeys(ctx context.Context) ([]StockKey, error)
}

// Store is the persistence boundary of the engine.
// WithTx runs fn inside one atomic unit; any error returned by fn rolls back every write.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transaction-scoped persistence surface.
// Lock* methods hold exclusive row locks on the returned rows until the transaction ends.
type Tx interface {
	MasterData

	// Batches
	InsertBatch(ctx context.Context, b *StockBatch) error
	GetBatch(ctx context.Context, id int64) (StockBatch, error)
	// LockBatches returns the live batches of key in FIFO order.
	LockBatches(ctx context.Context, key StockKey) ([]StockBatch, error)
	// LockBatchesByID returns the given live or deleted batches ordered by id.
	LockBatchesByID(ctx context.Context, ids []int64) ([]StockBatch, error)
	UpdateBatch(ctx context.Context, b StockBatch) error
	EarliestBatchDate(ctx context.Context, key StockKey) (time.Time, bool, error)
	// SumAvailable sums live batch availability, restricted to batch_date <= asOf when asOf is set.
	SumAvailable(ctx context.Context, key StockKey, asOf *time.Time) (decimal.Decimal, error)
	CountBatchReferences(ctx context.Context, batchID int64) (int, error)

	// Current stock aggregate
	GetCurrentStock(ctx context.Context, key StockKey) (CurrentStock, bool, error)
	AdjustCurrentStock(ctx context.Context, key StockKey, delta decimal.Decimal) error
	SaveCurrentStock(ctx context.Context, cs CurrentStock) error

	// Usage records
	InsertUsage(ctx context.Context, u *Usage) error
	LockUsage(ctx context.Context, id int64) (*Usage, error)
	UpdateUsage(ctx context.Context, u *Usage) error
	// ReplaceUsageDetails deletes existing detail and allocation rows and writes u.Details.
	ReplaceUsageDetails(ctx context.Context, u *Usage) error
	DeleteUsage(ctx context.Context, id int64, at time.Time) error
	InsertStatusChange(ctx context.Context, c *StatusChange) error

	// Mutation records
	InsertMutation(ctx context.Context, m *Mutation) error
	LockMutation(ctx context.Context, id int64) (*Mutation, error)
	UpdateMutation(ctx context.Context, m *Mutation) error
	// ReplaceMutationLines deletes existing line and item rows and writes m.Lines.
	ReplaceMutationLines(ctx context.Context, m *Mutation) error
	DeleteMutation(ctx context.Context, id int64, at time.Time) error

	// NextDocumentNumber allocates a gapless number in the (kind, year) series.
	NextDocumentNumber(ctx context.Context, kind DocumentKind, year int) (string, error)
}

// FormatDocumentNumber renders a series number, e.g. USE-2024-00001.
func FormatDocumentNumber(kind DocumentKind, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%05d", kind, year, n)
}

func sortKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func loadConversions(ctx context.Context, md MasterData, lines []LineInput) (map[int64]ConversionTable, error) {
	tables := make(map[int64]ConversionTable)
	for _, l := range lines {
		if _, ok := tables[l.ItemID]; ok {
			continue
		}
		t, err := md.Conversions(ctx, l.ItemID)
		if err != nil {
			return nil, err
		}
		tables[l.ItemID] = t
	}
	return tables, nil
}

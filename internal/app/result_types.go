package app

import (
	"ximopet/internal/core"

	"github.com/shopspring/decimal"
)

// UsageResult is returned by usage operations.
type UsageResult struct {
	UsageID int64            `json:"usage_id"`
	Number  string           `json:"number"`
	Status  core.UsageStatus `json:"status"`
	Debited bool             `json:"debited"`
	Cost    decimal.Decimal  `json:"cost"`
	Usage   *core.Usage      `json:"usage"`
}

// HistoryResult is returned by UsageHistory.
type HistoryResult struct {
	UsageID int64               `json:"usage_id"`
	Changes []core.StatusChange `json:"changes"`
}

// MutationResult is returned by mutation operations.
type MutationResult struct {
	MutationID int64          `json:"mutation_id"`
	Number     string         `json:"number"`
	Mutation   *core.Mutation `json:"mutation"`
}

// ReceiptResult is returned by ReceiveStock.
type ReceiptResult struct {
	BatchID int64            `json:"batch_id"`
	Batch   *core.StockBatch `json:"batch"`
}

// StockResult is returned by GetStock.
type StockResult struct {
	LocationID int64               `json:"location_id"`
	Rows       []core.CurrentStock `json:"rows"`
}

// BatchView is a batch with its computed availability.
type BatchView struct {
	core.StockBatch
	Available decimal.Decimal `json:"available"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// BatchListResult is returned by ListBatches.
type BatchListResult struct {
	Key     core.StockKey `json:"key"`
	Batches []BatchView   `json:"batches"`
}

// IntegrityResult is returned by Verify, Recompute and VerifyAll.
type IntegrityResult struct {
	Reports  []core.IntegrityReport `json:"reports"`
	Diverged int                    `json:"diverged"`
}

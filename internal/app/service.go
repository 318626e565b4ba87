package app

import (
	"context"

	"ximopet/internal/core"
)

// ApplicationService is the submission boundary every adapter (CLI, Web) calls.
// Every returned error is a *Failure carrying a stable kind.
type ApplicationService interface {
	// ReceiveStock records a purchase receipt as a new batch.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*ReceiptResult, error)
	// VoidReceipt removes a receipt batch nothing has drawn from.
	VoidReceipt(ctx context.Context, batchID int64) error

	CreateUsage(ctx context.Context, req CreateUsageRequest) (*UsageResult, error)
	EditUsage(ctx context.Context, req EditUsageRequest) (*UsageResult, error)
	TransitionUsage(ctx context.Context, req TransitionUsageRequest) (*UsageResult, error)
	DeleteUsage(ctx context.Context, usageID int64) error
	GetUsage(ctx context.Context, usageID int64) (*UsageResult, error)
	UsageHistory(ctx context.Context, usageID int64) (*HistoryResult, error)

	CreateMutation(ctx context.Context, req CreateMutationRequest) (*MutationResult, error)
	EditMutation(ctx context.Context, req EditMutationRequest) (*MutationResult, error)
	DeleteMutation(ctx context.Context, mutationID int64) error
	GetMutation(ctx context.Context, mutationID int64) (*MutationResult, error)

	// GetStock returns cached balances for a location, or all locations when 0.
	GetStock(ctx context.Context, locationID int64) (*StockResult, error)
	ListBatches(ctx context.Context, itemID, locationID int64) (*BatchListResult, error)
	PreviewAllocation(ctx context.Context, req PreviewAllocationRequest) (*core.Plan, error)

	// Verify checks one key and places it on hold when it diverges.
	Verify(ctx context.Context, itemID, locationID int64) (*IntegrityResult, error)
	// Recompute rebuilds one key from its batches and lifts any hold.
	Recompute(ctx context.Context, itemID, locationID int64) (*IntegrityResult, error)
	VerifyAll(ctx context.Context) (*IntegrityResult, error)

	// TransitionRules returns the workflow allow-list in effect.
	TransitionRules() []core.TransitionRule
}

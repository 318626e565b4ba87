package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UsageStatus is the workflow state of a usage record.
type UsageStatus string

const (
	UsageDraft     UsageStatus = "draft"
	UsagePending   UsageStatus = "pending"
	UsageInProcess UsageStatus = "in_process"
	UsageCompleted UsageStatus = "completed"
	UsageCancelled UsageStatus = "cancelled"
	UsageRejected  UsageStatus = "rejected"
)

// AllUsageStatuses lists every status in workflow order.
var AllUsageStatuses = []UsageStatus{
	UsageDraft, UsagePending, UsageInProcess, UsageCompleted, UsageCancelled, UsageRejected,
}

// ParseUsageStatus converts a stored or submitted status string.
func ParseUsageStatus(s string) (UsageStatus, error) {
	st := UsageStatus(s)
	switch st {
	case UsageDraft, UsagePending, UsageInProcess, UsageCompleted, UsageCancelled, UsageRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown usage status %q", s)
}

// Role is the requester role used by the transition allow-list.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
)

// ParseRole converts a submitted role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleOperator, RoleSupervisor, RoleManager:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// BatchOrigin records how a stock batch came into existence.
type BatchOrigin string

const (
	OriginPurchase BatchOrigin = "purchase"
	OriginMutation BatchOrigin = "mutation"
)

// LedgerColumn selects which consumed counter of a batch an operation touches.
type LedgerColumn string

const (
	ColumnUsed    LedgerColumn = "quantity_used"
	ColumnMutated LedgerColumn = "quantity_mutated"
)

// DocumentKind is the numbering series of a record.
type DocumentKind string

const (
	DocumentUsage    DocumentKind = "USE"
	DocumentMutation DocumentKind = "MUT"
)

// StockKey identifies one (item, location) ledger partition.
type StockKey struct {
	ItemID     int64 `json:"item_id"`
	LocationID int64 `json:"location_id"`
}

func (k StockKey) String() string {
	return fmt.Sprintf("item=%d location=%d", k.ItemID, k.LocationID)
}

// Less orders keys by item, then location. Locks are always taken in this order.
func (k StockKey) Less(o StockKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.LocationID < o.LocationID
}

// StockBatch is one dated lot of an item at a location.
// QuantityIn never changes after creation; QuantityUsed and QuantityMutated only move
// through ledger debit/credit and must satisfy 0 <= used+mutated <= in.
type StockBatch struct {
	ID               int64           `json:"id"`
	ItemID           int64           `json:"item_id"`
	LocationID       int64           `json:"location_id"`
	BatchDate        time.Time       `json:"batch_date"`
	ReceivedAt       time.Time       `json:"received_at"`
	QuantityIn       decimal.Decimal `json:"quantity_in"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
	QuantityMutated  decimal.Decimal `json:"quantity_mutated"`
	Amount           decimal.Decimal `json:"amount"` // total cost of QuantityIn
	Origin           BatchOrigin     `json:"origin"`
	OriginMutationID *int64          `json:"origin_mutation_id,omitempty"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// Key returns the ledger partition of the batch.
func (b StockBatch) Key() StockKey {
	return StockKey{ItemID: b.ItemID, LocationID: b.LocationID}
}

// Available is QuantityIn - QuantityUsed - QuantityMutated.
func (b StockBatch) Available() decimal.Decimal {
	return b.QuantityIn.Sub(b.QuantityUsed).Sub(b.QuantityMutated)
}

// UnitCost is Amount / QuantityIn.
func (b StockBatch) UnitCost() decimal.Decimal {
	if b.QuantityIn.IsZero() {
		return decimal.Zero
	}
	return b.Amount.Div(b.QuantityIn)
}

// Untouched reports whether nothing has been drawn from the batch.
func (b StockBatch) Untouched() bool {
	return b.QuantityUsed.IsZero() && b.QuantityMutated.IsZero()
}

// CheckInvariant verifies 0 <= used+mutated <= in.
func (b StockBatch) CheckInvariant() error {
	drawn := b.QuantityUsed.Add(b.QuantityMutated)
	if b.QuantityUsed.IsNegative() || b.QuantityMutated.IsNegative() || drawn.GreaterThan(b.QuantityIn) {
		return fmt.Errorf("%w: batch %d in=%s used=%s mutated=%s",
			ErrInsufficientAvailable, b.ID, b.QuantityIn, b.QuantityUsed, b.QuantityMutated)
	}
	return nil
}

// Allocation is one (batch, quantity) entry drawn by a usage detail.
type Allocation struct {
	BatchID  int64           `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Value is Quantity * UnitCost.
func (a Allocation) Value() decimal.Decimal {
	return a.Quantity.Mul(a.UnitCost)
}

// UsageDetail is one line item of a usage record.
type UsageDetail struct {
	ID                int64           `json:"id"`
	UsageID           int64           `json:"usage_id"`
	LineNumber        int             `json:"line_number"`
	ItemID            int64           `json:"item_id"`
	UnitID            int64           `json:"unit_id"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"` // in UnitID
	ConvertedQuantity decimal.Decimal `json:"converted_quantity"` // in the item's smallest unit
	Allocations       []Allocation    `json:"allocations"`
}

// AllocatedQuantity sums the quantities taken across the detail's allocations.
func (d UsageDetail) AllocatedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Allocations {
		total = total.Add(a.Quantity)
	}
	return total
}

// Cost sums allocation values.
func (d UsageDetail) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Allocations {
		total = total.Add(a.Value())
	}
	return total
}

// Usage is one consumption event at a location.
// Debited is true while the record's allocations are applied to the ledger.
type Usage struct {
	ID            int64         `json:"id"`
	Number        string        `json:"number"`
	LocationID    int64         `json:"location_id"`
	SubLocationID *int64        `json:"sub_location_id,omitempty"`
	UsageDate     time.Time     `json:"usage_date"`
	Status        UsageStatus   `json:"status"`
	Debited       bool          `json:"debited"`
	Notes         string        `json:"notes"`
	CreatedBy     string        `json:"created_by"`
	Details       []UsageDetail `json:"details"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
}

// Keys returns the distinct ledger partitions touched by the usage, lock-ordered.
func (u *Usage) Keys() []StockKey {
	seen := make(map[StockKey]struct{}, len(u.Details))
	var keys []StockKey
	for _, d := range u.Details {
		k := StockKey{ItemID: d.ItemID, LocationID: u.LocationID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Cost sums the allocation values of every detail.
func (u *Usage) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, d := range u.Details {
		total = total.Add(d.Cost())
	}
	return total
}

// StatusChange is one row of a usage's workflow history.
type StatusChange struct {
	ID        int64        `json:"id"`
	UsageID   int64        `json:"usage_id"`
	From      UsageStatus  `json:"from"`
	To        UsageStatus  `json:"to"`
	Role      Role         `json:"role"`
	Actor     string       `json:"actor"`
	Reason    string       `json:"reason"`
	Effect    LedgerEffect `json:"effect"`
	CreatedAt time.Time    `json:"created_at"`
}

// MutationItem links one source batch drawn by a transfer to the destination batch it created.
type MutationItem struct {
	ID                 int64           `json:"id"`
	LineNumber         int             `json:"line_number"`
	ItemID             int64           `json:"item_id"`
	SourceBatchID      int64           `json:"source_batch_id"`
	DestinationBatchID int64           `json:"destination_batch_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	Value              decimal.Decimal `json:"value"`
}

// MutationLine is one requested item of a mutation with the batch moves it produced.
type MutationLine struct {
	ID                int64           `json:"id"`
	MutationID        int64           `json:"mutation_id"`
	LineNumber        int             `json:"line_number"`
	ItemID            int64           `json:"item_id"`
	UnitID            int64           `json:"unit_id"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity"`
	Items             []MutationItem  `json:"items"`
}

// Mutation transfers stock from one location to another on a date.
type Mutation struct {
	ID                    int64          `json:"id"`
	Number                string         `json:"number"`
	SourceLocationID      int64          `json:"source_location_id"`
	DestinationLocationID int64          `json:"destination_location_id"`
	MutationDate          time.Time      `json:"mutation_date"`
	Notes                 string         `json:"notes"`
	CreatedBy             string         `json:"created_by"`
	Lines                 []MutationLine `json:"lines"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             *time.Time     `json:"deleted_at,omitempty"`
}

// Items flattens the batch moves of every line.
func (m *Mutation) Items() []MutationItem {
	var items []MutationItem
	for _, l := range m.Lines {
		items = append(items, l.Items...)
	}
	return items
}

// Keys returns the source and destination partitions touched by the mutation, lock-ordered.
func (m *Mutation) Keys() []StockKey {
	seen := make(map[StockKey]struct{})
	var keys []StockKey
	for _, l := range m.Lines {
		for _, k := range []StockKey{
			{ItemID: l.ItemID, LocationID: m.SourceLocationID},
			{ItemID: l.ItemID, LocationID: m.DestinationLocationID},
		} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

func (m *Mutation) sourceKeys() []StockKey {
	keys := make([]StockKey, 0, len(m.Lines))
	for _, l := range m.Lines {
		keys = append(keys, StockKey{ItemID: l.ItemID, LocationID: m.SourceLocationID})
	}
	return keys
}

// CurrentStock is the cached running balance of one (item, location).
// Hold is set when a verification found the row diverging from the batches;
// allocation against the key is refused until Recompute clears it.
type CurrentStock struct {
	ItemID     int64           `json:"item_id"`
	LocationID int64           `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Hold       bool            `json:"hold"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Key returns the ledger partition of the row.
func (c CurrentStock) Key() StockKey {
	return StockKey{ItemID: c.ItemID, LocationID: c.LocationID}
}

// LineInput is one submitted line item before unit conversion.
type LineInput struct {
	ItemID   int64
	UnitID   int64
	Quantity decimal.Decimal
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package app

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Dates are submitted as YYYY-MM-DD.
const dateLayout = "2006-01-02"

// Amount is a decimal submitted as a JSON string or number. Parsing happens
// when the request is handled so a malformed value fails as InvalidQuantity.
type Amount string

// NewAmount returns d as an Amount.
func NewAmount(d decimal.Decimal) Amount { return Amount(d.String()) }

// UnmarshalJSON keeps the raw text of a quoted or bare value.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*a = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*a = Amount(s)
	return nil
}

// LineRequest is one submitted line item. Quantity is expressed in UnitID.
type LineRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	UnitID   int64  `json:"unit_id" validate:"required,gt=0"`
	Quantity Amount `json:"quantity"`
}

// ReceiveStockRequest records a purchase receipt.
type ReceiveStockRequest struct {
	ItemID     int64  `json:"item_id" validate:"required,gt=0"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	UnitID     int64  `json:"unit_id" validate:"required,gt=0"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity   Amount `json:"quantity"`
	UnitPrice  Amount `json:"unit_price"`
}

// CreateUsageRequest records a consumption event. When Status is set the record is
// created in draft and transitioned to Status in the same transaction.
type CreateUsageRequest struct {
	LocationID    int64         `json:"location_id" validate:"required,gt=0"`
	SubLocationID *int64        `json:"sub_location_id,omitempty" validate:"omitempty,gt=0"`
	Date          string        `json:"date" validate:"required,datetime=2006-01-02"`
	Notes         string        `json:"notes,omitempty" validate:"max=1000"`
	CreatedBy     string        `json:"created_by,omitempty" validate:"max=100"`
	Status        string        `json:"status,omitempty" validate:"omitempty,oneof=draft pending in_process completed cancelled rejected"`
	Role          string        `json:"role,omitempty" validate:"omitempty,oneof=operator supervisor manager"`
	Lines         []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// EditUsageRequest replaces the lines of a usage record.
type EditUsageRequest struct {
	UsageID       int64         `json:"-" validate:"required,gt=0"`
	SubLocationID *int64        `json:"sub_location_id,omitempty" validate:"omitempty,gt=0"`
	Date          string        `json:"date" validate:"required,datetime=2006-01-02"`
	Notes         string        `json:"notes,omitempty" validate:"max=1000"`
	Lines         []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// TransitionUsageRequest moves a usage record through the workflow.
// Reason carries the cancellation or rejection note.
type TransitionUsageRequest struct {
	UsageID       int64  `json:"-" validate:"required,gt=0"`
	Status        string `json:"status" validate:"required,oneof=draft pending in_process completed cancelled rejected"`
	Role          string `json:"role" validate:"required,oneof=operator supervisor manager"`
	Actor         string `json:"actor,omitempty" validate:"max=100"`
	Reason        string `json:"reason,omitempty" validate:"max=1000"`
	SubLocationID *int64 `json:"sub_location_id,omitempty" validate:"omitempty,gt=0"`
}

// CreateMutationRequest transfers stock between two locations.
type CreateMutationRequest struct {
	SourceLocationID      int64         `json:"source_location_id" validate:"required,gt=0"`
	DestinationLocationID int64         `json:"destination_location_id" validate:"required,gt=0,nefield=SourceLocationID"`
	Date                  string        `json:"date" validate:"required,datetime=2006-01-02"`
	Notes                 string        `json:"notes,omitempty" validate:"max=1000"`
	CreatedBy             string        `json:"created_by,omitempty" validate:"max=100"`
	Lines                 []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// EditMutationRequest replaces the date and lines of a mutation.
type EditMutationRequest struct {
	MutationID int64         `json:"-" validate:"required,gt=0"`
	Date       string        `json:"date" validate:"required,datetime=2006-01-02"`
	Notes      string        `json:"notes,omitempty" validate:"max=1000"`
	Lines      []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// PreviewAllocationRequest plans a FIFO allocation without applying it.
type PreviewAllocationRequest struct {
	ItemID     int64  `json:"item_id" validate:"required,gt=0"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity   Amount `json:"quantity"`
}

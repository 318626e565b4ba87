package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind is the stable name of an engine failure reported across the submission boundary.
type ErrorKind string

const (
	KindInvalidQuantity       ErrorKind = "InvalidQuantity"
	KindInsufficientStock     ErrorKind = "InsufficientStock"
	KindInsufficientAvailable ErrorKind = "InsufficientAvailable"
	KindInvalidTransition     ErrorKind = "InvalidTransition"
	KindMissingSubLocation    ErrorKind = "MissingSubLocation"
	KindDateOutOfRange        ErrorKind = "DateOutOfRange"
	KindIntegrityMismatch     ErrorKind = "IntegrityMismatch"
	KindMissingConversion     ErrorKind = "MissingConversion"
	KindNotFound              ErrorKind = "NotFound"
	KindNotEditable           ErrorKind = "NotEditable"
	KindBatchReferenced       ErrorKind = "BatchReferenced"
	KindValidation            ErrorKind = "Validation"
	KindInternal              ErrorKind = "Internal"
)

var (
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientAvailable = errors.New("insufficient available quantity on batch")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrMissingSubLocation    = errors.New("sub-location is required to complete a usage")
	ErrDateOutOfRange        = errors.New("date out of range")
	ErrIntegrityMismatch     = errors.New("current stock diverges from ledger")
	ErrMissingConversion     = errors.New("unit conversion not found")
	ErrNotFound              = errors.New("not found")
	ErrNotEditable           = errors.New("record cannot be edited in its current status")
	ErrBatchReferenced       = errors.New("batch is referenced by usage or mutation records")
	ErrValidation            = errors.New("validation failed")
)

// InsufficientStockError reports a FIFO plan that could not cover the requested quantity.
type InsufficientStockError struct {
	ItemID     int64
	LocationID int64
	Requested  decimal.Decimal
	Available  decimal.Decimal
	Shortage   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d at location %d: requested %s, available %s, shortage %s",
		e.ItemID, e.LocationID, e.Requested, e.Available, e.Shortage)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// TransitionError reports a workflow transition rejected by the allow-list.
type TransitionError struct {
	From UsageStatus
	To   UsageStatus
	Role Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for role %s", e.From, e.To, e.Role)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DateOutOfRangeError reports an operation dated before the stock it draws from.
type DateOutOfRangeError struct {
	Key      StockKey
	Date     string
	Earliest string
}

func (e *DateOutOfRangeError) Error() string {
	return fmt.Sprintf("date %s precedes earliest batch %s for %s", e.Date, e.Earliest, e.Key)
}

func (e *DateOutOfRangeError) Is(target error) bool { return target == ErrDateOutOfRange }

// IntegrityMismatchError reports a current-stock row that disagrees with its batches,
// or an allocation refused because the key is on hold.
type IntegrityMismatchError struct {
	Key      StockKey
	Stored   decimal.Decimal
	Computed decimal.Decimal
	Held     bool
}

func (e *IntegrityMismatchError) Error() string {
	if e.Held {
		return fmt.Sprintf("allocation blocked for %s: current stock is on integrity hold", e.Key)
	}
	return fmt.Sprintf("current stock for %s is %s but batches sum to %s", e.Key, e.Stored, e.Computed)
}

func (e *IntegrityMismatchError) Is(target error) bool { return target == ErrIntegrityMismatch }

// KindOf maps an error chain to its ErrorKind. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuantity):
		return KindInvalidQuantity
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInsufficientAvailable):
		return KindInsufficientAvailable
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrMissingSubLocation):
		return KindMissingSubLocation
	case errors.Is(err, ErrDateOutOfRange):
		return KindDateOutOfRange
	case errors.Is(err, ErrIntegrityMismatch):
		return KindIntegrityMismatch
	case errors.Is(err, ErrMissingConversion):
		return KindMissingConversion
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotEditable):
		return KindNotEditable
	case errors.Is(err, ErrBatchReferenced):
		return KindBatchReferenced
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindInternal
}

func invalidQuantity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuantity, fmt.Sprintf(format, args...))
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

package app

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"ximopet/internal/core"
)

// Failure is the structured error returned across the submission boundary.
type Failure struct {
	Kind    core.ErrorKind `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.err }

// AsFailure converts any error into a *Failure. nil stays nil.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	out := &Failure{Kind: core.KindOf(err), Message: err.Error(), err: err}

	var shortage *core.InsufficientStockError
	var transition *core.TransitionError
	var date *core.DateOutOfRangeError
	var integrity *core.IntegrityMismatchError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &shortage):
		out.Details = map[string]any{
			"item_id":     shortage.ItemID,
			"location_id": shortage.LocationID,
			"requested":   shortage.Requested.String(),
			"available":   shortage.Available.String(),
			"shortage":    shortage.Shortage.String(),
		}
	case errors.As(err, &transition):
		out.Details = map[string]any{
			"from": transition.From,
			"to":   transition.To,
			"role": transition.Role,
		}
	case errors.As(err, &date):
		out.Details = map[string]any{
			"date":     date.Date,
			"earliest": date.Earliest,
		}
	case errors.As(err, &integrity):
		out.Details = map[string]any{
			"item_id":     integrity.Key.ItemID,
			"location_id": integrity.Key.LocationID,
			"stored":      integrity.Stored.String(),
			"held":        integrity.Held,
		}
		if !integrity.Held {
			out.Details["computed"] = integrity.Computed.String()
		}
	case errors.As(err, &verrs):
		out.Kind = core.KindValidation
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		out.Details = map[string]any{"fields": fields}
	}
	if out.Kind == core.KindInternal {
		out.Message = "internal error"
	}
	return out
}

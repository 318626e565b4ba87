package core

import "fmt"

// LedgerEffect is what a workflow transition does to the stock ledger.
type LedgerEffect int

const (
	EffectNone LedgerEffect = iota
	EffectDebit
	EffectCredit
)

func (e LedgerEffect) String() string {
	switch e {
	case EffectDebit:
		return "debit"
	case EffectCredit:
		return "credit"
	}
	return "none"
}

// ParseLedgerEffect converts a stored effect name.
func ParseLedgerEffect(s string) (LedgerEffect, error) {
	switch s {
	case "none", "":
		return EffectNone, nil
	case "debit":
		return EffectDebit, nil
	case "credit":
		return EffectCredit, nil
	}
	return EffectNone, fmt.Errorf("unknown ledger effect %q", s)
}

func (e LedgerEffect) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *LedgerEffect) UnmarshalText(b []byte) error {
	v, err := ParseLedgerEffect(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// StockImpact is the stock-impact table of the usage workflow.
//
//	draft -> pending|in_process|completed                      debit
//	pending -> in_process|completed                            debit
//	in_process -> completed                                    debit
//	pending|in_process|completed -> cancelled                  credit
//	pending|in_process -> rejected                             credit
//	anything else, including -> draft and same-state           none
func StockImpact(from, to UsageStatus) LedgerEffect {
	if from == to || to == UsageDraft {
		return EffectNone
	}
	switch to {
	case UsagePending:
		if from == UsageDraft {
			return EffectDebit
		}
	case UsageInProcess:
		switch from {
		case UsageDraft, UsagePending:
			return EffectDebit
		}
	case UsageCompleted:
		switch from {
		case UsageDraft, UsagePending, UsageInProcess:
			return EffectDebit
		}
	case UsageCancelled:
		switch from {
		case UsagePending, UsageInProcess, UsageCompleted:
			return EffectCredit
		}
	case UsageRejected:
		switch from {
		case UsagePending, UsageInProcess:
			return EffectCredit
		}
	}
	return EffectNone
}

// ResolveEffect applies the table to a record's debited flag.
// A debit on an already-debited record and a credit on a record never debited are no-ops.
func ResolveEffect(from, to UsageStatus, debited bool) LedgerEffect {
	effect := StockImpact(from, to)
	switch {
	case effect == EffectDebit && debited:
		return EffectNone
	case effect == EffectCredit && !debited:
		return EffectNone
	}
	return effect
}

// TransitionRequest asks the workflow to move a usage to a new status.
type TransitionRequest struct {
	To     UsageStatus
	Role   Role
	Actor  string
	Reason string
	// SubLocationID, when set, is stored on the usage before the completed check.
	SubLocationID *int64
}

// CheckTransition validates a request against policy without touching the ledger.
// Same-state requests always pass and have no effect.
func CheckTransition(policy TransitionPolicy, u *Usage, req TransitionRequest) error {
	if _, err := ParseUsageStatus(string(req.To)); err != nil {
		return validationError("%v", err)
	}
	if u.Status == req.To {
		return nil
	}
	if !policy.Allowed(u.Status, req.To, req.Role) {
		return &TransitionError{From: u.Status, To: req.To, Role: req.Role}
	}
	if req.To == UsageDraft && u.Debited {
		return &TransitionError{From: u.Status, To: req.To, Role: req.Role}
	}
	if req.To == UsageCompleted && req.SubLocationID == nil && u.SubLocationID == nil {
		return fmt.Errorf("%w: usage %d", ErrMissingSubLocation, u.ID)
	}
	return nil
}

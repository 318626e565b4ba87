package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// UsageInput creates a usage record. The record starts in draft; when Initial is set
// the workflow transition runs in the same transaction as the insert.
type UsageInput struct {
	LocationID    int64
	SubLocationID *int64
	UsageDate     time.Time
	Notes         string
	CreatedBy     string
	Lines         []LineInput
	Initial       *TransitionRequest
}

// UsageEdit replaces the mutable fields and line items of a usage record.
type UsageEdit struct {
	SubLocationID *int64
	UsageDate     time.Time
	Notes         string
	Lines         []LineInput
}

// UsageService drives usage records through the approval workflow and keeps their
// ledger effect in step with the stock-impact table.
type UsageService interface {
	CreateUsage(ctx context.Context, in UsageInput) (*Usage, error)
	// EditUsage reverses the record's allocations, replaces its lines and re-applies
	// them when the record was debited. Cancelled and rejected records are not editable.
	EditUsage(ctx context.Context, id int64, in UsageEdit) (*Usage, error)
	TransitionUsage(ctx context.Context, id int64, req TransitionRequest) (*Usage, error)
	// DeleteUsage reverses any applied allocations and soft-deletes the record.
	DeleteUsage(ctx context.Context, id int64) error
	GetUsage(ctx context.Context, id int64) (*Usage, error)
	History(ctx context.Context, id int64) ([]StatusChange, error)
}

type usageService struct {
	store   Store
	policy  TransitionPolicy
	rev     *Reverser
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

// NewUsageService constructs a UsageService. policy is fixed for the service's lifetime.
func NewUsageService(store Store, policy TransitionPolicy, rev *Reverser, log logrus.FieldLogger, metrics *Metrics) UsageService {
	return &usageService{store: store, policy: policy, rev: rev, log: log, metrics: metrics, now: time.Now}
}

func (s *usageService) CreateUsage(ctx context.Context, in UsageInput) (*Usage, error) {
	defer s.metrics.observe("usage_create")()

	if in.LocationID <= 0 {
		return nil, validationError("location is required")
	}
	if in.UsageDate.IsZero() {
		return nil, validationError("usage date is required")
	}
	details, err := s.buildDetails(ctx, in.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &Usage{
		LocationID:    in.LocationID,
		SubLocationID: in.SubLocationID,
		UsageDate:     DateOnly(in.UsageDate),
		Status:        UsageDraft,
		Notes:         in.Notes,
		CreatedBy:     in.CreatedBy,
		Details:       details,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Initial != nil {
		if err := CheckTransition(s.policy, u, *in.Initial); err != nil {
			return nil, err
		}
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		number, err := tx.NextDocumentNumber(ctx, DocumentUsage, u.UsageDate.Year())
		if err != nil {
			return fmt.Errorf("failed to allocate usage number: %w", err)
		}
		u.Number = number
		if err := tx.InsertUsage(ctx, u); err != nil {
			return fmt.Errorf("failed to insert usage: %w", err)
		}
		if in.Initial != nil && in.Initial.To != UsageDraft {
			if err := s.transitionTx(ctx, tx, u, *in.Initial); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"usage_id": u.ID,
		"number":   u.Number,
		"status":   u.Status,
		"debited":  u.Debited,
	}).Info("usage created")
	return u, nil
}

func (s *usageService) EditUsage(ctx context.Context, id int64, in UsageEdit) (*Usage, error) {
	defer s.metrics.observe("usage_edit")()

	if in.UsageDate.IsZero() {
		return nil, validationError("usage date is required")
	}
	details, err := s.buildDetails(ctx, in.Lines)
	if err != nil {
		return nil, err
	}

	var u *Usage
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		u, err = s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Status == UsageCancelled || u.Status == UsageRejected {
			return fmt.Errorf("%w: usage %s is %s", ErrNotEditable, u.Number, u.Status)
		}
		if in.SubLocationID != nil {
			u.SubLocationID = in.SubLocationID
		}
		if u.Status == UsageCompleted && u.SubLocationID == nil {
			return fmt.Errorf("%w: usage %d", ErrMissingSubLocation, u.ID)
		}
		if err := s.rev.RedoUsage(ctx, tx, u, details, in.UsageDate); err != nil {
			return err
		}
		u.Notes = in.Notes
		u.UpdatedAt = s.now().UTC()
		if err := tx.ReplaceUsageDetails(ctx, u); err != nil {
			return fmt.Errorf("failed to replace usage details: %w", err)
		}
		if err := tx.UpdateUsage(ctx, u); err != nil {
			return fmt.Errorf("failed to update usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"usage_id": u.ID, "number": u.Number, "debited": u.Debited}).Info("usage edited")
	return u, nil
}

func (s *usageService) TransitionUsage(ctx context.Context, id int64, req TransitionRequest) (*Usage, error) {
	defer s.metrics.observe("usage_transition")()

	var u *Usage
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		u, err = s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(s.policy, u, req); err != nil {
			return err
		}
		return s.transitionTx(ctx, tx, u, req)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// transitionTx moves u to req.To and applies the resolved ledger effect.
// The request must already have passed CheckTransition.
func (s *usageService) transitionTx(ctx context.Context, tx Tx, u *Usage, req TransitionRequest) error {
	if u.Status == req.To {
		return nil
	}
	if req.SubLocationID != nil {
		u.SubLocationID = req.SubLocationID
	}

	from := u.Status
	effect := ResolveEffect(from, req.To, u.Debited)
	switch effect {
	case EffectDebit:
		if err := s.rev.ApplyUsage(ctx, tx, u); err != nil {
			return err
		}
	case EffectCredit:
		if err := s.rev.ReverseUsage(ctx, tx, u); err != nil {
			return err
		}
	}

	now := s.now().UTC()
	u.Status = req.To
	u.UpdatedAt = now
	if effect != EffectNone {
		if err := tx.ReplaceUsageDetails(ctx, u); err != nil {
			return fmt.Errorf("failed to record allocations: %w", err)
		}
	}
	if err := tx.UpdateUsage(ctx, u); err != nil {
		return fmt.Errorf("failed to update usage status: %w", err)
	}
	change := &StatusChange{
		UsageID:   u.ID,
		From:      from,
		To:        req.To,
		Role:      req.Role,
		Actor:     req.Actor,
		Reason:    req.Reason,
		Effect:    effect,
		CreatedAt: now,
	}
	if err := tx.InsertStatusChange(ctx, change); err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}

	s.metrics.transitioned(req.To, effect)
	s.log.WithFields(logrus.Fields{
		"usage_id": u.ID,
		"number":   u.Number,
		"from":     from,
		"to":       req.To,
		"role":     req.Role,
		"effect":   effect.String(),
	}).Info("usage transitioned")
	return nil
}

func (s *usageService) DeleteUsage(ctx context.Context, id int64) error {
	defer s.metrics.observe("usage_delete")()

	return s.store.WithTx(ctx, func(tx Tx) error {
		u, err := s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Debited {
			if err := s.rev.ReverseUsage(ctx, tx, u); err != nil {
				return err
			}
			if err := tx.ReplaceUsageDetails(ctx, u); err != nil {
				return fmt.Errorf("failed to clear allocations: %w", err)
			}
			if err := tx.UpdateUsage(ctx, u); err != nil {
				return fmt.Errorf("failed to update usage: %w", err)
			}
		}
		if err := tx.DeleteUsage(ctx, u.ID, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to delete usage: %w", err)
		}
		s.log.WithFields(logrus.Fields{"usage_id": u.ID, "number": u.Number}).Info("usage deleted")
		return nil
	})
}

func (s *usageService) GetUsage(ctx context.Context, id int64) (*Usage, error) {
	return s.store.GetUsage(ctx, id)
}

func (s *usageService) History(ctx context.Context, id int64) ([]StatusChange, error) {
	if _, err := s.store.GetUsage(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListUsageHistory(ctx, id)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *usageService) lockLive(ctx context.Context, tx Tx, id int64) (*Usage, error) {
	u, err := tx.LockUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, fmt.Errorf("%w: usage %d", ErrNotFound, id)
	}
	return u, nil
}

// buildDetails validates and converts submitted lines into unallocated details.
func (s *usageService) buildDetails(ctx context.Context, lines []LineInput) ([]UsageDetail, error) {
	if len(lines) == 0 {
		return nil, validationError("at least one line item is required")
	}
	for i, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, invalidQuantity("line %d: quantity must be positive, got %s", i+1, l.Quantity)
		}
	}
	tables, err := loadConversions(ctx, s.store, lines)
	if err != nil {
		return nil, err
	}
	converted, err := ConvertLines(lines, tables)
	if err != nil {
		return nil, err
	}
	details := make([]UsageDetail, len(lines))
	for i, l := range lines {
		details[i] = UsageDetail{
			LineNumber:        i + 1,
			ItemID:            l.ItemID,
			UnitID:            l.UnitID,
			RequestedQuantity: l.Quantity,
			ConvertedQuantity: converted[i],
		}
	}
	return details, nil
}

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MutationInput creates a stock transfer between two locations.
type MutationInput struct {
	SourceLocationID      int64
	DestinationLocationID int64
	MutationDate          time.Time
	Notes                 string
	CreatedBy             string
	Lines                 []LineInput
}

// MutationEdit replaces the date, notes and lines of a mutation. Locations are fixed.
type MutationEdit struct {
	MutationDate time.Time
	Notes        string
	Lines        []LineInput
}

// MutationService records transfers and keeps their batch moves reversible.
type MutationService interface {
	CreateMutation(ctx context.Context, in MutationInput) (*Mutation, error)
	// EditMutation reverses the prior transfer and re-runs it with the new lines.
	// It fails with ErrInsufficientAvailable if a destination batch has been drawn from.
	EditMutation(ctx context.Context, id int64, in MutationEdit) (*Mutation, error)
	DeleteMutation(ctx context.Context, id int64) error
	GetMutation(ctx context.Context, id int64) (*Mutation, error)
}

// MutationEngine moves stock from one location to another FIFO, creating one destination
// batch per source batch drawn so cost stays traceable per lot.
type MutationEngine struct {
	ledger *Ledger
	alloc  *Allocator
}

// NewMutationEngine constructs a MutationEngine.
func NewMutationEngine(ledger *Ledger, alloc *Allocator) *MutationEngine {
	return &MutationEngine{ledger: ledger, alloc: alloc}
}

// TransferInput describes one item moved by Transfer.
type TransferInput struct {
	MutationID            int64
	LineNumber            int
	ItemID                int64
	SourceLocationID      int64
	DestinationLocationID int64
	Quantity              decimal.Decimal // smallest unit
	Date                  time.Time
}

// Transfer draws Quantity FIFO from the source into quantity_mutated and creates the
// matching destination batches dated on the transfer date. There are no partial transfers.
// The caller must have locked both keys.
func (e *MutationEngine) Transfer(ctx context.Context, tx Tx, in TransferInput) ([]MutationItem, error) {
	if in.SourceLocationID == in.DestinationLocationID {
		return nil, validationError("source and destination location must differ")
	}
	src := StockKey{ItemID: in.ItemID, LocationID: in.SourceLocationID}
	plan, err := e.alloc.Allocate(ctx, tx, src, in.Quantity, in.Date, ColumnMutated, "mutation")
	if err != nil {
		return nil, err
	}

	mutationID := in.MutationID
	items := make([]MutationItem, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		value := line.Quantity.Mul(line.UnitCost)
		dest, err := e.ledger.AddBatch(ctx, tx, NewBatch{
			ItemID:           in.ItemID,
			LocationID:       in.DestinationLocationID,
			BatchDate:        in.Date,
			Quantity:         line.Quantity,
			Amount:           value,
			Origin:           OriginMutation,
			OriginMutationID: &mutationID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create destination batch: %w", err)
		}
		items = append(items, MutationItem{
			LineNumber:         in.LineNumber,
			ItemID:             in.ItemID,
			SourceBatchID:      line.BatchID,
			DestinationBatchID: dest.ID,
			Quantity:           line.Quantity,
			UnitCost:           line.UnitCost,
			Value:              value,
		})
	}
	return items, nil
}

type mutationService struct {
	store   Store
	engine  *MutationEngine
	alloc   *Allocator
	rev     *Reverser
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

// NewMutationService constructs a MutationService.
func NewMutationService(store Store, engine *MutationEngine, alloc *Allocator, rev *Reverser, log logrus.FieldLogger, metrics *Metrics) MutationService {
	return &mutationService{store: store, engine: engine, alloc: alloc, rev: rev, log: log, metrics: metrics, now: time.Now}
}

func (s *mutationService) CreateMutation(ctx context.Context, in MutationInput) (*Mutation, error) {
	defer s.metrics.observe("mutation_create")()

	if in.SourceLocationID <= 0 || in.DestinationLocationID <= 0 {
		return nil, validationError("source and destination location are required")
	}
	if in.SourceLocationID == in.DestinationLocationID {
		return nil, validationError("source and destination location must differ")
	}
	if in.MutationDate.IsZero() {
		return nil, validationError("mutation date is required")
	}
	lines, err := s.buildLines(ctx, in.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &Mutation{
		SourceLocationID:      in.SourceLocationID,
		DestinationLocationID: in.DestinationLocationID,
		MutationDate:          DateOnly(in.MutationDate),
		Notes:                 in.Notes,
		CreatedBy:             in.CreatedBy,
		Lines:                 lines,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		number, err := tx.NextDocumentNumber(ctx, DocumentMutation, m.MutationDate.Year())
		if err != nil {
			return fmt.Errorf("failed to allocate mutation number: %w", err)
		}
		m.Number = number
		if err := tx.InsertMutation(ctx, m); err != nil {
			return fmt.Errorf("failed to insert mutation: %w", err)
		}
		if err := s.apply(ctx, tx, m); err != nil {
			return err
		}
		if err := tx.ReplaceMutationLines(ctx, m); err != nil {
			return fmt.Errorf("failed to record mutation items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"mutation_id": m.ID,
		"number":      m.Number,
		"source":      m.SourceLocationID,
		"destination": m.DestinationLocationID,
	}).Info("mutation created")
	return m, nil
}

func (s *mutationService) EditMutation(ctx context.Context, id int64, in MutationEdit) (*Mutation, error) {
	defer s.metrics.observe("mutation_edit")()

	if in.MutationDate.IsZero() {
		return nil, validationError("mutation date is required")
	}
	lines, err := s.buildLines(ctx, in.Lines)
	if err != nil {
		return nil, err
	}

	var m *Mutation
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		m, err = s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		next := &Mutation{SourceLocationID: m.SourceLocationID, DestinationLocationID: m.DestinationLocationID, Lines: lines}
		if err := s.alloc.Check(ctx, tx, next.sourceKeys(), in.MutationDate); err != nil {
			return err
		}
		if err := s.alloc.LockKeys(ctx, tx, append(m.Keys(), next.Keys()...)); err != nil {
			return err
		}
		if err := s.rev.ReverseMutation(ctx, tx, m); err != nil {
			return err
		}
		m.Lines = lines
		m.MutationDate = DateOnly(in.MutationDate)
		m.Notes = in.Notes
		m.UpdatedAt = s.now().UTC()
		if err := s.apply(ctx, tx, m); err != nil {
			return err
		}
		if err := tx.ReplaceMutationLines(ctx, m); err != nil {
			return fmt.Errorf("failed to replace mutation lines: %w", err)
		}
		if err := tx.UpdateMutation(ctx, m); err != nil {
			return fmt.Errorf("failed to update mutation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"mutation_id": m.ID, "number": m.Number}).Info("mutation edited")
	return m, nil
}

func (s *mutationService) DeleteMutation(ctx context.Context, id int64) error {
	defer s.metrics.observe("mutation_delete")()

	return s.store.WithTx(ctx, func(tx Tx) error {
		m, err := s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.rev.ReverseMutation(ctx, tx, m); err != nil {
			return err
		}
		if err := tx.ReplaceMutationLines(ctx, m); err != nil {
			return fmt.Errorf("failed to clear mutation items: %w", err)
		}
		if err := tx.DeleteMutation(ctx, m.ID, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to delete mutation: %w", err)
		}
		s.log.WithFields(logrus.Fields{"mutation_id": m.ID, "number": m.Number}).Info("mutation deleted")
		return nil
	})
}

func (s *mutationService) GetMutation(ctx context.Context, id int64) (*Mutation, error) {
	return s.store.GetMutation(ctx, id)
}

// apply runs Transfer for every line of m. Date and hold checks cover the source keys;
// locks cover both sides.
func (s *mutationService) apply(ctx context.Context, tx Tx, m *Mutation) error {
	if err := s.alloc.Check(ctx, tx, m.sourceKeys(), m.MutationDate); err != nil {
		return err
	}
	if err := s.alloc.LockKeys(ctx, tx, m.Keys()); err != nil {
		return err
	}
	for i := range m.Lines {
		line := &m.Lines[i]
		items, err := s.engine.Transfer(ctx, tx, TransferInput{
			MutationID:            m.ID,
			LineNumber:            line.LineNumber,
			ItemID:                line.ItemID,
			SourceLocationID:      m.SourceLocationID,
			DestinationLocationID: m.DestinationLocationID,
			Quantity:              line.ConvertedQuantity,
			Date:                  m.MutationDate,
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", line.LineNumber, err)
		}
		line.Items = items
	}
	return nil
}

func (s *mutationService) lockLive(ctx context.Context, tx Tx, id int64) (*Mutation, error) {
	m, err := tx.LockMutation(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.DeletedAt != nil {
		return nil, fmt.Errorf("%w: mutation %d", ErrNotFound, id)
	}
	return m, nil
}

func (s *mutationService) buildLines(ctx context.Context, in []LineInput) ([]MutationLine, error) {
	if len(in) == 0 {
		return nil, validationError("at least one line item is required")
	}
	tables, err := loadConversions(ctx, s.store, in)
	if err != nil {
		return nil, err
	}
	converted, err := ConvertLines(in, tables)
	if err != nil {
		return nil, err
	}
	lines := make([]MutationLine, len(in))
	for i, l := range in {
		lines[i] = MutationLine{
			LineNumber:        i + 1,
			ItemID:            l.ItemID,
			UnitID:            l.UnitID,
			RequestedQuantity: l.Quantity,
			ConvertedQuantity: converted[i],
		}
	}
	return lines, nil
}

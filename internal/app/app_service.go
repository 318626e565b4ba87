package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ximopet/internal/core"
	"ximopet/internal/logging"
)

type appService struct {
	engine   *core.Engine
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(engine *core.Engine, log logrus.FieldLogger) ApplicationService {
	return &appService{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// ── Stock ─────────────────────────────────────────────────────────────────────

func (s *appService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*ReceiptResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	qty, err := parseAmount("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount("unit_price", req.UnitPrice)
	if err != nil {
		return nil, err
	}
	batch, err := s.engine.Stock.ReceiveStock(ctx, core.ReceiptInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		UnitID:     req.UnitID,
		BatchDate:  date,
		Quantity:   qty,
		UnitPrice:  price,
	})
	if err != nil {
		return nil, s.fail("ReceiveStock", req, err)
	}
	return &ReceiptResult{BatchID: batch.ID, Batch: batch}, nil
}

func (s *appService) VoidReceipt(ctx context.Context, batchID int64) error {
	if err := s.engine.Stock.VoidReceipt(ctx, batchID); err != nil {
		return s.fail("VoidReceipt", batchID, err)
	}
	return nil
}

func (s *appService) GetStock(ctx context.Context, locationID int64) (*StockResult, error) {
	rows, err := s.engine.Stock.ListCurrentStock(ctx, locationID)
	if err != nil {
		return nil, s.fail("GetStock", locationID, err)
	}
	return &StockResult{LocationID: locationID, Rows: rows}, nil
}

func (s *appService) ListBatches(ctx context.Context, itemID, locationID int64) (*BatchListResult, error) {
	key := core.StockKey{ItemID: itemID, LocationID: locationID}
	batches, err := s.engine.Stock.ListBatches(ctx, key)
	if err != nil {
		return nil, s.fail("ListBatches", key, err)
	}
	core.SortFIFO(batches)
	views := make([]BatchView, len(batches))
	for i, b := range batches {
		views[i] = BatchView{StockBatch: b, Available: b.Available(), UnitCost: b.UnitCost()}
	}
	return &BatchListResult{Key: key, Batches: views}, nil
}

func (s *appService) PreviewAllocation(ctx context.Context, req PreviewAllocationRequest) (*core.Plan, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	qty, err := parseAmount("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	key := core.StockKey{ItemID: req.ItemID, LocationID: req.LocationID}
	plan, err := s.engine.Stock.PreviewAllocation(ctx, key, qty, date)
	if err != nil {
		return nil, s.fail("PreviewAllocation", req, err)
	}
	return &plan, nil
}

// ── Usage ─────────────────────────────────────────────────────────────────────

func (s *appService) CreateUsage(ctx context.Context, req CreateUsageRequest) (*UsageResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		return nil, err
	}
	in := core.UsageInput{
		LocationID:    req.LocationID,
		SubLocationID: req.SubLocationID,
		UsageDate:     date,
		Notes:         req.Notes,
		CreatedBy:     req.CreatedBy,
		Lines:         lines,
	}
	if req.Status != "" {
		if req.Role == "" {
			return nil, &Failure{Kind: core.KindValidation, Message: "role is required when status is set"}
		}
		in.Initial = &core.TransitionRequest{
			To:            core.UsageStatus(req.Status),
			Role:          core.Role(req.Role),
			Actor:         req.CreatedBy,
			SubLocationID: req.SubLocationID,
		}
	}
	u, err := s.engine.Usage.CreateUsage(ctx, in)
	if err != nil {
		return nil, s.fail("CreateUsage", req, err)
	}
	return usageResult(u), nil
}

func (s *appService) EditUsage(ctx context.Context, req EditUsageRequest) (*UsageResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		return nil, err
	}
	u, err := s.engine.Usage.EditUsage(ctx, req.UsageID, core.UsageEdit{
		SubLocationID: req.SubLocationID,
		UsageDate:     date,
		Notes:         req.Notes,
		Lines:         lines,
	})
	if err != nil {
		return nil, s.fail("EditUsage", req, err)
	}
	return usageResult(u), nil
}

func (s *appService) TransitionUsage(ctx context.Context, req TransitionUsageRequest) (*UsageResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	u, err := s.engine.Usage.TransitionUsage(ctx, req.UsageID, core.TransitionRequest{
		To:            core.UsageStatus(req.Status),
		Role:          core.Role(req.Role),
		Actor:         req.Actor,
		Reason:        req.Reason,
		SubLocationID: req.SubLocationID,
	})
	if err != nil {
		return nil, s.fail("TransitionUsage", req, err)
	}
	return usageResult(u), nil
}

func (s *appService) DeleteUsage(ctx context.Context, usageID int64) error {
	if err := s.engine.Usage.DeleteUsage(ctx, usageID); err != nil {
		return s.fail("DeleteUsage", usageID, err)
	}
	return nil
}

func (s *appService) GetUsage(ctx context.Context, usageID int64) (*UsageResult, error) {
	u, err := s.engine.Usage.GetUsage(ctx, usageID)
	if err != nil {
		return nil, s.fail("GetUsage", usageID, err)
	}
	return usageResult(u), nil
}

func (s *appService) UsageHistory(ctx context.Context, usageID int64) (*HistoryResult, error) {
	changes, err := s.engine.Usage.History(ctx, usageID)
	if err != nil {
		return nil, s.fail("UsageHistory", usageID, err)
	}
	return &HistoryResult{UsageID: usageID, Changes: changes}, nil
}

// ── Mutations ─────────────────────────────────────────────────────────────────

func (s *appService) CreateMutation(ctx context.Context, req CreateMutationRequest) (*MutationResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		return nil, err
	}
	m, err := s.engine.Mutations.CreateMutation(ctx, core.MutationInput{
		SourceLocationID:      req.SourceLocationID,
		DestinationLocationID: req.DestinationLocationID,
		MutationDate:          date,
		Notes:                 req.Notes,
		CreatedBy:             req.CreatedBy,
		Lines:                 lines,
	})
	if err != nil {
		return nil, s.fail("CreateMutation", req, err)
	}
	return &MutationResult{MutationID: m.ID, Number: m.Number, Mutation: m}, nil
}

func (s *appService) EditMutation(ctx context.Context, req EditMutationRequest) (*MutationResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, AsFailure(err)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		return nil, err
	}
	m, err := s.engine.Mutations.EditMutation(ctx, req.MutationID, core.MutationEdit{
		MutationDate: date,
		Notes:        req.Notes,
		Lines:        lines,
	})
	if err != nil {
		return nil, s.fail("EditMutation", req, err)
	}
	return &MutationResult{MutationID: m.ID, Number: m.Number, Mutation: m}, nil
}

func (s *appService) DeleteMutation(ctx context.Context, mutationID int64) error {
	if err := s.engine.Mutations.DeleteMutation(ctx, mutationID); err != nil {
		return s.fail("DeleteMutation", mutationID, err)
	}
	return nil
}

func (s *appService) GetMutation(ctx context.Context, mutationID int64) (*MutationResult, error) {
	m, err := s.engine.Mutations.GetMutation(ctx, mutationID)
	if err != nil {
		return nil, s.fail("GetMutation", mutationID, err)
	}
	return &MutationResult{MutationID: m.ID, Number: m.Number, Mutation: m}, nil
}

// ── Integrity ─────────────────────────────────────────────────────────────────

// Verify reports a divergence in the result and as an IntegrityMismatch failure.
func (s *appService) Verify(ctx context.Context, itemID, locationID int64) (*IntegrityResult, error) {
	key := core.StockKey{ItemID: itemID, LocationID: locationID}
	report, err := s.engine.Stock.Verify(ctx, key)
	if err != nil {
		res := integrityResult([]core.IntegrityReport{report})
		if report.Diverged {
			return res, AsFailure(err)
		}
		return nil, s.fail("Verify", key, err)
	}
	return integrityResult([]core.IntegrityReport{report}), nil
}

func (s *appService) Recompute(ctx context.Context, itemID, locationID int64) (*IntegrityResult, error) {
	key := core.StockKey{ItemID: itemID, LocationID: locationID}
	report, err := s.engine.Stock.Recompute(ctx, key)
	if err != nil {
		return nil, s.fail("Recompute", key, err)
	}
	return integrityResult([]core.IntegrityReport{report}), nil
}

func (s *appService) VerifyAll(ctx context.Context) (*IntegrityResult, error) {
	reports, err := s.engine.Stock.VerifyAll(ctx)
	if err != nil {
		return nil, s.fail("VerifyAll", nil, err)
	}
	return integrityResult(reports), nil
}

func (s *appService) TransitionRules() []core.TransitionRule {
	return s.engine.Policy.Rules()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// fail converts err to a Failure. Internal failures are logged with their input.
func (s *appService) fail(funcName string, data any, err error) error {
	f := AsFailure(err)
	if f.Kind == core.KindInternal {
		logging.LogError(s.log, "app", funcName, "engine operation failed", data, err)
	}
	return f
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &Failure{
			Kind:    core.KindValidation,
			Message: field + " must be formatted as YYYY-MM-DD",
			Details: map[string]any{"field": field, "value": value},
			err:     err,
		}
	}
	return t, nil
}

func parseAmount(field string, value Amount) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(value))
	if err != nil {
		return decimal.Zero, &Failure{
			Kind:    core.KindInvalidQuantity,
			Message: field + " must be a decimal number",
			Details: map[string]any{"field": field, "value": string(value)},
			err:     err,
		}
	}
	return d, nil
}

func toLineInputs(lines []LineRequest) ([]core.LineInput, error) {
	out := make([]core.LineInput, len(lines))
	for i, l := range lines {
		qty, err := parseAmount(fmt.Sprintf("lines[%d].quantity", i), l.Quantity)
		if err != nil {
			return nil, err
		}
		out[i] = core.LineInput{ItemID: l.ItemID, UnitID: l.UnitID, Quantity: qty}
	}
	return out, nil
}

func usageResult(u *core.Usage) *UsageResult {
	return &UsageResult{
		UsageID: u.ID,
		Number:  u.Number,
		Status:  u.Status,
		Debited: u.Debited,
		Cost:    u.Cost(),
		Usage:   u,
	}
}

func integrityResult(reports []core.IntegrityReport) *IntegrityResult {
	res := &IntegrityResult{Reports: reports}
	for _, r := range reports {
		if r.Diverged {
			res.Diverged++
		}
	}
	return res
}

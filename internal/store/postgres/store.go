// Package postgres implements core.Store on PostgreSQL with pgx.
// Batch serialisation uses SELECT ... FOR UPDATE inside the caller's transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ximopet/internal/core"
)

// querier is the subset of pgxpool.Pool and pgx.Tx used by the shared queries.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL core.Store.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ core.Store      = (*Store)(nil)
	_ core.RuleSource = (*Store)(nil)
)

// New constructs a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in one database transaction. fn's error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

func (s *Store) Conversions(ctx context.Context, itemID int64) (core.ConversionTable, error) {
	return loadConversions(ctx, s.pool, itemID)
}

func (s *Store) GetUsage(ctx context.Context, id int64) (*core.Usage, error) {
	return loadUsage(ctx, s.pool, id, false)
}

func (s *Store) GetMutation(ctx context.Context, id int64) (*core.Mutation, error) {
	return loadMutation(ctx, s.pool, id, false)
}

func (s *Store) ListUsageHistory(ctx context.Context, usageID int64) ([]core.StatusChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, usage_id, from_status, to_status, role, actor, reason, effect, created_at
		FROM usage_status_history
		WHERE usage_id = $1
		ORDER BY id
	`, usageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	defer rows.Close()

	var changes []core.StatusChange
	for rows.Next() {
		var c core.StatusChange
		var effect string
		if err := rows.Scan(&c.ID, &c.UsageID, &c.From, &c.To, &c.Role, &c.Actor, &c.Reason, &effect, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		if c.Effect, err = core.ParseLedgerEffect(effect); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *Store) ListBatches(ctx context.Context, key core.StockKey) ([]core.StockBatch, error) {
	return queryBatches(ctx, s.pool, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE item_id = $1 AND location_id = $2 AND deleted_at IS NULL
		ORDER BY batch_date, received_at, id
	`, key.ItemID, key.LocationID)
}

func (s *Store) ListCurrentStock(ctx context.Context, locationID int64) ([]core.CurrentStock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, location_id, quantity, integrity_hold, updated_at
		FROM current_stocks
		WHERE $1 = 0 OR location_id = $1
		ORDER BY item_id, location_id
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query current stock: %w", err)
	}
	defer rows.Close()

	var out []core.CurrentStock
	for rows.Next() {
		var cs core.CurrentStock
		if err := rows.Scan(&cs.ItemID, &cs.LocationID, &cs.Quantity, &cs.Hold, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan current stock: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) ListStockKeys(ctx context.Context) ([]core.StockKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, location_id FROM stock_batches
		UNION
		SELECT item_id, location_id FROM current_stocks
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock keys: %w", err)
	}
	defer rows.Close()

	var keys []core.StockKey
	for rows.Next() {
		var k core.StockKey
		if err := rows.Scan(&k.ItemID, &k.LocationID); err != nil {
			return nil, fmt.Errorf("failed to scan stock key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// LoadTransitionRules reads the workflow allow-list from usage_transition_rules.
func (s *Store) LoadTransitionRules(ctx context.Context) ([]core.TransitionRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_status, to_status, role
		FROM usage_transition_rules
		ORDER BY role, from_status, to_status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition rules: %w", err)
	}
	defer rows.Close()

	var rules []core.TransitionRule
	for rows.Next() {
		var from, to, role string
		if err := rows.Scan(&from, &to, &role); err != nil {
			return nil, fmt.Errorf("failed to scan transition rule: %w", err)
		}
		r := core.TransitionRule{From: core.UsageStatus(from), To: core.UsageStatus(to), Role: core.Role(role)}
		if _, err := core.ParseUsageStatus(from); err != nil {
			return nil, err
		}
		if _, err := core.ParseUsageStatus(to); err != nil {
			return nil, err
		}
		if _, err := core.ParseRole(role); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ── Master data ───────────────────────────────────────────────────────────────

// UpsertItem creates or renames an item by code and returns its id.
func (s *Store) UpsertItem(ctx context.Context, code, name string) (int64, error) {
	return upsertCoded(ctx, s.pool, "items", code, name)
}

// UpsertUnit creates or renames a unit by code and returns its id.
func (s *Store) UpsertUnit(ctx context.Context, code, name string) (int64, error) {
	return upsertCoded(ctx, s.pool, "units", code, name)
}

// UpsertLocation creates or renames a location by code and returns its id.
// parentID links a sub-location to its farm.
func (s *Store) UpsertLocation(ctx context.Context, code, name string, parentID *int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO locations (code, name, parent_id) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id
		RETURNING id
	`, code, name, parentID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert location %s: %w", code, err)
	}
	return id, nil
}

// SetConversions replaces an item's unit conversion table.
func (s *Store) SetConversions(ctx context.Context, table core.ConversionTable) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM item_units WHERE item_id = $1", table.ItemID); err != nil {
		return fmt.Errorf("failed to clear item units: %w", err)
	}
	for _, u := range table.Units {
		_, err := tx.Exec(ctx, `
			INSERT INTO item_units (item_id, unit_id, value, is_smallest, is_default_purchase, is_default_usage, is_default_mutation)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, table.ItemID, u.UnitID, u.Value, u.IsSmallest, u.IsDefaultPurchase, u.IsDefaultUsage, u.IsDefaultMutation)
		if err != nil {
			return fmt.Errorf("failed to insert item unit %d: %w", u.UnitID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertCoded(ctx context.Context, q querier, table, code, name string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, table), code, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s %s: %w", table, code, err)
	}
	return id, nil
}

func loadConversions(ctx context.Context, q querier, itemID int64) (core.ConversionTable, error) {
	rows, err := q.Query(ctx, `
		SELECT unit_id, value, is_smallest, is_default_purchase, is_default_usage, is_default_mutation
		FROM item_units
		WHERE item_id = $1
	`, itemID)
	if err != nil {
		return core.ConversionTable{}, fmt.Errorf("failed to query item units: %w", err)
	}
	defer rows.Close()

	var units []core.UnitConversion
	for rows.Next() {
		var u core.UnitConversion
		if err := rows.Scan(&u.UnitID, &u.Value, &u.IsSmallest, &u.IsDefaultPurchase, &u.IsDefaultUsage, &u.IsDefaultMutation); err != nil {
			return core.ConversionTable{}, fmt.Errorf("failed to scan item unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return core.ConversionTable{}, err
	}
	if len(units) == 0 {
		return core.ConversionTable{}, fmt.Errorf("%w: item %d", core.ErrMissingConversion, itemID)
	}
	return core.NewConversionTable(itemID, units...), nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"ximopet/internal/core"
)

// ── Usage ─────────────────────────────────────────────────────────────────────

func (t *pgTx) InsertUsage(ctx context.Context, u *core.Usage) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO usages (number, location_id, sub_location_id, usage_date, status, debited, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, u.Number, u.LocationID, u.SubLocationID, u.UsageDate, string(u.Status), u.Debited, u.Notes, u.CreatedBy,
		u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	if err != nil {
		return err
	}
	return t.insertUsageDetails(ctx, u)
}

func (t *pgTx) LockUsage(ctx context.Context, id int64) (*core.Usage, error) {
	return loadUsage(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateUsage(ctx context.Context, u *core.Usage) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE usages
		SET sub_location_id = $2, usage_date = $3, status = $4, debited = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`, u.ID, u.SubLocationID, u.UsageDate, string(u.Status), u.Debited, u.Notes, u.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: usage %d", core.ErrNotFound, u.ID)
	}
	return nil
}

func (t *pgTx) ReplaceUsageDetails(ctx context.Context, u *core.Usage) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM usage_details WHERE usage_id = $1", u.ID); err != nil {
		return fmt.Errorf("failed to delete usage details: %w", err)
	}
	return t.insertUsageDetails(ctx, u)
}

func (t *pgTx) insertUsageDetails(ctx context.Context, u *core.Usage) error {
	for i := range u.Details {
		d := &u.Details[i]
		d.UsageID = u.ID
		err := t.tx.QueryRow(ctx, `
			INSERT INTO usage_details (usage_id, line_number, item_id, unit_id, requested_quantity, converted_quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, u.ID, d.LineNumber, d.ItemID, d.UnitID, d.RequestedQuantity, d.ConvertedQuantity).Scan(&d.ID)
		if err != nil {
			return fmt.Errorf("failed to insert usage detail %d: %w", d.LineNumber, err)
		}
		for _, a := range d.Allocations {
			_, err := t.tx.Exec(ctx, `
				INSERT INTO usage_allocations (usage_detail_id, batch_id, quantity, unit_cost)
				VALUES ($1, $2, $3, $4)
			`, d.ID, a.BatchID, a.Quantity, a.UnitCost)
			if err != nil {
				return fmt.Errorf("failed to insert allocation for detail %d: %w", d.LineNumber, err)
			}
		}
	}
	return nil
}

func (t *pgTx) DeleteUsage(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, "UPDATE usages SET deleted_at = $2, updated_at = $2 WHERE id = $1", id, at)
	return err
}

func (t *pgTx) InsertStatusChange(ctx context.Context, c *core.StatusChange) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO usage_status_history (usage_id, from_status, to_status, role, actor, reason, effect, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, c.UsageID, string(c.From), string(c.To), string(c.Role), c.Actor, c.Reason, c.Effect.String(), c.CreatedAt).Scan(&c.ID)
}

func loadUsage(ctx context.Context, q querier, id int64, lock bool) (*core.Usage, error) {
	query := `
		SELECT id, number, location_id, sub_location_id, usage_date, status, debited, notes, created_by,
			created_at, updated_at, deleted_at
		FROM usages
		WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	} else {
		query += " AND deleted_at IS NULL"
	}

	var u core.Usage
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&u.ID, &u.Number, &u.LocationID, &u.SubLocationID, &u.UsageDate,
		&status, &u.Debited, &u.Notes, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		return nil, notFound(err, "usage %d", id)
	}
	if u.Status, err = core.ParseUsageStatus(status); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, usage_id, line_number, item_id, unit_id, requested_quantity, converted_quantity
		FROM usage_details
		WHERE usage_id = $1
		ORDER BY line_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage details: %w", err)
	}
	index := map[int64]int{}
	for rows.Next() {
		var d core.UsageDetail
		if err := rows.Scan(&d.ID, &d.UsageID, &d.LineNumber, &d.ItemID, &d.UnitID, &d.RequestedQuantity, &d.ConvertedQuantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan usage detail: %w", err)
		}
		index[d.ID] = len(u.Details)
		u.Details = append(u.Details, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT a.usage_detail_id, a.batch_id, a.quantity, a.unit_cost
		FROM usage_allocations a
		JOIN usage_details d ON d.id = a.usage_detail_id
		WHERE d.usage_id = $1
		ORDER BY a.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var detailID int64
		var a core.Allocation
		if err := rows.Scan(&detailID, &a.BatchID, &a.Quantity, &a.UnitCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage allocation: %w", err)
		}
		if i, ok := index[detailID]; ok {
			u.Details[i].Allocations = append(u.Details[i].Allocations, a)
		}
	}
	return &u, rows.Err()
}

// ── Mutation ──────────────────────────────────────────────────────────────────

func (t *pgTx) InsertMutation(ctx context.Context, m *core.Mutation) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO mutations (number, source_location_id, destination_location_id, mutation_date, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, m.Number, m.SourceLocationID, m.DestinationLocationID, m.MutationDate, m.Notes, m.CreatedBy,
		m.CreatedAt, m.UpdatedAt).Scan(&m.ID)
	if err != nil {
		return err
	}
	return t.insertMutationLines(ctx, m)
}

func (t *pgTx) LockMutation(ctx context.Context, id int64) (*core.Mutation, error) {
	return loadMutation(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateMutation(ctx context.Context, m *core.Mutation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE mutations SET mutation_date = $2, notes = $3, updated_at = $4 WHERE id = $1
	`, m.ID, m.MutationDate, m.Notes, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mutation %d", core.ErrNotFound, m.ID)
	}
	return nil
}

func (t *pgTx) ReplaceMutationLines(ctx context.Context, m *core.Mutation) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM mutation_lines WHERE mutation_id = $1", m.ID); err != nil {
		return fmt.Errorf("failed to delete mutation lines: %w", err)
	}
	return t.insertMutationLines(ctx, m)
}

func (t *pgTx) insertMutationLines(ctx context.Context, m *core.Mutation) error {
	for i := range m.Lines {
		l := &m.Lines[i]
		l.MutationID = m.ID
		err := t.tx.QueryRow(ctx, `
			INSERT INTO mutation_lines (mutation_id, line_number, item_id, unit_id, requested_quantity, converted_quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, m.ID, l.LineNumber, l.ItemID, l.UnitID, l.RequestedQuantity, l.ConvertedQuantity).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("failed to insert mutation line %d: %w", l.LineNumber, err)
		}
		for j := range l.Items {
			it := &l.Items[j]
			err := t.tx.QueryRow(ctx, `
				INSERT INTO mutation_items (mutation_line_id, source_batch_id, destination_batch_id, quantity, unit_cost, value)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, l.ID, it.SourceBatchID, it.DestinationBatchID, it.Quantity, it.UnitCost, it.Value).Scan(&it.ID)
			if err != nil {
				return fmt.Errorf("failed to insert mutation item for line %d: %w", l.LineNumber, err)
			}
		}
	}
	return nil
}

func (t *pgTx) DeleteMutation(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, "UPDATE mutations SET deleted_at = $2, updated_at = $2 WHERE id = $1", id, at)
	return err
}

func loadMutation(ctx context.Context, q querier, id int64, lock bool) (*core.Mutation, error) {
	query := `
		SELECT id, number, source_location_id, destination_location_id, mutation_date, notes, created_by,
			created_at, updated_at, deleted_at
		FROM mutations
		WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	} else {
		query += " AND deleted_at IS NULL"
	}

	var m core.Mutation
	err := q.QueryRow(ctx, query, id).Scan(&m.ID, &m.Number, &m.SourceLocationID, &m.DestinationLocationID,
		&m.MutationDate, &m.Notes, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, notFound(err, "mutation %d", id)
	}

	rows, err := q.Query(ctx, `
		SELECT id, mutation_id, line_number, item_id, unit_id, requested_quantity, converted_quantity
		FROM mutation_lines
		WHERE mutation_id = $1
		ORDER BY line_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation lines: %w", err)
	}
	index := map[int64]int{}
	for rows.Next() {
		var l core.MutationLine
		if err := rows.Scan(&l.ID, &l.MutationID, &l.LineNumber, &l.ItemID, &l.UnitID, &l.RequestedQuantity, &l.ConvertedQuantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan mutation line: %w", err)
		}
		index[l.ID] = len(m.Lines)
		m.Lines = append(m.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT i.id, i.mutation_line_id, i.source_batch_id, i.destination_batch_id, i.quantity, i.unit_cost, i.value
		FROM mutation_items i
		JOIN mutation_lines l ON l.id = i.mutation_line_id
		WHERE l.mutation_id = $1
		ORDER BY i.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lineID int64
		var it core.MutationItem
		if err := rows.Scan(&it.ID, &lineID, &it.SourceBatchID, &it.DestinationBatchID, &it.Quantity, &it.UnitCost, &it.Value); err != nil {
			return nil, fmt.Errorf("failed to scan mutation item: %w", err)
		}
		if i, ok := index[lineID]; ok {
			it.LineNumber = m.Lines[i].LineNumber
			it.ItemID = m.Lines[i].ItemID
			m.Lines[i].Items = append(m.Lines[i].Items, it)
		}
	}
	return &m, rows.Err()
}

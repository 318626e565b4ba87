package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitConversion is one entry of an item's conversion table.
// Value is the unit's size relative to the other units of the same item.
type UnitConversion struct {
	UnitID            int64           `json:"unit_id"`
	Value             decimal.Decimal `json:"value"`
	IsSmallest        bool            `json:"is_smallest"`
	IsDefaultPurchase bool            `json:"is_default_purchase"`
	IsDefaultUsage    bool            `json:"is_default_usage"`
	IsDefaultMutation bool            `json:"is_default_mutation"`
}

// ConversionTable maps unit id to its conversion entry for one item.
type ConversionTable struct {
	ItemID int64                    `json:"item_id"`
	Units  map[int64]UnitConversion `json:"units"`
}

// NewConversionTable builds a table from a list of entries.
func NewConversionTable(itemID int64, units ...UnitConversion) ConversionTable {
	t := ConversionTable{ItemID: itemID, Units: make(map[int64]UnitConversion, len(units))}
	for _, u := range units {
		t.Units[u.UnitID] = u
	}
	return t
}

// Smallest returns the entry flagged as the item's smallest unit.
func (t ConversionTable) Smallest() (UnitConversion, bool) {
	for _, u := range t.Units {
		if u.IsSmallest {
			return u, true
		}
	}
	return UnitConversion{}, false
}

// ToSmallest converts qty expressed in unitID into the item's smallest unit.
func (t ConversionTable) ToSmallest(qty decimal.Decimal, unitID int64) (decimal.Decimal, error) {
	unit, ok := t.Units[unitID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: item %d has no unit %d", ErrMissingConversion, t.ItemID, unitID)
	}
	smallest, ok := t.Smallest()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: item %d has no smallest unit", ErrMissingConversion, t.ItemID)
	}
	if !unit.Value.IsPositive() || !smallest.Value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: item %d unit %d has non-positive value", ErrMissingConversion, t.ItemID, unitID)
	}
	if unit.UnitID == smallest.UnitID {
		return qty, nil
	}
	return qty.Mul(unit.Value).Div(smallest.Value), nil
}

// ConvertLines validates and converts submitted lines using the master-data tables.
// Every quantity must be positive; every (item, unit) must be present.
func ConvertLines(lines []LineInput, tables map[int64]ConversionTable) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, invalidQuantity("line %d: quantity must be positive, got %s", i+1, l.Quantity)
		}
		table, ok := tables[l.ItemID]
		if !ok {
			return nil, fmt.Errorf("line %d: %w: item %d", i+1, ErrMissingConversion, l.ItemID)
		}
		converted, err := table.ToSmallest(l.Quantity, l.UnitID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !converted.IsPositive() {
			return nil, invalidQuantity("line %d: converted quantity must be positive, got %s", i+1, converted)
		}
		out[i] = converted
	}
	return out, nil
}

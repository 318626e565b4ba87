package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ximopet/internal/core"
)

// CatalogWriter is the write side of the item, unit and location catalogue.
type CatalogWriter interface {
	UpsertItem(ctx context.Context, code, name string) (int64, error)
	UpsertUnit(ctx context.Context, code, name string) (int64, error)
	UpsertLocation(ctx context.Context, code, name string, parentID *int64) (int64, error)
	SetConversions(ctx context.Context, table core.ConversionTable) error
}

// Catalog holds the ids assigned by SeedCatalog, keyed by code.
type Catalog struct {
	Items     map[string]int64
	Units     map[string]int64
	Locations map[string]int64
}

type unitFactor struct {
	unit  string
	value int64
}

var (
	starterUnits = []unitFactor{{"KG", 1}, {"SAK", 50}, {"TON", 1000}}
	premixUnits  = []unitFactor{{"GR", 1}, {"KG", 1000}}
)

// SeedCatalog writes the farm starter catalogue: two feeds and a premix, two farms and
// their coops. The first unit of each item is its smallest; sacks are the purchase
// and transfer default for feed.
func SeedCatalog(ctx context.Context, md CatalogWriter) (*Catalog, error) {
	c := &Catalog{Items: map[string]int64{}, Units: map[string]int64{}, Locations: map[string]int64{}}

	for _, u := range [][2]string{{"GR", "Gram"}, {"KG", "Kilogram"}, {"SAK", "Sack (50 kg)"}, {"TON", "Tonne"}} {
		id, err := md.UpsertUnit(ctx, u[0], u[1])
		if err != nil {
			return nil, fmt.Errorf("failed to seed unit %s: %w", u[0], err)
		}
		c.Units[u[0]] = id
	}

	items := []struct {
		code, name string
		units      []unitFactor
	}{
		{"FEED-STARTER", "Broiler starter feed", starterUnits},
		{"FEED-GROWER", "Broiler grower feed", starterUnits},
		{"PREMIX-VIT", "Vitamin premix", premixUnits},
	}
	for _, it := range items {
		id, err := md.UpsertItem(ctx, it.code, it.name)
		if err != nil {
			return nil, fmt.Errorf("failed to seed item %s: %w", it.code, err)
		}
		c.Items[it.code] = id

		conversions := make([]core.UnitConversion, len(it.units))
		for i, u := range it.units {
			conversions[i] = core.UnitConversion{
				UnitID:            c.Units[u.unit],
				Value:             decimal.NewFromInt(u.value),
				IsSmallest:        i == 0,
				IsDefaultUsage:    i == 0,
				IsDefaultPurchase: u.unit == "SAK",
				IsDefaultMutation: u.unit == "SAK",
			}
		}
		if err := md.SetConversions(ctx, core.NewConversionTable(id, conversions...)); err != nil {
			return nil, fmt.Errorf("failed to seed conversions for %s: %w", it.code, err)
		}
	}

	farms := []struct {
		code, name string
		coops      []string
	}{
		{"FARM-A", "Farm A", []string{"COOP-A1", "COOP-A2"}},
		{"FARM-B", "Farm B", []string{"COOP-B1"}},
	}
	for _, f := range farms {
		farmID, err := md.UpsertLocation(ctx, f.code, f.name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to seed location %s: %w", f.code, err)
		}
		c.Locations[f.code] = farmID
		for _, coop := range f.coops {
			id, err := md.UpsertLocation(ctx, coop, "Coop "+coop[len("COOP-"):], &farmID)
			if err != nil {
				return nil, fmt.Errorf("failed to seed location %s: %w", coop, err)
			}
			c.Locations[coop] = id
		}
	}
	return c, nil
}

// Package store selects and opens the configured ledger backend.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ximopet/internal/config"
	"ximopet/internal/core"
	"ximopet/internal/db"
	"ximopet/internal/store/memory"
	"ximopet/internal/store/postgres"
	"ximopet/migrations"
)

// Backend is an opened store with the transition policy it supplies.
type Backend struct {
	Store  core.Store
	Policy core.TransitionPolicy
	// Postgres is set when the postgres driver is in use.
	Postgres *postgres.Store
	close    func()
}

// Close releases the backend's resources.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open connects the driver named by cfg.Store.Driver. The postgres driver applies
// pending migrations first. The memory driver starts with the seeded catalogue.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backend, error) {
	switch cfg.Store.Driver {
	case "postgres", "":
		if err := migrations.Up(ctx, cfg.Postgres.DSN); err != nil {
			return nil, err
		}
		pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(pool)
		b := &Backend{Store: pg, Postgres: pg, close: pool.Close}
		if cfg.Workflow.RulesFromDB {
			policy, err := core.LoadTransitionPolicy(ctx, pg)
			if err != nil {
				pool.Close()
				return nil, err
			}
			b.Policy = policy
			log.WithField("rules", len(policy.Rules())).Info("transition rules loaded from database")
		}
		return b, nil

	case "memory":
		st := memory.New()
		if _, err := SeedCatalog(ctx, newMemoryCatalog(st)); err != nil {
			return nil, err
		}
		if cfg.Workflow.RulesFromDB {
			log.Warn("workflow.rules_from_db ignored by the memory store; using built-in rules")
		}
		return &Backend{Store: st}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q (want postgres or memory)", cfg.Store.Driver)
}

// memoryCatalog assigns sequential ids per code so the memory store can take the
// same catalogue as postgres. Only conversions are stored; the engine reads nothing else.
type memoryCatalog struct {
	st  *memory.Store
	ids map[string]map[string]int64
}

func newMemoryCatalog(st *memory.Store) *memoryCatalog {
	return &memoryCatalog{st: st, ids: map[string]map[string]int64{}}
}

func (m *memoryCatalog) id(kind, code string) int64 {
	codes, ok := m.ids[kind]
	if !ok {
		codes = map[string]int64{}
		m.ids[kind] = codes
	}
	if id, ok := codes[code]; ok {
		return id
	}
	id := int64(len(codes) + 1)
	codes[code] = id
	return id
}

func (m *memoryCatalog) UpsertItem(_ context.Context, code, _ string) (int64, error) {
	return m.id("item", code), nil
}

func (m *memoryCatalog) UpsertUnit(_ context.Context, code, _ string) (int64, error) {
	return m.id("unit", code), nil
}

func (m *memoryCatalog) UpsertLocation(_ context.Context, code, _ string, _ *int64) (int64, error) {
	return m.id("location", code), nil
}

func (m *memoryCatalog) SetConversions(_ context.Context, table core.ConversionTable) error {
	m.st.SetConversions(table)
	return nil
}

// seed writes the starter master data: units, feed items with their conversion
// tables, and the farm/coop locations. It is idempotent; codes are upserted.
//
// Usage: go run ./cmd/seed [-config file]
package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"ximopet/internal/config"
	"ximopet/internal/logging"
	"ximopet/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("prod").Fatalf("config: %v", err)
	}
	cfg.Store.Driver = "postgres"
	log := logging.New(cfg.App.Env)

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer backend.Close()

	catalog, err := store.SeedCatalog(ctx, backend.Postgres)
	if err != nil {
		backend.Close()
		log.Fatalf("Failed to seed catalogue: %v", err)
	}
	log.WithFields(logrus.Fields{
		"items":     catalog.Items,
		"units":     catalog.Units,
		"locations": catalog.Locations,
	}).Info("seed data restored")
}

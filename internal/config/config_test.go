package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"ximopet/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://fallback/db")
	dir := t.TempDir()

	c, err := config.Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %q, want :8080", c.HTTP.Addr)
	}
	if c.Store.Driver != "postgres" {
		t.Errorf("store.driver = %q, want postgres", c.Store.Driver)
	}
	if c.Postgres.DSN != "postgres://fallback/db" {
		t.Errorf("postgres.dsn = %q, want DATABASE_URL fallback", c.Postgres.DSN)
	}
	if !c.Metrics.Enabled {
		t.Error("metrics.enabled should default to true")
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "app:\n  env: prod\nhttp:\n  addr: \":9000\"\nstore:\n  driver: memory\nworkflow:\n  rules_from_db: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGER_HTTP_ADDR", ":9100")

	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Env != "prod" {
		t.Errorf("app.env = %q, want prod", c.App.Env)
	}
	if c.HTTP.Addr != ":9100" {
		t.Errorf("http.addr = %q, want env override :9100", c.HTTP.Addr)
	}
	if c.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", c.Store.Driver)
	}
	if !c.Workflow.RulesFromDB {
		t.Error("workflow.rules_from_db should be true")
	}
}

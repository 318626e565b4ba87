package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"ximopet/internal/adapters/cli"
	"ximopet/internal/app"
	"ximopet/internal/config"
	"ximopet/internal/core"
	"ximopet/internal/logging"
	"ximopet/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so command output stays clean on stdout.
	log := logging.NewWithOutput(cfg.App.Env, os.Stderr)

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	svc := app.NewAppService(core.NewEngine(backend.Store, backend.Policy, log, nil), log)
	err = cli.Run(ctx, svc, flag.Args(), os.Stdout)
	backend.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

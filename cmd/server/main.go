package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	webAdapter "ximopet/internal/adapters/web"
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
		logging.New("prod").Fatalf("config: %v", err)
	}
	log := logging.New(cfg.App.Env)

	if err := run(cfg, log); err != nil {
		log.Fatalf("%v", err)
	}
	log.Info("server stopped")
}

// run serves until interrupted. It returns instead of exiting so deferred
// cleanup, the store close in particular, always runs.
func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer backend.Close()

	var (
		metrics        *core.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = core.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	engine := core.NewEngine(backend.Store, backend.Policy, log, metrics)
	svc := app.NewAppService(engine, log)
	handler := webAdapter.NewHandler(svc, log, cfg.HTTP.AllowedOrigins, metricsHandler)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.HTTP.Addr).WithField("store", cfg.Store.Driver).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/splusd-labs/splusd-tracker/internal/app"
	"github.com/splusd-labs/splusd-tracker/internal/cache"
	"github.com/splusd-labs/splusd-tracker/internal/config"
	"github.com/splusd-labs/splusd-tracker/internal/httpserver"
	"github.com/splusd-labs/splusd-tracker/internal/logger"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
	"github.com/splusd-labs/splusd-tracker/pkg/version"
)

func main() {
	_ = godotenv.Load() // Load .env if present

	configPath := flag.String("config", os.Getenv("SPLUSD_CONFIG"), "path to YAML config (defaults only when empty)")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := logger.Configure(log, cfg.Logging); err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}
	log.WithField("version", version.String()).Info("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Tracker()
	tracker, err := app.Open(ctx, cfg, m, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start tracker")
	}
	defer tracker.Close()

	snapshots := cache.NewSnapshotCache(tracker.Builder, cache.Options{Interval: cfg.Refresh.Interval.Duration},
		m, logger.WithComponent(log, "refresher"))
	server := httpserver.New(httpserver.Config{
		Cache:             snapshots,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Metrics:           m,
		Log:               logger.WithComponent(log, "http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snapshots.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, cfg.HTTP.Listen)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
		return
	}
	log.Info("stopped")
}

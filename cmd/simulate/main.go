package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/splusd-labs/splusd-tracker/internal/app"
	"github.com/splusd-labs/splusd-tracker/internal/config"
	"github.com/splusd-labs/splusd-tracker/internal/logger"
	"github.com/splusd-labs/splusd-tracker/pkg/export"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config")
	format := flag.String("format", "json", "output format: json or csv")
	persist := flag.Bool("persist", false, "record history in the configured store instead of memory")
	flag.Parse()

	log := logger.New()
	log.SetOutput(os.Stderr)

	f, err := export.ParseFormat(*format)
	if err != nil {
		log.WithError(err).Fatal("invalid format")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if !*persist {
		cfg.Store.Driver = config.DriverMemory
	}

	ctx := context.Background()
	tracker, err := app.Open(ctx, cfg, nil, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start tracker")
	}
	defer tracker.Close()

	log.WithField("token", cfg.Tokens.SplUSD).Info("building snapshot")
	snap := tracker.Builder.Build(ctx)
	if err := export.Write(os.Stdout, f, snap); err != nil {
		log.WithError(err).Fatal("failed to write snapshot")
	}
	if snap.Failed() {
		fmt.Fprintln(os.Stderr, "snapshot failed:", snap.Error)
		tracker.Close()
		os.Exit(1)
	}
}

// Package app wires configuration into a running tracker.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/splusd-labs/splusd-tracker/internal/adapters/chain"
	"github.com/splusd-labs/splusd-tracker/internal/adapters/store"
	"github.com/splusd-labs/splusd-tracker/internal/config"
	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/core/service"
	"github.com/splusd-labs/splusd-tracker/internal/logger"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
	"github.com/splusd-labs/splusd-tracker/internal/registry"
)

// Tracker holds the wired components of one process.
type Tracker struct {
	History *service.HistoryAccumulator
	Builder *service.SnapshotBuilder

	closers []func() error
}

// Open dials the chain and opens the history store named by cfg.
func Open(ctx context.Context, cfg config.Config, m *metrics.TrackerMetrics, log logrus.FieldLogger) (*Tracker, error) {
	eth, err := chain.Dial(ctx, chain.Options{
		RPCURL:            cfg.Chain.RPCURL,
		FallbackRPCURL:    cfg.Chain.FallbackRPCURL,
		ChainID:           cfg.Chain.ChainID,
		CallTimeout:       cfg.Chain.CallTimeout.Duration,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Burst:             cfg.Chain.Burst,
	}, logger.WithComponent(log, "chain"))
	if err != nil {
		return nil, err
	}
	kv, err := store.Open(cfg.Store)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}
	t, err := New(cfg, eth, kv, m, log)
	if err != nil {
		kv.Close()
		eth.Close()
		return nil, err
	}
	t.closers = append(t.closers, kv.Close, func() error { eth.Close(); return nil })
	return t, nil
}

// New wires the services over an existing chain client and store. The
// caller keeps ownership of both.
func New(cfg config.Config, client domain.ChainClient, kv domain.KeyValueStore, m *metrics.TrackerMetrics, log logrus.FieldLogger) (*Tracker, error) {
	reg, err := registry.New(cfg.Protocols, cfg.KnownContracts)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	balances := service.NewBalanceAggregator(client, cfg.Analysis.Concurrency)

	var borrowers *service.BorrowerAnalyzer
	if cfg.Tokens.BorrowAsset != "" && cfg.Tokens.LendingVault != "" {
		borrowers = service.NewBorrowerAnalyzer(client, reg, service.BorrowerOptions{
			Vault:              address(cfg.Tokens.LendingVault),
			BorrowAsset:        address(cfg.Tokens.BorrowAsset),
			WindowBlocks:       cfg.Analysis.WindowBlocks,
			FollowBlocks:       cfg.Analysis.FollowBlocks,
			MaxBorrowers:       cfg.Analysis.MaxBorrowers,
			MaterialityPct:     *cfg.Analysis.MaterialityPct,
			Concurrency:        cfg.Analysis.Concurrency,
			CollateralDecimals: cfg.Tokens.CollateralDecimals,
			BorrowDecimals:     cfg.Tokens.BorrowDecimals,
		}, logger.WithComponent(log, "borrowers"))
	} else {
		log.Info("borrow asset not configured, borrower analysis disabled")
	}

	history := service.NewHistoryAccumulator(kv, nil, cfg.History.MinInterval.Duration, cfg.History.Retention.Duration,
		logger.WithComponent(log, "history"))

	builder := service.NewSnapshotBuilder(client, reg, balances, borrowers, history, service.SnapshotOptions{
		Token:              address(cfg.Tokens.SplUSD),
		PlUSD:              address(cfg.Tokens.PlUSD),
		PendleSY:           address(cfg.Tokens.PendleSY),
		PendlePT:           address(cfg.Tokens.PendlePT),
		PendleYT:           address(cfg.Tokens.PendleYT),
		LendingProtocolKey: registry.KeyEuler,
		PendleProtocolKey:  registry.KeyPendle,
	}, m, nil, logger.WithComponent(log, "snapshot"))

	return &Tracker{History: history, Builder: builder}, nil
}

// Close releases what Open acquired, in reverse order.
func (t *Tracker) Close() error {
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	t.closers = nil
	return first
}

// address returns the zero address for an empty string; validated by config.
func address(raw string) common.Address {
	if raw == "" {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

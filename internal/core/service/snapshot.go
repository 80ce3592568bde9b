package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
	"github.com/splusd-labs/splusd-tracker/pkg/units"
)

// ProtocolSource lists the tracked protocols. *registry.Registry implements it.
type ProtocolSource interface {
	Protocols() []domain.ProtocolEntry
}

// SnapshotOptions names the tracked token and the optional side assets.
// Zero addresses disable the feature that needs them.
type SnapshotOptions struct {
	Token common.Address
	PlUSD common.Address

	PendleSY common.Address
	PendlePT common.Address
	PendleYT common.Address

	LendingProtocolKey string
	PendleProtocolKey  string
}

// SnapshotBuilder composes one DistributionSnapshot per refresh.
type SnapshotBuilder struct {
	chain     domain.ChainClient
	protocols ProtocolSource
	balances  *BalanceAggregator
	borrowers *BorrowerAnalyzer
	history   *HistoryAccumulator
	opts      SnapshotOptions
	metrics   *metrics.TrackerMetrics
	now       domain.Clock
	newID     func() string
	log       logrus.FieldLogger
}

// NewSnapshotBuilder wires the builder. borrowers may be nil when no
// lending vault is tracked; m may be nil to skip metrics.
func NewSnapshotBuilder(
	chain domain.ChainClient,
	protocols ProtocolSource,
	balances *BalanceAggregator,
	borrowers *BorrowerAnalyzer,
	history *HistoryAccumulator,
	opts SnapshotOptions,
	m *metrics.TrackerMetrics,
	now domain.Clock,
	log logrus.FieldLogger,
) *SnapshotBuilder {
	if now == nil {
		now = time.Now
	}
	return &SnapshotBuilder{
		chain:     chain,
		protocols: protocols,
		balances:  balances,
		borrowers: borrowers,
		history:   history,
		opts:      opts,
		metrics:   m,
		now:       now,
		newID:     uuid.NewString,
		log:       log,
	}
}

// Build runs one refresh. Failures on the supply, decimals or balance
// path yield an error snapshot with no distributions; everything else
// degrades to an omitted or flagged field.
func (b *SnapshotBuilder) Build(ctx context.Context) *domain.DistributionSnapshot {
	id := b.newID()
	log := b.log.WithField("cycle_id", id)

	// 1. Fetch total supply and decimals
	var (
		totalSupply *big.Int
		decimals    uint8
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := b.chain.TotalSupply(gctx, b.opts.Token)
		if err != nil {
			return fmt.Errorf("failed to get total supply: %w", err)
		}
		totalSupply = v
		return nil
	})
	g.Go(func() error {
		v, err := b.chain.Decimals(gctx, b.opts.Token)
		if err != nil {
			return fmt.Errorf("failed to get decimals: %w", err)
		}
		decimals = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return b.failed(id, log, err)
	}

	// 2. Sum protocol balances
	protocols := b.protocols.Protocols()
	agg, err := b.balances.Aggregate(ctx, b.opts.Token, protocols, totalSupply)
	if err != nil {
		return b.failed(id, log, fmt.Errorf("failed to aggregate balances: %w", err))
	}
	if agg.Idle.Sign() < 0 {
		log.WithField("idle", agg.Idle.String()).Warn("negative idle balance, protocol address sets overlap")
	}

	// 3. Head block for the borrower scan
	head, err := b.chain.BlockNumber(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get block number, skipping borrower analysis")
		head = 0
	}

	// 4. Protocol entries with their optional detail
	distributions := make([]domain.DistributionEntry, 0, len(agg.Protocols)+1)
	borrowerCount := 0
	for _, pb := range agg.Protocols {
		entry := domain.DistributionEntry{
			Location:   pb.Protocol.Name,
			RawAmount:  pb.Balance,
			Amount:     units.FormatTokenAmount(pb.Balance, decimals),
			Percentage: pb.Percentage,
		}
		if len(pb.Protocol.Addresses) > 0 {
			entry.Address = pb.Protocol.Addresses[0].Hex()
		}
		switch pb.Protocol.Key {
		case b.opts.LendingProtocolKey:
			if b.borrowers != nil && head > 0 {
				analysis := b.borrowers.Analyze(ctx, head)
				if len(analysis.Borrowers) > 0 {
					entry.Borrowers = analysis.Borrowers
				}
				if len(analysis.Destinations) > 0 {
					entry.BorrowerDestinations = analysis.Destinations
				}
				borrowerCount = len(analysis.Borrowers)
			}
		case b.opts.PendleProtocolKey:
			entry.PendleBreakdown = b.pendleBreakdown(ctx, decimals, log)
		}
		distributions = append(distributions, entry)
		b.metrics.SetShare(entry.Location, entry.Percentage)
	}

	// 5. Sort by percentage, idle last
	sort.SliceStable(distributions, func(i, j int) bool {
		return distributions[i].Percentage > distributions[j].Percentage
	})
	distributions = append(distributions, domain.DistributionEntry{
		Location:   domain.IdleWalletsLocation,
		RawAmount:  agg.Idle,
		Amount:     units.FormatTokenAmount(agg.Idle, decimals),
		Percentage: agg.IdlePercentage,
	})

	// 6. History
	supplyDisplay := units.FormatTokenAmount(totalSupply, decimals)
	idleHistory := b.history.RecordPoint(ctx, IdleWalletSeries, agg.IdlePercentage)
	tvlHistory := b.history.Record(ctx, TVLSeries, Sample{
		Value:   units.ToDecimal(totalSupply, decimals).InexactFloat64(),
		Raw:     totalSupply.String(),
		Display: supplyDisplay,
	})

	// 7. plUSD backing share
	plusd := b.plusdShare(ctx, totalSupply, decimals, log)

	b.metrics.SetIdleShare(agg.IdlePercentage)
	b.metrics.SetBorrowersAnalyzed(borrowerCount)
	b.metrics.SetHistoryPoints(IdleWalletSeries, len(idleHistory))
	b.metrics.SetHistoryPoints(TVLSeries, len(tvlHistory))

	log.WithFields(logrus.Fields{
		"total_supply": supplyDisplay,
		"entries":      len(distributions),
		"block":        head,
	}).Info("snapshot built")

	return &domain.DistributionSnapshot{
		ID:                id,
		TotalSupply:       supplyDisplay,
		TotalSupplyRaw:    totalSupply.String(),
		Decimals:          decimals,
		BlockNumber:       head,
		Distributions:     distributions,
		IdleWalletHistory: idleHistory,
		TVLHistory:        tvlHistory,
		PlusdShare:        plusd,
		LastUpdate:        b.now().UnixMilli(),
	}
}

func (b *SnapshotBuilder) failed(id string, log logrus.FieldLogger, err error) *domain.DistributionSnapshot {
	log.WithError(err).Error("snapshot failed")
	return &domain.DistributionSnapshot{
		ID:            id,
		TotalSupply:   "0",
		Distributions: []domain.DistributionEntry{},
		LastUpdate:    b.now().UnixMilli(),
		Error:         err.Error(),
	}
}

// pendleBreakdown splits the token's own SY, PT and YT holdings. It returns
// nil when the legs are not configured, cannot be fetched or sum to zero.
func (b *SnapshotBuilder) pendleBreakdown(ctx context.Context, decimals uint8, log logrus.FieldLogger) *domain.PendleBreakdown {
	legs := []common.Address{b.opts.PendleSY, b.opts.PendlePT, b.opts.PendleYT}
	for _, leg := range legs {
		if leg == (common.Address{}) {
			return nil
		}
	}
	balances := make([]*big.Int, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	for i, leg := range legs {
		g.Go(func() error {
			bal, err := b.chain.BalanceOf(gctx, leg, b.opts.Token)
			if err != nil {
				return err
			}
			balances[i] = bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("failed to fetch pendle breakdown")
		return nil
	}
	total := new(big.Int)
	for _, bal := range balances {
		total.Add(total, bal)
	}
	if total.Sign() == 0 {
		return nil
	}
	share := func(bal *big.Int) domain.TokenShare {
		return domain.TokenShare{
			Amount:     units.FormatTokenAmount(bal, decimals),
			Percentage: domain.Percentage(bal, total),
		}
	}
	return &domain.PendleBreakdown{
		SY: share(balances[0]),
		PT: share(balances[1]),
		YT: share(balances[2]),
	}
}

// plusdShare measures the plUSD held by the token contract against its
// supply. Failures return a zero share flagged Degraded.
func (b *SnapshotBuilder) plusdShare(ctx context.Context, totalSupply *big.Int, decimals uint8, log logrus.FieldLogger) *domain.PLUSDShare {
	share := &domain.PLUSDShare{
		PlusdInSplUSD:    "0",
		PlusdInSplUSDRaw: "0",
		TotalSplUSD:      units.FormatTokenAmount(totalSupply, decimals),
		TotalSplUSDRaw:   totalSupply.String(),
		LastUpdate:       b.now().UnixMilli(),
	}
	if b.opts.PlUSD == (common.Address{}) {
		share.Degraded = true
		share.Reason = "plusd token not configured"
		return share
	}
	bal, err := b.chain.BalanceOf(ctx, b.opts.PlUSD, b.opts.Token)
	if err != nil {
		log.WithError(err).Warn("failed to fetch plusd share")
		share.Degraded = true
		share.Reason = err.Error()
		return share
	}
	share.PlusdInSplUSD = units.FormatTokenAmount(bal, decimals)
	share.PlusdInSplUSDRaw = bal.String()
	share.Percentage = domain.Percentage(bal, totalSupply)
	return share
}

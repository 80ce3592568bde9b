package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/pkg/units"
)

const unknownTransferDescription = "Transferred to unknown address"

// Classifier labels transfer destinations. *registry.Registry implements it.
type Classifier interface {
	Classify(addr common.Address) (string, domain.Category)
	KnownContract(addr common.Address) (domain.KnownContract, bool)
}

// BorrowerOptions bounds the lending vault scan.
type BorrowerOptions struct {
	Vault       common.Address
	BorrowAsset common.Address

	WindowBlocks uint64
	// FollowBlocks is how far past a borrow transfer the beneficiary's
	// outbound transfers are attributed to it. Transfers after the window
	// are missed and unrelated transfers inside it are counted.
	FollowBlocks   uint64
	MaxBorrowers   int
	MaterialityPct float64
	Concurrency    int

	CollateralDecimals uint8
	BorrowDecimals     uint8
}

// BorrowerAnalysis is the best-effort result of one scan.
type BorrowerAnalysis struct {
	FromBlock    uint64
	ToBlock      uint64
	Destinations []domain.DestinationShare
	Borrowers    []domain.BorrowerRecord
}

// BorrowerAnalyzer correlates lending vault borrows with where the
// borrowed asset went.
type BorrowerAnalyzer struct {
	chain    domain.ChainClient
	registry Classifier
	opts     BorrowerOptions
	log      logrus.FieldLogger
}

func NewBorrowerAnalyzer(chain domain.ChainClient, registry Classifier, opts BorrowerOptions, log logrus.FieldLogger) *BorrowerAnalyzer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &BorrowerAnalyzer{chain: chain, registry: registry, opts: opts, log: log}
}

// Window returns the scanned block range ending at head.
func (a *BorrowerAnalyzer) Window(head uint64) (uint64, uint64) {
	if head <= a.opts.WindowBlocks {
		return 0, head
	}
	return head - a.opts.WindowBlocks, head
}

// Analyze runs the aggregate destination scan and the per-borrower
// breakdown. It never fails; missing data yields empty lists.
func (a *BorrowerAnalyzer) Analyze(ctx context.Context, head uint64) *BorrowerAnalysis {
	from, to := a.Window(head)
	out := &BorrowerAnalysis{FromBlock: from, ToBlock: to}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Borrowers = a.Borrowers(ctx, from, to)
	}()
	go func() {
		defer wg.Done()
		out.Destinations = a.Destinations(ctx, from, to)
	}()
	wg.Wait()
	return out
}

type destinationKey struct {
	name     string
	category domain.Category
}

// Destinations follows every vault → beneficiary transfer of the borrow
// asset in [from, to] and accumulates the beneficiary's outbound transfers
// inside the follow window per destination.
func (a *BorrowerAnalyzer) Destinations(ctx context.Context, from, to uint64) []domain.DestinationShare {
	log := a.log.WithField("scan", "destinations")
	vault := a.opts.Vault
	borrows, err := a.chain.QueryLogs(ctx, domain.LogQuery{
		Contract:  a.opts.BorrowAsset,
		Event:     domain.EventTransfer,
		Indexed:   []*common.Address{&vault, nil},
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		log.WithError(err).Warn("borrow transfer query failed")
		return nil
	}

	follow := make([][]domain.Log, len(borrows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, l := range borrows {
		if l.Transfer == nil {
			continue
		}
		ev := l.Transfer
		g.Go(func() error {
			beneficiary := ev.To
			end := ev.BlockNumber + a.opts.FollowBlocks
			if end > to {
				end = to
			}
			logs, err := a.chain.QueryLogs(gctx, domain.LogQuery{
				Contract:  a.opts.BorrowAsset,
				Event:     domain.EventTransfer,
				Indexed:   []*common.Address{&beneficiary},
				FromBlock: ev.BlockNumber,
				ToBlock:   end,
			})
			if err != nil {
				log.WithError(err).WithField("beneficiary", beneficiary.Hex()).Warn("follow-window query failed")
				return nil
			}
			follow[i] = logs
			return nil
		})
	}
	_ = g.Wait()

	var order []destinationKey
	totals := make(map[destinationKey]*big.Int)
	grand := new(big.Int)
	for _, logs := range follow {
		for _, l := range logs {
			if l.Transfer == nil || l.Transfer.Value == nil {
				continue
			}
			name, category := a.registry.Classify(l.Transfer.To)
			key := destinationKey{name: name, category: category}
			sum, ok := totals[key]
			if !ok {
				sum = new(big.Int)
				totals[key] = sum
				order = append(order, key)
			}
			sum.Add(sum, l.Transfer.Value)
			grand.Add(grand, l.Transfer.Value)
		}
	}

	shares := make([]domain.DestinationShare, 0, len(order))
	for _, key := range order {
		amount := totals[key]
		shares = append(shares, domain.DestinationShare{
			Protocol:    key.name,
			Category:    key.category,
			RawAmount:   amount,
			Amount:      units.FormatTokenAmount(amount, a.opts.BorrowDecimals),
			Percentage:  domain.Percentage(amount, grand),
			Color:       key.category.Color(),
			Description: key.category.Description(),
		})
	}
	sortShares(shares)
	return shares
}

// Borrowers builds the per-borrower breakdown for the first MaxBorrowers
// distinct owners seen in vault Borrow events in [from, to], ordered by
// collateralization ratio descending.
func (a *BorrowerAnalyzer) Borrowers(ctx context.Context, from, to uint64) []domain.BorrowerRecord {
	log := a.log.WithField("scan", "borrowers")
	events, err := a.chain.QueryLogs(ctx, domain.LogQuery{
		Contract:  a.opts.Vault,
		Event:     domain.EventBorrow,
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		log.WithError(err).Warn("borrow event query failed")
		return nil
	}

	owners := uniqueOwners(events, a.opts.MaxBorrowers)
	log.WithFields(logrus.Fields{"from": from, "to": to, "borrowers": len(owners)}).Debug("found borrowers")

	records := make([]*domain.BorrowerRecord, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, owner := range owners {
		g.Go(func() error {
			rec, err := a.borrower(gctx, owner, from, to)
			if err != nil {
				log.WithError(err).WithField("borrower", owner.Hex()).Warn("skipping borrower")
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.BorrowerRecord, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollateralizationRatio > out[j].CollateralizationRatio
	})
	return out
}

func uniqueOwners(events []domain.Log, limit int) []common.Address {
	seen := make(map[common.Address]struct{})
	var owners []common.Address
	for _, l := range events {
		if l.Borrow == nil || l.Borrow.Owner == (common.Address{}) {
			continue
		}
		if _, ok := seen[l.Borrow.Owner]; ok {
			continue
		}
		seen[l.Borrow.Owner] = struct{}{}
		owners = append(owners, l.Borrow.Owner)
		if limit > 0 && len(owners) == limit {
			break
		}
	}
	return owners
}

// borrower returns nil without error when the borrower has no collateral
// or no borrow transfers in the window.
func (a *BorrowerAnalyzer) borrower(ctx context.Context, owner common.Address, from, to uint64) (*domain.BorrowerRecord, error) {
	shares, err := a.chain.BalanceOf(ctx, a.opts.Vault, owner)
	if err != nil {
		return nil, fmt.Errorf("collateral shares: %w", err)
	}
	if shares.Sign() == 0 {
		return nil, nil
	}
	collateral, err := a.chain.ConvertToAssets(ctx, a.opts.Vault, shares)
	if err != nil {
		return nil, fmt.Errorf("convert shares: %w", err)
	}

	vault := a.opts.Vault
	received, err := a.chain.QueryLogs(ctx, domain.LogQuery{
		Contract:  a.opts.BorrowAsset,
		Event:     domain.EventTransfer,
		Indexed:   []*common.Address{&vault, &owner},
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("borrow transfers: %w", err)
	}
	borrowed := new(big.Int)
	for _, l := range received {
		if l.Transfer != nil && l.Transfer.Value != nil {
			borrowed.Add(borrowed, l.Transfer.Value)
		}
	}
	if borrowed.Sign() == 0 {
		return nil, nil
	}

	actions, err := a.actions(ctx, owner, borrowed, from, to)
	if err != nil {
		return nil, err
	}
	return &domain.BorrowerRecord{
		Address:                owner.Hex(),
		BorrowedRaw:            borrowed,
		BorrowedAmount:         units.FormatTokenAmount(borrowed, a.opts.BorrowDecimals),
		CollateralRaw:          collateral,
		CollateralAmount:       units.FormatTokenAmount(collateral, a.opts.CollateralDecimals),
		CollateralizationRatio: units.Ratio(collateral, a.opts.CollateralDecimals, borrowed, a.opts.BorrowDecimals),
		Actions:                actions,
	}, nil
}

// actions groups the borrower's outbound transfers by destination. Shares
// are taken against the larger of the amount borrowed and the amount sent,
// so a borrower spending pre-existing funds still sums to at most 100.
func (a *BorrowerAnalyzer) actions(ctx context.Context, owner common.Address, borrowed *big.Int, from, to uint64) ([]domain.DestinationShare, error) {
	sent, err := a.chain.QueryLogs(ctx, domain.LogQuery{
		Contract:  a.opts.BorrowAsset,
		Event:     domain.EventTransfer,
		Indexed:   []*common.Address{&owner},
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("outbound transfers: %w", err)
	}

	var order []common.Address
	totals := make(map[common.Address]*big.Int)
	outbound := new(big.Int)
	for _, l := range sent {
		if l.Transfer == nil || l.Transfer.Value == nil {
			continue
		}
		dest := l.Transfer.To
		sum, ok := totals[dest]
		if !ok {
			sum = new(big.Int)
			totals[dest] = sum
			order = append(order, dest)
		}
		sum.Add(sum, l.Transfer.Value)
		outbound.Add(outbound, l.Transfer.Value)
	}

	base := borrowed
	if outbound.Cmp(base) > 0 {
		base = outbound
	}

	actions := make([]domain.DestinationShare, 0, len(order))
	for _, dest := range order {
		amount := totals[dest]
		pct := domain.Percentage(amount, base)
		if pct < a.opts.MaterialityPct {
			continue
		}
		share := domain.DestinationShare{
			Category:    domain.CategoryUnknown,
			Protocol:    unknownLabel(dest),
			RawAmount:   amount,
			Amount:      units.FormatTokenAmount(amount, a.opts.BorrowDecimals),
			Percentage:  pct,
			Description: unknownTransferDescription,
		}
		if known, ok := a.registry.KnownContract(dest); ok {
			share.Category = known.Category
			share.Protocol = known.Name
			share.Description = known.Category.Description()
		}
		share.Color = share.Category.Color()
		actions = append(actions, share)
	}
	sortShares(actions)
	return actions, nil
}

func unknownLabel(addr common.Address) string {
	return fmt.Sprintf("Unknown (%s...)", strings.ToLower(addr.Hex())[:6])
}

func sortShares(shares []domain.DestinationShare) {
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Percentage > shares[j].Percentage
	})
}

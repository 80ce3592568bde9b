package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// ProtocolBalance is one protocol's summed holding.
type ProtocolBalance struct {
	Protocol   domain.ProtocolEntry
	Balance    *big.Int
	Percentage float64
}

// BalanceResult is the output of one aggregation pass.
type BalanceResult struct {
	// Protocols holds every protocol with a non-zero balance, in input order.
	Protocols []ProtocolBalance
	// Idle is totalSupply minus all protocol balances. It goes negative
	// when protocol address sets overlap.
	Idle           *big.Int
	IdlePercentage float64
}

// BalanceAggregator sums token balances across each protocol's addresses.
type BalanceAggregator struct {
	chain       domain.ChainClient
	concurrency int
}

func NewBalanceAggregator(chain domain.ChainClient, concurrency int) *BalanceAggregator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BalanceAggregator{chain: chain, concurrency: concurrency}
}

// Aggregate fetches every address balance of token concurrently. Any failed
// fetch fails the whole aggregation.
func (a *BalanceAggregator) Aggregate(ctx context.Context, token common.Address, protocols []domain.ProtocolEntry, totalSupply *big.Int) (*BalanceResult, error) {
	balances := make([][]*big.Int, len(protocols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range protocols {
		balances[i] = make([]*big.Int, len(p.Addresses))
		for j, addr := range p.Addresses {
			g.Go(func() error {
				bal, err := a.chain.BalanceOf(gctx, token, addr)
				if err != nil {
					return fmt.Errorf("balance of %s (%s): %w", addr.Hex(), p.Name, err)
				}
				balances[i][j] = bal
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BalanceResult{Idle: new(big.Int).Set(totalSupply)}
	for i, p := range protocols {
		if len(p.Addresses) == 0 {
			continue
		}
		sum := new(big.Int)
		for _, bal := range balances[i] {
			if bal != nil {
				sum.Add(sum, bal)
			}
		}
		if sum.Sign() == 0 {
			continue
		}
		result.Idle.Sub(result.Idle, sum)
		result.Protocols = append(result.Protocols, ProtocolBalance{
			Protocol:   p,
			Balance:    sum,
			Percentage: domain.Percentage(sum, totalSupply),
		})
	}
	result.IdlePercentage = domain.Percentage(result.Idle, totalSupply)
	return result, nil
}

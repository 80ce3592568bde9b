package service

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/logger"
)

var (
	protoA   = addr("0x00000000000000000000000000000000000000a1")
	protoB   = addr("0x00000000000000000000000000000000000000b1")
	pendleLP = addr("0x00000000000000000000000000000000000000c1")
	plusd    = addr("0x00000000000000000000000000000000000000f0")
	sy       = addr("0x00000000000000000000000000000000000000f1")
	pt       = addr("0x00000000000000000000000000000000000000f2")
	yt       = addr("0x00000000000000000000000000000000000000f3")
)

type snapshotFixture struct {
	chain   *fakeChain
	store   *memStore
	clock   *manualClock
	builder *SnapshotBuilder
}

func newSnapshotFixture(protocols []domain.ProtocolEntry, opts SnapshotOptions, analyzer func(*fakeChain) *BorrowerAnalyzer) *snapshotFixture {
	chain := newFakeChain()
	chain.supply = sixDec(1_000_000)
	chain.head = 10_000
	store := newMemStore()
	clock := &manualClock{t: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	log := logger.Discard()

	opts.Token = token
	var borrowers *BorrowerAnalyzer
	if analyzer != nil {
		borrowers = analyzer(chain)
	}
	b := NewSnapshotBuilder(
		chain,
		staticProtocols(protocols),
		NewBalanceAggregator(chain, 4),
		borrowers,
		NewHistoryAccumulator(store, clock.Now, 5*time.Minute, 30*24*time.Hour, log),
		opts,
		nil,
		clock.Now,
		log,
	)
	b.newID = func() string { return "cycle-1" }
	return &snapshotFixture{chain: chain, store: store, clock: clock, builder: b}
}

func twoProtocols() []domain.ProtocolEntry {
	return []domain.ProtocolEntry{
		{Key: "a", Name: "Protocol A", Addresses: []common.Address{protoA}},
		{Key: "b", Name: "Protocol B", Addresses: []common.Address{protoB}},
	}
}

func TestBuildThirtySeventySplit(t *testing.T) {
	f := newSnapshotFixture(twoProtocols(), SnapshotOptions{}, nil)
	f.chain.setBalance(token, protoA, sixDec(300_000))

	snap := f.builder.Build(context.Background())
	if snap.Failed() {
		t.Fatalf("unexpected error snapshot: %s", snap.Error)
	}
	if len(snap.Distributions) != 2 {
		t.Fatalf("distributions = %+v", snap.Distributions)
	}
	a, idle := snap.Distributions[0], snap.Distributions[1]
	if a.Location != "Protocol A" || a.Percentage != 30 || a.Amount != "300.00K" || a.Address != protoA.Hex() {
		t.Errorf("protocol A entry = %+v", a)
	}
	if idle.Location != domain.IdleWalletsLocation || idle.Percentage != 70 || idle.RawAmount.Cmp(sixDec(700_000)) != 0 {
		t.Errorf("idle entry = %+v", idle)
	}
	if idle.Address != "" {
		t.Errorf("idle entry should carry no address, got %q", idle.Address)
	}
	if snap.TotalSupply != "1.00M" || snap.TotalSupplyRaw != "1000000000000" || snap.BlockNumber != 10_000 {
		t.Errorf("header = %q %q %d", snap.TotalSupply, snap.TotalSupplyRaw, snap.BlockNumber)
	}
	if snap.ID != "cycle-1" || snap.LastUpdate != f.clock.t.UnixMilli() {
		t.Errorf("id/lastUpdate = %q %d", snap.ID, snap.LastUpdate)
	}
	if len(snap.IdleWalletHistory) != 1 || snap.IdleWalletHistory[0].Value != 70 {
		t.Errorf("idle history = %+v", snap.IdleWalletHistory)
	}
	if len(snap.TVLHistory) != 1 || snap.TVLHistory[0].Value != 1_000_000 || snap.TVLHistory[0].Display != "1.00M" {
		t.Errorf("tvl history = %+v", snap.TVLHistory)
	}
}

func TestBuildPercentagesSumToHundredIdleLast(t *testing.T) {
	protocols := []domain.ProtocolEntry{
		{Key: "a", Name: "A", Addresses: []common.Address{protoA}},
		{Key: "b", Name: "B", Addresses: []common.Address{protoB}},
		{Key: "c", Name: "C", Addresses: []common.Address{pendleLP}},
	}
	f := newSnapshotFixture(protocols, SnapshotOptions{}, nil)
	f.chain.supply = big.NewInt(3_000_007)
	f.chain.setBalance(token, protoA, big.NewInt(100_001))
	f.chain.setBalance(token, protoB, big.NewInt(1_700_003))
	f.chain.setBalance(token, pendleLP, big.NewInt(333_333))

	snap := f.builder.Build(context.Background())
	sum := 0.0
	for _, d := range snap.Distributions {
		sum += d.Percentage
	}
	// each entry truncates independently to two decimals
	if tolerance := 0.01*float64(len(snap.Distributions)) + 1e-9; math.Abs(sum-100) > tolerance {
		t.Fatalf("percentages sum to %v", sum)
	}
	last := snap.Distributions[len(snap.Distributions)-1]
	if last.Location != domain.IdleWalletsLocation {
		t.Fatalf("idle must be last, got %q", last.Location)
	}
	for i := 1; i < len(snap.Distributions)-1; i++ {
		if snap.Distributions[i].Percentage > snap.Distributions[i-1].Percentage {
			t.Fatalf("entries not sorted: %+v", snap.Distributions)
		}
	}
	if snap.Distributions[0].Location != "B" {
		t.Fatalf("largest protocol first, got %q", snap.Distributions[0].Location)
	}
}

func TestBuildErrorSnapshot(t *testing.T) {
	t.Run("supply", func(t *testing.T) {
		f := newSnapshotFixture(twoProtocols(), SnapshotOptions{}, nil)
		f.chain.supplyErr = errRPC
		snap := f.builder.Build(context.Background())
		if !snap.Failed() || len(snap.Distributions) != 0 || snap.Distributions == nil {
			t.Fatalf("snapshot = %+v", snap)
		}
		if !strings.Contains(snap.Error, "total supply") {
			t.Fatalf("error = %q", snap.Error)
		}
		if _, err := f.store.Get(context.Background(), IdleWalletSeries); !errors.Is(err, domain.ErrNotFound) {
			t.Fatal("failed cycle must not touch history")
		}
	})
	t.Run("balances", func(t *testing.T) {
		f := newSnapshotFixture(twoProtocols(), SnapshotOptions{}, nil)
		f.chain.failHolders[protoB] = true
		snap := f.builder.Build(context.Background())
		if !snap.Failed() || len(snap.Distributions) != 0 || snap.PlusdShare != nil {
			t.Fatalf("snapshot = %+v", snap)
		}
	})
}

func TestBuildPLUSDShare(t *testing.T) {
	t.Run("observed", func(t *testing.T) {
		f := newSnapshotFixture(twoProtocols(), SnapshotOptions{PlUSD: plusd}, nil)
		f.chain.setBalance(plusd, token, sixDec(250_000))
		snap := f.builder.Build(context.Background())
		s := snap.PlusdShare
		if s == nil || s.Degraded || s.Percentage != 25 || s.PlusdInSplUSD != "250.00K" || s.PlusdInSplUSDRaw != "250000000000" {
			t.Fatalf("plusd share = %+v", s)
		}
	})
	t.Run("fetch failure degrades", func(t *testing.T) {
		f := newSnapshotFixture(twoProtocols(), SnapshotOptions{PlUSD: plusd}, nil)
		// plUSD balance is read with the token contract as holder
		f.chain.failHolders[token] = true
		snap := f.builder.Build(context.Background())
		s := snap.PlusdShare
		if snap.Failed() {
			t.Fatalf("plusd failure must not fail the snapshot: %s", snap.Error)
		}
		if s == nil || !s.Degraded || s.Reason == "" || s.Percentage != 0 || s.TotalSplUSD != "1.00M" {
			t.Fatalf("plusd share = %+v", s)
		}
	})
	t.Run("unconfigured", func(t *testing.T) {
		f := newSnapshotFixture(twoProtocols(), SnapshotOptions{}, nil)
		s := f.builder.Build(context.Background()).PlusdShare
		if s == nil || !s.Degraded || s.Reason != "plusd token not configured" {
			t.Fatalf("plusd share = %+v", s)
		}
	})
}

func TestBuildPendleBreakdown(t *testing.T) {
	protocols := []domain.ProtocolEntry{{Key: "pendle", Name: "Pendle Protocol", Addresses: []common.Address{pendleLP}}}
	opts := SnapshotOptions{PendleSY: sy, PendlePT: pt, PendleYT: yt, PendleProtocolKey: "pendle"}

	f := newSnapshotFixture(protocols, opts, nil)
	f.chain.setBalance(token, pendleLP, sixDec(100_000))
	f.chain.setBalance(sy, token, sixDec(500))
	f.chain.setBalance(pt, token, sixDec(300))
	f.chain.setBalance(yt, token, sixDec(200))

	snap := f.builder.Build(context.Background())
	pb := snap.Distributions[0].PendleBreakdown
	if pb == nil {
		t.Fatal("expected pendle breakdown")
	}
	if pb.SY.Percentage != 50 || pb.PT.Percentage != 30 || pb.YT.Percentage != 20 || pb.SY.Amount != "500.00" {
		t.Fatalf("breakdown = %+v", pb)
	}

	empty := newSnapshotFixture(protocols, opts, nil)
	empty.chain.setBalance(token, pendleLP, sixDec(100_000))
	if got := empty.builder.Build(context.Background()).Distributions[0].PendleBreakdown; got != nil {
		t.Fatalf("zero legs should omit the breakdown, got %+v", got)
	}
}

func TestBuildAttachesBorrowerData(t *testing.T) {
	protocols := []domain.ProtocolEntry{{Key: "euler", Name: "Euler Protocol", Addresses: []common.Address{vault}}}
	opts := SnapshotOptions{LendingProtocolKey: "euler"}
	f := newSnapshotFixture(protocols, opts, func(c *fakeChain) *BorrowerAnalyzer { return newAnalyzer(c, 10) })
	f.chain.setBalance(token, vault, sixDec(200_000))

	x := addr("0x00000000000000000000000000000000000000f9")
	addBorrower(f.chain, x, 9_500, 1_000, 2_000)
	f.chain.addTransfer(usdt0, x, router, 9_501, sixDec(1_000).Int64())

	snap := f.builder.Build(context.Background())
	euler := snap.Distributions[0]
	if euler.Location != "Euler Protocol" || len(euler.Borrowers) != 1 || len(euler.BorrowerDestinations) != 1 {
		t.Fatalf("euler entry = %+v", euler)
	}
	if euler.BorrowerDestinations[0].Protocol != "Lithos Router" || euler.BorrowerDestinations[0].Percentage != 100 {
		t.Fatalf("destinations = %+v", euler.BorrowerDestinations)
	}
}

func TestBuildSurvivesBorrowerFailures(t *testing.T) {
	protocols := []domain.ProtocolEntry{{Key: "euler", Name: "Euler Protocol", Addresses: []common.Address{vault}}}
	f := newSnapshotFixture(protocols, SnapshotOptions{LendingProtocolKey: "euler"}, func(c *fakeChain) *BorrowerAnalyzer { return newAnalyzer(c, 10) })
	f.chain.setBalance(token, vault, sixDec(200_000))
	f.chain.failQuery = func(domain.LogQuery) bool { return true }

	snap := f.builder.Build(context.Background())
	if snap.Failed() {
		t.Fatalf("borrower failure must not fail the snapshot: %s", snap.Error)
	}
	if snap.Distributions[0].Borrowers != nil || snap.Distributions[0].BorrowerDestinations != nil {
		t.Fatalf("borrower data should be omitted, got %+v", snap.Distributions[0])
	}
	if snap.Distributions[0].Percentage != 20 {
		t.Fatalf("percentage = %v", snap.Distributions[0].Percentage)
	}
}

func TestBuildWithoutBlockNumberSkipsBorrowers(t *testing.T) {
	protocols := []domain.ProtocolEntry{{Key: "euler", Name: "Euler Protocol", Addresses: []common.Address{vault}}}
	f := newSnapshotFixture(protocols, SnapshotOptions{LendingProtocolKey: "euler"}, func(c *fakeChain) *BorrowerAnalyzer { return newAnalyzer(c, 10) })
	f.chain.setBalance(token, vault, sixDec(200_000))
	x := addr("0x00000000000000000000000000000000000000f9")
	addBorrower(f.chain, x, 9_500, 1_000, 2_000)
	f.chain.headErr = errRPC

	snap := f.builder.Build(context.Background())
	if snap.Failed() {
		t.Fatalf("block number failure must not fail the snapshot: %s", snap.Error)
	}
	if snap.BlockNumber != 0 {
		t.Fatalf("block number = %d", snap.BlockNumber)
	}
	euler := snap.Distributions[0]
	if euler.Percentage != 20 || euler.Borrowers != nil || euler.BorrowerDestinations != nil {
		t.Fatalf("euler entry = %+v", euler)
	}
	if len(snap.Distributions) != 2 || snap.Distributions[1].Location != domain.IdleWalletsLocation {
		t.Fatalf("distributions = %+v", snap.Distributions)
	}
	if len(f.chain.queries) != 0 {
		t.Fatalf("no logs should be scanned, got %d queries", len(f.chain.queries))
	}
}

func TestBuildHistoryAcrossCycles(t *testing.T) {
	f := newSnapshotFixture(twoProtocols(), SnapshotOptions{}, nil)
	f.chain.setBalance(token, protoA, sixDec(300_000))
	ctx := context.Background()

	f.builder.Build(ctx)
	f.clock.Advance(30 * time.Second)
	if snap := f.builder.Build(ctx); len(snap.IdleWalletHistory) != 1 {
		t.Fatalf("30s later history = %+v", snap.IdleWalletHistory)
	}
	f.clock.Advance(6 * time.Minute)
	f.chain.setBalance(token, protoA, sixDec(400_000))
	snap := f.builder.Build(ctx)
	if len(snap.IdleWalletHistory) != 2 || snap.IdleWalletHistory[1].Value != 60 {
		t.Fatalf("history = %+v", snap.IdleWalletHistory)
	}
}

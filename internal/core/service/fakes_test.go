package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

var errRPC = errors.New("rpc unavailable")

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type transferLog struct {
	token common.Address
	ev    domain.TransferEvent
}

// fakeChain is an in-memory ChainClient. Transfers and borrows are filtered
// the way eth_getLogs would filter them.
type fakeChain struct {
	mu sync.Mutex

	supply    *big.Int
	decimals  uint8
	head      uint64
	balances  map[balanceKey]*big.Int
	rate      int64 // convertToAssets multiplier
	transfers []transferLog
	borrows   []domain.BorrowEvent
	vault     common.Address

	supplyErr   error
	headErr     error
	failHolders map[common.Address]bool
	failQuery   func(q domain.LogQuery) bool

	queries []domain.LogQuery
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		decimals:    6,
		balances:    make(map[balanceKey]*big.Int),
		rate:        1,
		failHolders: make(map[common.Address]bool),
	}
}

func (f *fakeChain) setBalance(token, holder common.Address, v *big.Int) {
	f.balances[balanceKey{token, holder}] = v
}

func (f *fakeChain) addTransfer(token, from, to common.Address, block uint64, v int64) {
	f.transfers = append(f.transfers, transferLog{token: token, ev: domain.TransferEvent{
		BlockNumber: block, From: from, To: to, Value: big.NewInt(v),
	}})
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	if f.failHolders[holder] {
		return nil, errRPC
	}
	if v, ok := f.balances[balanceKey{token, holder}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) TotalSupply(context.Context, common.Address) (*big.Int, error) {
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return new(big.Int).Set(f.supply), nil
}

func (f *fakeChain) Decimals(context.Context, common.Address) (uint8, error) {
	return f.decimals, nil
}

func (f *fakeChain) ConvertToAssets(_ context.Context, _ common.Address, shares *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(shares, big.NewInt(f.rate)), nil
}

func (f *fakeChain) QueryLogs(_ context.Context, q domain.LogQuery) ([]domain.Log, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.failQuery != nil && f.failQuery(q) {
		return nil, errRPC
	}

	matches := func(pos int, addr common.Address) bool {
		return pos >= len(q.Indexed) || q.Indexed[pos] == nil || *q.Indexed[pos] == addr
	}
	inRange := func(block uint64) bool {
		return block >= q.FromBlock && block <= q.ToBlock
	}

	var out []domain.Log
	switch q.Event {
	case domain.EventTransfer:
		for _, t := range f.transfers {
			if t.token != q.Contract || !inRange(t.ev.BlockNumber) {
				continue
			}
			if !matches(0, t.ev.From) || !matches(1, t.ev.To) {
				continue
			}
			ev := t.ev
			out = append(out, domain.Log{Transfer: &ev})
		}
	case domain.EventBorrow:
		if q.Contract != f.vault {
			return nil, nil
		}
		for _, b := range f.borrows {
			if !inRange(b.BlockNumber) {
				continue
			}
			ev := b
			out = append(out, domain.Log{Borrow: &ev})
		}
	}
	return out, nil
}

// stubClassifier is a minimal registry for analyzer tests.
type stubClassifier struct {
	known     map[common.Address]domain.KnownContract
	protocols map[common.Address]string
}

func (s stubClassifier) KnownContract(addr common.Address) (domain.KnownContract, bool) {
	c, ok := s.known[addr]
	return c, ok
}

func (s stubClassifier) Classify(addr common.Address) (string, domain.Category) {
	if c, ok := s.known[addr]; ok {
		return c.Name, c.Category
	}
	if name, ok := s.protocols[addr]; ok {
		return name, domain.CategoryDeposit
	}
	return "Unknown Protocol", domain.CategoryUnknown
}

type staticProtocols []domain.ProtocolEntry

func (s staticProtocols) Protocols() []domain.ProtocolEntry { return s }

// failingStore fails every write.
type failingStore struct{ domain.KeyValueStore }

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("disk full") }

// flakyStore fails the next readFailures reads, then delegates.
type flakyStore struct {
	*memStore
	readFailures int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.readFailures > 0 {
		f.readFailures--
		return nil, errors.New("i/o timeout")
	}
	return f.memStore.Get(ctx, key)
}

// memStore is a minimal KeyValueStore for history tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts++
	return nil
}

func (m *memStore) Close() error { return nil }

// manualClock is a settable Clock.
type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func addr(hex string) common.Address { return common.HexToAddress(hex) }

// sixDec returns n whole tokens at 6 decimals.
func sixDec(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

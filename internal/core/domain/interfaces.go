package domain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by a KeyValueStore when the key is absent.
var ErrNotFound = errors.New("key not found")

// EventKind selects which log signature a LogQuery matches.
type EventKind string

const (
	EventTransfer EventKind = "Transfer"
	EventBorrow   EventKind = "Borrow"
)

// LogQuery filters event logs of one contract over an inclusive block range.
// Indexed holds per-position filters for the indexed event arguments; a nil
// entry is a wildcard.
type LogQuery struct {
	Contract  common.Address
	Event     EventKind
	Indexed   []*common.Address
	FromBlock uint64
	ToBlock   uint64
}

// Log is a decoded event. Exactly one of Transfer or Borrow is set,
// matching the query's EventKind.
type Log struct {
	Transfer *TransferEvent
	Borrow   *BorrowEvent
}

// ChainClient is the read-only view of the chain the tracker depends on.
// Implementations may fail transiently on any call.
type ChainClient interface {
	// BlockNumber returns the current head height.
	BlockNumber(ctx context.Context) (uint64, error)

	// BalanceOf returns holder's balance of token at the head block.
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)

	// TotalSupply returns the token's total supply.
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)

	// Decimals returns the token's decimals.
	Decimals(ctx context.Context, token common.Address) (uint8, error)

	// ConvertToAssets converts ERC-4626 vault shares to underlying assets.
	ConvertToAssets(ctx context.Context, vault common.Address, shares *big.Int) (*big.Int, error)

	// QueryLogs returns decoded logs matching q.
	QueryLogs(ctx context.Context, q LogQuery) ([]Log, error)
}

// KeyValueStore persists JSON blobs under string keys.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Clock supplies the current time; swapped out in tests.
type Clock func() time.Time

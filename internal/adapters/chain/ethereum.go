package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// Backend is the subset of ethclient.Client used by EthereumService.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Options configures the RPC connection.
type Options struct {
	RPCURL         string
	FallbackRPCURL string
	// ChainID, when non-zero, is checked against the endpoint on dial.
	ChainID           uint64
	CallTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
}

// EthereumService implements domain.ChainClient over JSON-RPC.
// Every call waits on the client-side rate limiter and runs under
// CallTimeout.
type EthereumService struct {
	backend Backend
	limiter *rate.Limiter
	timeout time.Duration
	log     logrus.FieldLogger
}

var _ domain.ChainClient = (*EthereumService)(nil)

// Dial connects to opts.RPCURL, falling back to opts.FallbackRPCURL when
// the primary endpoint cannot be reached or reports the wrong chain.
func Dial(ctx context.Context, opts Options, log logrus.FieldLogger) (*EthereumService, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}
	backend, err := dialChecked(ctx, opts.RPCURL, opts)
	if err != nil {
		if opts.FallbackRPCURL == "" {
			return nil, err
		}
		log.WithError(err).Warn("primary RPC failed, using fallback")
		backend, err = dialChecked(ctx, opts.FallbackRPCURL, opts)
		if err != nil {
			return nil, fmt.Errorf("fallback rpc: %w", err)
		}
	}
	return NewEthereumService(backend, opts, log), nil
}

func dialChecked(ctx context.Context, url string, opts Options) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, callTimeout(opts))
	defer cancel()
	id, err := client.ChainID(probeCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if opts.ChainID != 0 && id.Uint64() != opts.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: endpoint reports %s, expected %d", id, opts.ChainID)
	}
	return client, nil
}

// NewEthereumService wraps an already connected backend.
func NewEthereumService(backend Backend, opts Options, log logrus.FieldLogger) *EthereumService {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &EthereumService{
		backend: backend,
		limiter: rate.NewLimiter(limit, burst),
		timeout: callTimeout(opts),
		log:     log,
	}
}

func callTimeout(opts Options) time.Duration {
	if opts.CallTimeout > 0 {
		return opts.CallTimeout
	}
	return 15 * time.Second
}

// Close closes the client connection
func (s *EthereumService) Close() {
	if s.backend != nil {
		s.backend.Close()
	}
}

func (s *EthereumService) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return callCtx, cancel, nil
}

// BlockNumber returns the current head height.
func (s *EthereumService) BlockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	n, err := s.backend.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// BalanceOf returns holder's balance of token.
func (s *EthereumService) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	var out *big.Int
	if err := s.call(ctx, erc20ABI, token, MethodBalanceOf, &out, holder); err != nil {
		return nil, err
	}
	return out, nil
}

// TotalSupply returns the token's total supply.
func (s *EthereumService) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	var out *big.Int
	if err := s.call(ctx, erc20ABI, token, MethodTotalSupply, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decimals returns the token's decimals.
func (s *EthereumService) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	var out uint8
	if err := s.call(ctx, erc20ABI, token, MethodDecimals, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// ConvertToAssets converts vault shares to underlying assets.
func (s *EthereumService) ConvertToAssets(ctx context.Context, vault common.Address, shares *big.Int) (*big.Int, error) {
	var out *big.Int
	if err := s.call(ctx, vaultABI, vault, MethodConvertToAssets, &out, shares); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EthereumService) call(ctx context.Context, contract abi.ABI, to common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	callCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	result, err := s.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	if err := contract.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return nil
}

// QueryLogs fetches and decodes logs matching q.
func (s *EthereumService) QueryLogs(ctx context.Context, q domain.LogQuery) ([]domain.Log, error) {
	event, err := eventFor(q.Event)
	if err != nil {
		return nil, err
	}
	filter := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Addresses: []common.Address{q.Contract},
		Topics:    buildTopics(event.ID, q.Indexed),
	}

	callCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	raw, err := s.backend.FilterLogs(callCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s logs on %s [%d,%d]: %w", q.Event, q.Contract.Hex(), q.FromBlock, q.ToBlock, err)
	}

	logs := make([]domain.Log, 0, len(raw))
	for i := range raw {
		decoded, err := decodeLog(q.Event, &raw[i])
		if err != nil {
			s.log.WithError(err).WithField("tx", raw[i].TxHash.Hex()).Debug("skipping undecodable log")
			continue
		}
		logs = append(logs, decoded)
	}
	return logs, nil
}

func eventFor(kind domain.EventKind) (abi.Event, error) {
	switch kind {
	case domain.EventTransfer:
		return erc20ABI.Events["Transfer"], nil
	case domain.EventBorrow:
		return vaultABI.Events["Borrow"], nil
	default:
		return abi.Event{}, fmt.Errorf("unsupported event %q", kind)
	}
}

// buildTopics maps indexed address filters to topic positions 1..n.
// Trailing wildcards are dropped.
func buildTopics(id common.Hash, indexed []*common.Address) [][]common.Hash {
	last := -1
	for i, addr := range indexed {
		if addr != nil {
			last = i
		}
	}
	topics := make([][]common.Hash, 1, last+2)
	topics[0] = []common.Hash{id}
	for _, addr := range indexed[:last+1] {
		if addr == nil {
			topics = append(topics, nil)
			continue
		}
		topics = append(topics, []common.Hash{common.BytesToHash(addr.Bytes())})
	}
	return topics
}

func decodeLog(kind domain.EventKind, l *types.Log) (domain.Log, error) {
	switch kind {
	case domain.EventTransfer:
		if len(l.Topics) != 3 {
			return domain.Log{}, fmt.Errorf("transfer log has %d topics", len(l.Topics))
		}
		values, err := erc20ABI.Unpack("Transfer", l.Data)
		if err != nil {
			return domain.Log{}, fmt.Errorf("unpack transfer: %w", err)
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return domain.Log{}, errors.New("transfer value is not uint256")
		}
		return domain.Log{Transfer: &domain.TransferEvent{
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			From:        common.BytesToAddress(l.Topics[1].Bytes()),
			To:          common.BytesToAddress(l.Topics[2].Bytes()),
			Value:       value,
		}}, nil
	case domain.EventBorrow:
		if len(l.Topics) != 4 {
			return domain.Log{}, fmt.Errorf("borrow log has %d topics", len(l.Topics))
		}
		values, err := vaultABI.Unpack("Borrow", l.Data)
		if err != nil {
			return domain.Log{}, fmt.Errorf("unpack borrow: %w", err)
		}
		assets, ok := values[0].(*big.Int)
		if !ok {
			return domain.Log{}, errors.New("borrow assets is not uint256")
		}
		return domain.Log{Borrow: &domain.BorrowEvent{
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			Sender:      common.BytesToAddress(l.Topics[1].Bytes()),
			Receiver:    common.BytesToAddress(l.Topics[2].Bytes()),
			Owner:       common.BytesToAddress(l.Topics[3].Bytes()),
			Assets:      assets,
		}}, nil
	default:
		return domain.Log{}, fmt.Errorf("unsupported event %q", kind)
	}
}

package domain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// IdleWalletsLocation is the location name of the residual distribution entry.
const IdleWalletsLocation = "Idle Wallets"

// Category classifies where a transfer destination sends funds.
type Category string

const (
	CategorySwap    Category = "swap"
	CategoryBridge  Category = "bridge"
	CategoryDeposit Category = "deposit"
	CategoryUnknown Category = "unknown"
)

// ParseCategory maps a config string to a Category, defaulting to unknown.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategorySwap, CategoryBridge, CategoryDeposit:
		return Category(s)
	default:
		return CategoryUnknown
	}
}

// ProtocolEntry is a tracked protocol and the addresses holding its balance.
type ProtocolEntry struct {
	Key       string           `json:"key"`
	Name      string           `json:"name"`
	Addresses []common.Address `json:"addresses"` // ordered, first is the primary address
	Color     string           `json:"color"`
}

// KnownContract labels a destination address.
type KnownContract struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Category Category       `json:"type"`
}

// DistributionEntry is one row of the distribution breakdown.
type DistributionEntry struct {
	Location             string             `json:"location"`
	RawAmount            *big.Int           `json:"raw_amount"`
	Amount               string             `json:"amount"`
	Percentage           float64            `json:"percentage"`
	Address              string             `json:"address,omitempty"`
	BorrowerDestinations []DestinationShare `json:"borrower_destinations,omitempty"`
	Borrowers            []BorrowerRecord   `json:"borrowers,omitempty"`
	PendleBreakdown      *PendleBreakdown   `json:"pendle_breakdown,omitempty"`
}

// DestinationShare is the share of moved funds that ended up at one destination.
type DestinationShare struct {
	Protocol    string   `json:"protocol"`
	Category    Category `json:"type"`
	RawAmount   *big.Int `json:"raw_amount"`
	Amount      string   `json:"amount"`
	Percentage  float64  `json:"percentage"`
	Color       string   `json:"color"`
	Description string   `json:"description"`
}

// BorrowerRecord describes one lending-vault borrower.
type BorrowerRecord struct {
	Address                string             `json:"address"`
	BorrowedRaw            *big.Int           `json:"borrowed_raw"`
	BorrowedAmount         string             `json:"borrowed_amount"`
	CollateralRaw          *big.Int           `json:"collateral_raw"`
	CollateralAmount       string             `json:"collateral_amount"`
	CollateralizationRatio float64            `json:"collateralization_ratio"`
	Actions                []DestinationShare `json:"actions"`
}

// MarshalJSON adds the derived risk tier to the encoded record.
func (b BorrowerRecord) MarshalJSON() ([]byte, error) {
	type plain BorrowerRecord
	return json.Marshal(struct {
		plain
		RiskTier RiskTier `json:"risk_tier"`
	}{plain(b), TierForRatio(b.CollateralizationRatio)})
}

// HistoryPoint is one sample of a tracked scalar metric.
type HistoryPoint struct {
	Timestamp int64   `json:"timestamp"` // epoch millis
	Value     float64 `json:"value"`
	Date      string  `json:"date"`
	Raw       string  `json:"raw,omitempty"`
	Display   string  `json:"display,omitempty"`
}

// TokenShare is a formatted amount and its share of a parent total.
type TokenShare struct {
	Amount     string  `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// PendleBreakdown splits the Pendle position into its SY, PT and YT legs.
type PendleBreakdown struct {
	SY TokenShare `json:"sy"`
	PT TokenShare `json:"pt"`
	YT TokenShare `json:"yt"`
}

// PLUSDShare is the plUSD backing held by the splUSD contract.
// Degraded is set when the balance could not be fetched and the zero value
// is a placeholder rather than an observed balance.
type PLUSDShare struct {
	PlusdInSplUSD    string  `json:"plusd_in_splusd"`
	PlusdInSplUSDRaw string  `json:"plusd_in_splusd_raw"`
	TotalSplUSD      string  `json:"total_splusd"`
	TotalSplUSDRaw   string  `json:"total_splusd_raw"`
	Percentage       float64 `json:"percentage"`
	LastUpdate       int64   `json:"last_update"`
	Degraded         bool    `json:"degraded,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// DistributionSnapshot is the unit handed to the presentation layer.
// A failed refresh carries only Error and an empty Distributions list.
type DistributionSnapshot struct {
	ID                string              `json:"id"`
	TotalSupply       string              `json:"total_supply"`
	TotalSupplyRaw    string              `json:"total_supply_raw,omitempty"`
	Decimals          uint8               `json:"decimals,omitempty"`
	BlockNumber       uint64              `json:"block_number,omitempty"`
	Distributions     []DistributionEntry `json:"distributions"`
	IdleWalletHistory []HistoryPoint      `json:"idle_wallet_history,omitempty"`
	TVLHistory        []HistoryPoint      `json:"tvl_history,omitempty"`
	PlusdShare        *PLUSDShare         `json:"plusd_share,omitempty"`
	LastUpdate        int64               `json:"last_update"`
	Error             string              `json:"error,omitempty"`
}

// Failed reports whether the snapshot is an error snapshot.
func (s *DistributionSnapshot) Failed() bool {
	return s != nil && s.Error != ""
}

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	BlockNumber uint64
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Value       *big.Int
}

// BorrowEvent is a decoded lending vault Borrow log.
type BorrowEvent struct {
	BlockNumber uint64
	TxHash      common.Hash
	Sender      common.Address
	Receiver    common.Address
	Owner       common.Address
	Assets      *big.Int
}

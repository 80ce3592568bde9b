package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method and event names used against the chain.
const (
	MethodBalanceOf       = "balanceOf"
	MethodTotalSupply     = "totalSupply"
	MethodDecimals        = "decimals"
	MethodConvertToAssets = "convertToAssets"
)

// erc20ABIJSON covers the read-only ERC-20 surface plus the Transfer event.
const erc20ABIJSON = `[
	{
		"name": "balanceOf",
		"type": "function",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"name": "totalSupply",
		"type": "function",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"name": "decimals",
		"type": "function",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view"
	},
	{
		"name": "Transfer",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		]
	}
]`

// vaultABIJSON is the ERC-4626 lending vault subset: share conversion and
// the Borrow event, whose third indexed argument is the position owner.
const vaultABIJSON = `[
	{
		"name": "convertToAssets",
		"type": "function",
		"inputs": [{"name": "shares", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"name": "Borrow",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": true, "name": "receiver", "type": "address"},
			{"indexed": true, "name": "owner", "type": "address"},
			{"indexed": false, "name": "assets", "type": "uint256"},
			{"indexed": false, "name": "shares", "type": "uint256"}
		]
	}
]`

var (
	erc20ABI = mustParseABI("erc20", erc20ABIJSON)
	vaultABI = mustParseABI("vault", vaultABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}

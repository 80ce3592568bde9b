package registry

// Plasma mainnet addresses.
const (
	PlasmaChainID       = 9745
	PlasmaFallbackRPC   = "https://rpc.plasma.to"
	SplUSDTokenAddress  = "0x616185600989Bf8339b58aC9e539d49536598343"
	EulerVaultAddress   = "0x93827c26602b0573500D2eC80dB19D54EEf76BaB"
	LithosRouterAddress = "0xD70962bd7C6B3567a8c893b55a8aBC1E151759f3"
	PendleRouterAddress = "0x888888888889758F76e7103c6CbF23ABbF58F946"
)

// Protocol keys with special handling in the snapshot.
const (
	KeyEuler  = "euler"
	KeyPendle = "pendle"
)

// DefaultProtocols is the built-in Plasma protocol table.
func DefaultProtocols() []ProtocolSpec {
	return []ProtocolSpec{
		{
			Key:  "lithos",
			Name: "Lithos DEX",
			Addresses: []string{
				LithosRouterAddress,
				"0x71a870D1c935C2146b87644DF3B5316e8756aE18", // factory
				"0x2Eff716Caa7F9EB441861340998B0952AF056686", // voting escrow
				"0x2AF460a511849A7aA37Ac964074475b0E6249c69", // voter
			},
			Color: "#8b5cf6",
		},
		{
			Key:  KeyPendle,
			Name: "Pendle Protocol",
			Addresses: []string{
				PendleRouterAddress,
				"0x28dE02Ac3c3F5ef427e55c321F73fDc7F192e8E4", // market factory
				"0x0d7432A9f5C51fdd2407332D90D9b814827982Bf", // vePendle
				"0xad96C88eC5D39fc5020851075ECb756B2b228060", // LP
			},
			Color: "#10b981",
		},
		{
			Key:       KeyEuler,
			Name:      "Euler Protocol",
			Addresses: []string{EulerVaultAddress},
			Color:     "#f59e0b",
		},
		{
			Key:   "other",
			Name:  "Other Protocols",
			Color: "#6b7280",
		},
	}
}

// DefaultKnownContracts labels the routers borrowers commonly route through.
func DefaultKnownContracts() []ContractSpec {
	return []ContractSpec{
		{Address: LithosRouterAddress, Name: "Lithos Router", Type: "swap"},
		{Address: PendleRouterAddress, Name: "Pendle Router", Type: "swap"},
	}
}

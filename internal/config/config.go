// Package config loads the tracker configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/splusd-labs/splusd-tracker/internal/logger"
	"github.com/splusd-labs/splusd-tracker/internal/registry"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Store drivers.
const (
	DriverLevelDB = "leveldb"
	DriverBolt    = "bolt"
	DriverRedis   = "redis"
	DriverFile    = "file"
	DriverMemory  = "memory"
)

// Config captures runtime configuration for the tracker.
type Config struct {
	Chain          ChainConfig             `yaml:"chain"`
	Tokens         TokensConfig            `yaml:"tokens"`
	Analysis       AnalysisConfig          `yaml:"analysis"`
	History        HistoryConfig           `yaml:"history"`
	Refresh        RefreshConfig           `yaml:"refresh"`
	Store          StoreConfig             `yaml:"store"`
	HTTP           HTTPConfig              `yaml:"http"`
	Logging        logger.Config           `yaml:"logging"`
	Protocols      []registry.ProtocolSpec `yaml:"protocols"`
	KnownContracts []registry.ContractSpec `yaml:"known_contracts"`
}

// ChainConfig selects the RPC endpoints and client-side limits.
type ChainConfig struct {
	RPCURL            string   `yaml:"rpc_url"`
	FallbackRPCURL    string   `yaml:"fallback_rpc_url"`
	ChainID           uint64   `yaml:"chain_id"`
	CallTimeout       Duration `yaml:"call_timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// TokensConfig holds the tracked token and vault addresses. Optional
// addresses left empty disable the feature that needs them.
type TokensConfig struct {
	SplUSD       string `yaml:"splusd"`
	PlUSD        string `yaml:"plusd"`
	BorrowAsset  string `yaml:"borrow_asset"`
	LendingVault string `yaml:"lending_vault"`
	PendleSY     string `yaml:"pendle_sy"`
	PendlePT     string `yaml:"pendle_pt"`
	PendleYT     string `yaml:"pendle_yt"`

	CollateralDecimals uint8 `yaml:"collateral_decimals"`
	BorrowDecimals     uint8 `yaml:"borrow_decimals"`
}

// AnalysisConfig bounds the borrower log scan.
type AnalysisConfig struct {
	WindowBlocks   uint64  `yaml:"window_blocks"`
	FollowBlocks   uint64  `yaml:"follow_blocks"`
	MaxBorrowers   int     `yaml:"max_borrowers"`
	// MaterialityPct is nil when unset; 0 keeps every borrower action.
	MaterialityPct *float64 `yaml:"materiality_pct"`
	Concurrency    int     `yaml:"concurrency"`
}

// HistoryConfig tunes history sampling.
type HistoryConfig struct {
	MinInterval Duration `yaml:"min_interval"`
	Retention   Duration `yaml:"retention"`
}

// RefreshConfig tunes the refresh loop.
type RefreshConfig struct {
	Interval Duration `yaml:"interval"`
}

// StoreConfig selects the history store backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Listen            string  `yaml:"listen"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from path. An empty path yields the built-in
// defaults. Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"SPLUSD_RPC_URL", &cfg.Chain.RPCURL},
		{"SPLUSD_FALLBACK_RPC_URL", &cfg.Chain.FallbackRPCURL},
		{"SPLUSD_HTTP_ADDR", &cfg.HTTP.Listen},
		{"SPLUSD_STORE_DRIVER", &cfg.Store.Driver},
		{"SPLUSD_STORE_PATH", &cfg.Store.Path},
		{"SPLUSD_REDIS_ADDR", &cfg.Store.RedisAddr},
		{"LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = registry.PlasmaFallbackRPC
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = registry.PlasmaChainID
	}
	if cfg.Chain.CallTimeout.Duration == 0 {
		cfg.Chain.CallTimeout.Duration = 15 * time.Second
	}
	if cfg.Chain.RequestsPerSecond == 0 {
		cfg.Chain.RequestsPerSecond = 20
	}
	if cfg.Chain.Burst == 0 {
		cfg.Chain.Burst = 10
	}
	if cfg.Tokens.SplUSD == "" {
		cfg.Tokens.SplUSD = registry.SplUSDTokenAddress
	}
	if cfg.Tokens.LendingVault == "" {
		cfg.Tokens.LendingVault = registry.EulerVaultAddress
	}
	if cfg.Tokens.CollateralDecimals == 0 {
		cfg.Tokens.CollateralDecimals = 18
	}
	if cfg.Tokens.BorrowDecimals == 0 {
		cfg.Tokens.BorrowDecimals = 6
	}
	if cfg.Analysis.WindowBlocks == 0 {
		cfg.Analysis.WindowBlocks = 10_000
	}
	if cfg.Analysis.FollowBlocks == 0 {
		cfg.Analysis.FollowBlocks = 100
	}
	if cfg.Analysis.MaxBorrowers == 0 {
		cfg.Analysis.MaxBorrowers = 10
	}
	if cfg.Analysis.MaterialityPct == nil {
		pct := 1.0
		cfg.Analysis.MaterialityPct = &pct
	}
	if cfg.Analysis.Concurrency == 0 {
		cfg.Analysis.Concurrency = 8
	}
	if cfg.History.MinInterval.Duration == 0 {
		cfg.History.MinInterval.Duration = 5 * time.Minute
	}
	if cfg.History.Retention.Duration == 0 {
		cfg.History.Retention.Duration = 30 * 24 * time.Hour
	}
	if cfg.Refresh.Interval.Duration == 0 {
		cfg.Refresh.Interval.Duration = 30 * time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverLevelDB
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case DriverBolt:
			cfg.Store.Path = "data/history.bolt"
		case DriverFile:
			cfg.Store.Path = "data/history.json"
		default:
			cfg.Store.Path = "data/history.ldb"
		}
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "splusd:"
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}
	if cfg.HTTP.RequestsPerSecond == 0 {
		cfg.HTTP.RequestsPerSecond = 20
	}
	if cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = 40
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Protocols) == 0 {
		cfg.Protocols = registry.DefaultProtocols()
	}
	if cfg.KnownContracts == nil {
		cfg.KnownContracts = registry.DefaultKnownContracts()
	}
}

func validate(cfg Config) error {
	if cfg.Chain.CallTimeout.Duration < 0 {
		return errors.New("chain.call_timeout must not be negative")
	}
	if cfg.Chain.RequestsPerSecond < 0 {
		return errors.New("chain.requests_per_second must not be negative")
	}
	if !common.IsHexAddress(cfg.Tokens.SplUSD) {
		return fmt.Errorf("tokens.splusd %q is not an address", cfg.Tokens.SplUSD)
	}
	optional := map[string]string{
		"tokens.plusd":         cfg.Tokens.PlUSD,
		"tokens.borrow_asset":  cfg.Tokens.BorrowAsset,
		"tokens.lending_vault": cfg.Tokens.LendingVault,
		"tokens.pendle_sy":     cfg.Tokens.PendleSY,
		"tokens.pendle_pt":     cfg.Tokens.PendlePT,
		"tokens.pendle_yt":     cfg.Tokens.PendleYT,
	}
	for field, v := range optional {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("%s %q is not an address", field, v)
		}
	}
	if cfg.Analysis.MaxBorrowers < 0 {
		return errors.New("analysis.max_borrowers must not be negative")
	}
	if pct := *cfg.Analysis.MaterialityPct; pct < 0 || pct > 100 {
		return errors.New("analysis.materiality_pct must be within [0,100]")
	}
	if cfg.Analysis.Concurrency < 0 {
		return errors.New("analysis.concurrency must not be negative")
	}
	if cfg.History.MinInterval.Duration < 0 || cfg.History.Retention.Duration < 0 {
		return errors.New("history durations must not be negative")
	}
	if cfg.Refresh.Interval.Duration < time.Second {
		return errors.New("refresh.interval must be at least 1s")
	}
	switch cfg.Store.Driver {
	case DriverLevelDB, DriverBolt, DriverFile, DriverMemory:
	case DriverRedis:
		if cfg.Store.RedisAddr == "" {
			return errors.New("store.redis_addr must be configured for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

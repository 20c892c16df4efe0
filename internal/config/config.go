// Package config defines the top-level configuration for the recurring
// execution service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DCAD_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Protocol ProtocolConfig `toml:"protocol"`
	Assets   []AssetConfig  `toml:"assets"`
	Fees     FeesConfig     `toml:"fees"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Router   RouterConfig   `toml:"router"`
	Venues   VenuesConfig   `toml:"venues"`
	Oracle   OracleConfig   `toml:"oracle"`
	Feed     FeedConfig     `toml:"feed"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the settlement signing key material. ChainID scopes the
// attestation domain separator.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the event
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// Retention is how long telemetry events stay in the primary journal
	// before the archiver pages them into object storage.
	Retention duration `toml:"retention"`
}

// ProtocolConfig holds the protocol-wide guard thresholds and principal sets.
type ProtocolConfig struct {
	MaxPositionsPerOwner int      `toml:"max_positions_per_owner"`
	MaxPositions         int      `toml:"max_positions"`
	MaxOracleStaleness   duration `toml:"max_oracle_staleness"`
	MinTwapWindow        duration `toml:"min_twap_window"`
	DepegThresholdBps    uint32   `toml:"depeg_threshold_bps"`
	EmergencyDelay       duration `toml:"emergency_delay"`
	GracePeriod          duration `toml:"grace_period"`
	Treasury             string   `toml:"treasury"`
	Admins               []string `toml:"admins"`
	Keepers              []string `toml:"keepers"`
}

// AssetConfig registers one tradable asset.
type AssetConfig struct {
	Symbol   string  `toml:"symbol"`
	Address  string  `toml:"address"`
	Decimals uint8   `toml:"decimals"`
	PegUSD   float64 `toml:"peg_usd"`
}

// FeeTierConfig is one row of the protocol fee table.
type FeeTierConfig struct {
	NotionalCeiling uint64 `toml:"notional_ceiling"`
	Bps             uint32 `toml:"bps"`
}

// FeesConfig holds the fee-policy tables.
type FeesConfig struct {
	Tiers            []FeeTierConfig `toml:"tiers"`
	ExecutionFeeBps  uint32          `toml:"execution_fee_bps"`
	ExecutionFeeFlat uint64          `toml:"execution_fee_flat"`
	GasPremiumBps    uint32          `toml:"gas_premium_bps"`
	ReferralBps      uint32          `toml:"referral_bps"`
	ReferralMode     string          `toml:"referral_mode"`
	PublicTipBps     uint32          `toml:"public_tip_bps"`
	PublicTipCap     uint64          `toml:"public_tip_cap"`
}

// BreakerConfig holds the circuit-breaker thresholds.
type BreakerConfig struct {
	VolumeWindow    duration `toml:"volume_window"`
	MaxWindowVolume uint64   `toml:"max_window_volume"`
	PriceWindow     duration `toml:"price_window"`
	MaxMoveBps      uint32   `toml:"max_move_bps"`
}

// RouterConfig holds the venue-cascade policy.
type RouterConfig struct {
	BatchNotionalThreshold uint64 `toml:"batch_notional_threshold"`
	TightSlippageBps       uint32 `toml:"tight_slippage_bps"`
}

// VenueEndpointConfig holds one execution API endpoint.
type VenueEndpointConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// VenuesConfig holds the execution API endpoints behind the route adapters,
// plus the custody API for fee transfers and the Ethereum RPC endpoint for
// the gas oracle. A venue with an empty URL is not registered.
type VenuesConfig struct {
	Auction    VenueEndpointConfig `toml:"auction"`
	AMM        VenueEndpointConfig `toml:"amm"`
	Aggregator VenueEndpointConfig `toml:"aggregator"`
	Treasury   VenueEndpointConfig `toml:"treasury"`
	EthRPCURL  string              `toml:"eth_rpc_url"`
}

// OracleConfig lists the price feeds per asset. Feed kind is "cache" (read
// through Redis) or "push" (fed by the websocket ingester in-process).
type OracleConfig struct {
	Feeds []OracleFeedConfig `toml:"feeds"`
}

// OracleFeedConfig is one feed registration.
type OracleFeedConfig struct {
	Asset string `toml:"asset"`
	Name  string `toml:"name"`
	Kind  string `toml:"kind"`
}

// FeedConfig holds the venue websocket ingester parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	WsURL   string   `toml:"ws_url"`
	Pairs   []string `toml:"pairs"`
}

// KeeperConfig holds the scheduled-execution loop parameters.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Identity string   `toml:"identity"`
	Interval duration `toml:"interval"`
	LockKey  string   `toml:"lock_key"`
	LockTTL  duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters. Tokens maps bearer tokens to the
// principal address each one acts as.
type ServerConfig struct {
	Enabled     bool              `toml:"enabled"`
	Port        int               `toml:"port"`
	CORSOrigins []string          `toml:"cors_origins"`
	Tokens      map[string]string `toml:"tokens"`

	// RateLimit bounds each client IP to this many requests per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	WebhookURL     string   `toml:"webhook_url"`
	WebhookSecret  string   `toml:"webhook_secret"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ChainID: 1,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dcad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dcad-events",
			UseSSL:         false,
			ForcePathStyle: true,
			Retention:      duration{30 * 24 * time.Hour},
		},
		Protocol: ProtocolConfig{
			MaxPositionsPerOwner: 50,
			MaxPositions:         10_000,
			MaxOracleStaleness:   duration{5 * time.Minute},
			MinTwapWindow:        duration{10 * time.Minute},
			DepegThresholdBps:    200,
			EmergencyDelay:       duration{7 * 24 * time.Hour},
			GracePeriod:          duration{10 * time.Minute},
		},
		Fees: FeesConfig{
			Tiers: []FeeTierConfig{
				{NotionalCeiling: 1_000_000_000, Bps: 30},
				{NotionalCeiling: 10_000_000_000, Bps: 20},
				{NotionalCeiling: 0, Bps: 10},
			},
			ExecutionFeeBps: 5,
			GasPremiumBps:   1_000,
			ReferralBps:     10,
			ReferralMode:    "carve_out",
			PublicTipBps:    10,
			PublicTipCap:    50_000_000,
		},
		Breaker: BreakerConfig{
			VolumeWindow:    duration{1 * time.Hour},
			MaxWindowVolume: 100_000_000_000,
			PriceWindow:     duration{10 * time.Minute},
			MaxMoveBps:      1_500,
		},
		Router: RouterConfig{
			BatchNotionalThreshold: 10_000_000_000,
			TightSlippageBps:       20,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
			LockKey:  "dcad:keeper:leader",
			LockTTL:  duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{1 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventCircuitBreakerTriggered,
				domain.EventEmergencyArmed,
				domain.EventEmergencyWithdrawn,
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only required when this process signs settlements, i.e. runs
	// the keeper loop.
	needsWallet := c.Mode == "keeper" || (c.Mode == "full" && c.Keeper.Enabled)
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Protocol
	if c.Protocol.MaxOracleStaleness.Duration <= 0 {
		errs = append(errs, "protocol: max_oracle_staleness must be positive")
	}
	if c.Protocol.MinTwapWindow.Duration <= 0 {
		errs = append(errs, "protocol: min_twap_window must be positive")
	}
	if c.Protocol.EmergencyDelay.Duration <= 0 {
		errs = append(errs, "protocol: emergency_delay must be positive")
	}
	if c.Protocol.Treasury != "" && !common.IsHexAddress(c.Protocol.Treasury) {
		errs = append(errs, fmt.Sprintf("protocol: treasury %q is not a hex address", c.Protocol.Treasury))
	}
	for _, a := range c.Protocol.Admins {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("protocol: admin %q is not a hex address", a))
		}
	}
	for _, k := range c.Protocol.Keepers {
		if !common.IsHexAddress(k) {
			errs = append(errs, fmt.Sprintf("protocol: keeper %q is not a hex address", k))
		}
	}

	// Assets
	if len(c.Assets) < 2 {
		errs = append(errs, "assets: at least two assets must be registered")
	}
	seen := map[string]bool{}
	for i, a := range c.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", i))
			continue
		}
		if seen[a.Symbol] {
			errs = append(errs, fmt.Sprintf("assets: duplicate symbol %q", a.Symbol))
		}
		seen[a.Symbol] = true
		if a.Address != "" && !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("assets[%d]: address %q is not a hex address", i, a.Address))
		}
	}

	// Fees
	feeCfg := c.FeeConfig()
	if err := feeCfg.Validate(); err != nil {
		errs = append(errs, "fees: "+err.Error())
	}

	// Venues are required wherever this process executes swaps.
	if needsWallet && c.Venues.Auction.URL == "" && c.Venues.AMM.URL == "" && c.Venues.Aggregator.URL == "" {
		errs = append(errs, "venues: at least one venue url must be set for mode "+c.Mode)
	}

	// Oracle feed kinds
	for i, f := range c.Oracle.Feeds {
		if f.Kind != "cache" && f.Kind != "push" {
			errs = append(errs, fmt.Sprintf("oracle.feeds[%d]: unknown kind %q (valid: cache, push)", i, f.Kind))
		}
		if f.Asset == "" || f.Name == "" {
			errs = append(errs, fmt.Sprintf("oracle.feeds[%d]: asset and name are required", i))
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		// Empty identity is allowed; the wallet address is used instead.
		if c.Keeper.Identity != "" && !common.IsHexAddress(c.Keeper.Identity) {
			errs = append(errs, fmt.Sprintf("keeper: identity %q is not a hex address", c.Keeper.Identity))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		for token, addr := range c.Server.Tokens {
			if token == "" {
				errs = append(errs, "server: empty bearer token")
			}
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("server: token principal %q is not a hex address", addr))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions into the domain policy tables
// ---------------------------------------------------------------------------

// ProtocolConfig builds the domain protocol singleton from the file config.
func (c *Config) ProtocolConfig() domain.ProtocolConfig {
	admins := make(map[common.Address]bool, len(c.Protocol.Admins))
	for _, a := range c.Protocol.Admins {
		admins[common.HexToAddress(a)] = true
	}
	keepers := make(map[common.Address]bool, len(c.Protocol.Keepers))
	for _, k := range c.Protocol.Keepers {
		keepers[common.HexToAddress(k)] = true
	}
	assets := make(map[string]domain.Asset, len(c.Assets))
	for _, a := range c.Assets {
		assets[a.Symbol] = domain.Asset{
			Symbol:   a.Symbol,
			Address:  common.HexToAddress(a.Address),
			Decimals: a.Decimals,
			PegUSD:   a.PegUSD,
		}
	}
	return domain.ProtocolConfig{
		MaxPositionsPerOwner: c.Protocol.MaxPositionsPerOwner,
		MaxPositions:         c.Protocol.MaxPositions,
		MaxOracleStaleness:   c.Protocol.MaxOracleStaleness.Duration,
		MinTwapWindow:        c.Protocol.MinTwapWindow.Duration,
		DepegThresholdBps:    c.Protocol.DepegThresholdBps,
		EmergencyDelay:       c.Protocol.EmergencyDelay.Duration,
		GracePeriod:          c.Protocol.GracePeriod.Duration,
		Treasury:             common.HexToAddress(c.Protocol.Treasury),
		Admins:               admins,
		Keepers:              keepers,
		Assets:               assets,
	}
}

// FeeConfig builds the domain fee-policy tables from the file config.
func (c *Config) FeeConfig() domain.FeeConfig {
	tiers := make([]domain.FeeTier, len(c.Fees.Tiers))
	for i, t := range c.Fees.Tiers {
		tiers[i] = domain.FeeTier{NotionalCeiling: t.NotionalCeiling, Bps: t.Bps}
	}
	return domain.FeeConfig{
		Tiers:            tiers,
		ExecutionFeeBps:  c.Fees.ExecutionFeeBps,
		ExecutionFeeFlat: c.Fees.ExecutionFeeFlat,
		GasPremiumBps:    c.Fees.GasPremiumBps,
		ReferralBps:      c.Fees.ReferralBps,
		ReferralMode:     domain.ReferralMode(c.Fees.ReferralMode),
		PublicTipBps:     c.Fees.PublicTipBps,
		PublicTipCap:     c.Fees.PublicTipCap,
	}
}

// BreakerConfig builds the domain circuit-breaker thresholds.
func (c *Config) BreakerConfig() domain.BreakerConfig {
	return domain.BreakerConfig{
		VolumeWindow:    c.Breaker.VolumeWindow.Duration,
		MaxWindowVolume: c.Breaker.MaxWindowVolume,
		PriceWindow:     c.Breaker.PriceWindow.Duration,
		MaxMoveBps:      c.Breaker.MaxMoveBps,
	}
}

// RouterConfig builds the domain venue-cascade policy.
func (c *Config) RouterConfig() domain.RouterConfig {
	return domain.RouterConfig{
		BatchNotionalThreshold: c.Router.BatchNotionalThreshold,
		TightSlippageBps:       c.Router.TightSlippageBps,
	}
}

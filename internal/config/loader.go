package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DCAD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DCAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DCAD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DCAD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DCAD_WALLET_KEY_PASSWORD")
	setInt(&cfg.Wallet.ChainID, "DCAD_WALLET_CHAIN_ID")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DCAD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "DCAD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "DCAD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "DCAD_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "DCAD_DATABASE_USER")
	setStr(&cfg.Database.Password, "DCAD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DCAD_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "DCAD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DCAD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DCAD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DCAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DCAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DCAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DCAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DCAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DCAD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DCAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DCAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DCAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "DCAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DCAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DCAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DCAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DCAD_S3_FORCE_PATH_STYLE")

	// ── Protocol ──
	setDuration(&cfg.Protocol.MaxOracleStaleness, "DCAD_PROTOCOL_MAX_ORACLE_STALENESS")
	setDuration(&cfg.Protocol.MinTwapWindow, "DCAD_PROTOCOL_MIN_TWAP_WINDOW")
	setDuration(&cfg.Protocol.EmergencyDelay, "DCAD_PROTOCOL_EMERGENCY_DELAY")
	setDuration(&cfg.Protocol.GracePeriod, "DCAD_PROTOCOL_GRACE_PERIOD")
	setStr(&cfg.Protocol.Treasury, "DCAD_PROTOCOL_TREASURY")
	setStringSlice(&cfg.Protocol.Admins, "DCAD_PROTOCOL_ADMINS")
	setStringSlice(&cfg.Protocol.Keepers, "DCAD_PROTOCOL_KEEPERS")

	// ── Venues ──
	setStr(&cfg.Venues.Auction.URL, "DCAD_VENUES_AUCTION_URL")
	setStr(&cfg.Venues.Auction.APIKey, "DCAD_VENUES_AUCTION_API_KEY")
	setStr(&cfg.Venues.AMM.URL, "DCAD_VENUES_AMM_URL")
	setStr(&cfg.Venues.AMM.APIKey, "DCAD_VENUES_AMM_API_KEY")
	setStr(&cfg.Venues.Aggregator.URL, "DCAD_VENUES_AGGREGATOR_URL")
	setStr(&cfg.Venues.Aggregator.APIKey, "DCAD_VENUES_AGGREGATOR_API_KEY")
	setStr(&cfg.Venues.Treasury.URL, "DCAD_VENUES_TREASURY_URL")
	setStr(&cfg.Venues.Treasury.APIKey, "DCAD_VENUES_TREASURY_API_KEY")
	setStr(&cfg.Venues.EthRPCURL, "DCAD_VENUES_ETH_RPC_URL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "DCAD_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "DCAD_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Pairs, "DCAD_FEED_PAIRS")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "DCAD_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Identity, "DCAD_KEEPER_IDENTITY")
	setDuration(&cfg.Keeper.Interval, "DCAD_KEEPER_INTERVAL")
	setStr(&cfg.Keeper.LockKey, "DCAD_KEEPER_LOCK_KEY")
	setDuration(&cfg.Keeper.LockTTL, "DCAD_KEEPER_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DCAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DCAD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DCAD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DCAD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DCAD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DCAD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DCAD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "DCAD_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "DCAD_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "DCAD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DCAD_MODE")
	setStr(&cfg.LogLevel, "DCAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

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
// built-in defaults, applies STRATVAULT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STRATVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Custody.
	setStr(&cfg.Custody.PrivateKey, "STRATVAULT_CUSTODY_PRIVATE_KEY")
	setStr(&cfg.Custody.EncryptedKeyPath, "STRATVAULT_CUSTODY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Custody.KeyPassword, "STRATVAULT_CUSTODY_KEY_PASSWORD")
	setStr(&cfg.Custody.Owner, "STRATVAULT_CUSTODY_OWNER")

	// EVM.
	setStr(&cfg.EVM.RPCURL, "STRATVAULT_EVM_RPC_URL")
	setStr(&cfg.EVM.SwapRouter, "STRATVAULT_EVM_SWAP_ROUTER")
	setStr(&cfg.EVM.Quoter, "STRATVAULT_EVM_QUOTER")
	setStr(&cfg.EVM.BridgeRouter, "STRATVAULT_EVM_BRIDGE_ROUTER")
	setStr(&cfg.EVM.BridgeFeeToken, "STRATVAULT_EVM_BRIDGE_FEE_TOKEN")

	// Postgres.
	setStr(&cfg.Postgres.DSN, "STRATVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STRATVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STRATVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STRATVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STRATVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STRATVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STRATVAULT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STRATVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STRATVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STRATVAULT_POSTGRES_RUN_MIGRATIONS")

	// Redis.
	setStr(&cfg.Redis.Addr, "STRATVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STRATVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STRATVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STRATVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STRATVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STRATVAULT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceCacheTTL, "STRATVAULT_REDIS_PRICE_CACHE_TTL")

	// S3.
	setStr(&cfg.S3.Endpoint, "STRATVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STRATVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STRATVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STRATVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STRATVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STRATVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STRATVAULT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "STRATVAULT_S3_ARCHIVE_RETENTION_DAYS")

	// Engine.
	setUint32(&cfg.Engine.SlippageBps, "STRATVAULT_ENGINE_SLIPPAGE_BPS")
	setInt64(&cfg.Engine.StalenessSeconds, "STRATVAULT_ENGINE_STALENESS_SECONDS")

	// Keeper.
	setDuration(&cfg.Keeper.Interval, "STRATVAULT_KEEPER_INTERVAL")

	// Server.
	setBool(&cfg.Server.Enabled, "STRATVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STRATVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STRATVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STRATVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "STRATVAULT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "STRATVAULT_SERVER_RATE_LIMIT_WINDOW")

	// Notify.
	setStr(&cfg.Notify.TelegramToken, "STRATVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STRATVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STRATVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STRATVAULT_NOTIFY_EVENTS")

	// Top-level.
	setStr(&cfg.Storage, "STRATVAULT_STORAGE")
	setStr(&cfg.Mode, "STRATVAULT_MODE")
	setStr(&cfg.LogLevel, "STRATVAULT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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

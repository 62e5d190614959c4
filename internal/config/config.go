// Package config defines the top-level configuration for the execution
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by STRATVAULT_* environment
// variables.
type Config struct {
	Custody  CustodyConfig  `toml:"custody"`
	EVM      EVMConfig      `toml:"evm"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`

	// Storage selects the persistence backend: "postgres" or "memory".
	// Memory is for local development only; state does not survive restarts.
	Storage  string `toml:"storage"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// CustodyConfig holds the custody signing key. Exactly one key source must
// be configured: a raw hex key (development) or an encrypted key file.
type CustodyConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	// Owner is the address allowed to call administrative operations. It
	// defaults to the custody key's own address when empty.
	Owner string `toml:"owner"`
}

// EVMConfig holds chain connectivity and the deployed protocol addresses.
type EVMConfig struct {
	RPCURL         string `toml:"rpc_url"`
	SwapRouter     string `toml:"swap_router"`
	Quoter         string `toml:"quoter"`
	BridgeRouter   string `toml:"bridge_router"`
	BridgeFeeToken string `toml:"bridge_fee_token"`

	// Tokens maps ERC-20 addresses to the price feed symbol used when
	// evaluating trigger conditions, e.g. "0x..." = "ETH/USD".
	Tokens map[string]string `toml:"tokens"`

	// Feeds maps feed symbols to their aggregator source address and the
	// source's fixed-point decimals, registered at startup.
	Feeds []FeedConfig `toml:"feeds"`
}

// FeedConfig is one price feed registration.
type FeedConfig struct {
	Symbol   string `toml:"symbol"`
	Source   string `toml:"source"`
	Decimals uint8  `toml:"decimals"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

	// PriceCacheTTL bounds how long cached normalized prices live. Zero
	// disables expiry, leaving staleness checks to the registry.
	PriceCacheTTL duration `toml:"price_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
// Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// ArchiveRetentionDays is how old a terminal record must be before the
	// daily archive sweep exports it.
	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// EngineConfig holds orchestrator parameters.
type EngineConfig struct {
	SlippageBps      uint32 `toml:"slippage_bps"`
	StalenessSeconds int64  `toml:"staleness_seconds"`
}

// KeeperConfig holds the background sweep parameters.
type KeeperConfig struct {
	Interval duration `toml:"interval"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds operator alert parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values can be written as "15s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Run modes.
const (
	ModeFull   = "full"   // keeper + server
	ModeKeeper = "keeper" // background sweeps only
	ModeServer = "server" // HTTP API only
)

// Defaults returns a Config populated with development-friendly defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stratvault",
			User:          "stratvault",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			PriceCacheTTL: duration{time.Hour},
		},
		S3: S3Config{
			Region:               "us-east-1",
			ArchiveRetentionDays: 30,
		},
		Engine: EngineConfig{
			SlippageBps:      50,
			StalenessSeconds: 3600,
		},
		Keeper: KeeperConfig{
			Interval: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimit:       20,
			RateLimitWindow: duration{time.Second},
		},
		Storage:  StoragePostgres,
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Validate checks the configuration for missing or inconsistent values. It
// returns all problems joined into a single error.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case ModeFull, ModeKeeper, ModeServer:
	default:
		problems = append(problems, fmt.Sprintf("mode: unknown mode %q", c.Mode))
	}

	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage: unknown backend %q", c.Storage))
	}

	if c.Custody.PrivateKey == "" && c.Custody.EncryptedKeyPath == "" {
		problems = append(problems, "custody: either private_key or encrypted_key_path is required")
	}
	if c.Custody.EncryptedKeyPath != "" && c.Custody.KeyPassword == "" {
		problems = append(problems, "custody: key_password is required with encrypted_key_path")
	}
	if c.Custody.Owner != "" && !common.IsHexAddress(c.Custody.Owner) {
		problems = append(problems, fmt.Sprintf("custody: invalid owner address %q", c.Custody.Owner))
	}

	if c.EVM.RPCURL == "" {
		problems = append(problems, "evm: rpc_url is required")
	}
	for name, addr := range map[string]string{
		"swap_router":   c.EVM.SwapRouter,
		"quoter":        c.EVM.Quoter,
		"bridge_router": c.EVM.BridgeRouter,
	} {
		if addr == "" {
			problems = append(problems, fmt.Sprintf("evm: %s is required", name))
		} else if !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("evm: invalid %s address %q", name, addr))
		}
	}
	if c.EVM.BridgeFeeToken != "" && !common.IsHexAddress(c.EVM.BridgeFeeToken) {
		problems = append(problems, fmt.Sprintf("evm: invalid bridge_fee_token address %q", c.EVM.BridgeFeeToken))
	}
	for addr, symbol := range c.EVM.Tokens {
		if !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("evm: invalid token address %q", addr))
		}
		if symbol == "" {
			problems = append(problems, fmt.Sprintf("evm: token %s has no feed symbol", addr))
		}
	}
	for _, feed := range c.EVM.Feeds {
		if feed.Symbol == "" {
			problems = append(problems, "evm: feed with empty symbol")
		}
		if !common.IsHexAddress(feed.Source) {
			problems = append(problems, fmt.Sprintf("evm: feed %s has invalid source %q", feed.Symbol, feed.Source))
		}
	}

	if c.Storage == StoragePostgres && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		problems = append(problems, "postgres: dsn or host is required")
	}

	if c.Engine.SlippageBps > 1000 {
		problems = append(problems, fmt.Sprintf("engine: slippage_bps %d above ceiling 1000", c.Engine.SlippageBps))
	}
	if c.Engine.StalenessSeconds <= 0 {
		problems = append(problems, "engine: staleness_seconds must be positive")
	}

	if c.Keeper.Interval.Duration <= 0 {
		problems = append(problems, "keeper: interval must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		problems = append(problems, "notify: telegram_chat_id is required with telegram_token")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// OwnerAddress resolves the administrative owner address, falling back to
// the supplied custody address when no explicit owner is configured.
func (c *Config) OwnerAddress(custody common.Address) common.Address {
	if c.Custody.Owner != "" {
		return common.HexToAddress(c.Custody.Owner)
	}
	return custody
}

// TokenSymbols parses the configured token map into address keys.
func (c *Config) TokenSymbols() map[common.Address]string {
	out := make(map[common.Address]string, len(c.EVM.Tokens))
	for addr, symbol := range c.EVM.Tokens {
		out[common.HexToAddress(addr)] = symbol
	}
	return out
}

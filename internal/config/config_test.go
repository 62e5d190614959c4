package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Custody.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.EVM.RPCURL = "https://rpc.example.com"
	cfg.EVM.SwapRouter = "0xE592427A0AEce92De3Edee1F18E0157C05861564"
	cfg.EVM.Quoter = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
	cfg.EVM.BridgeRouter = "0x80226fc0Ee2b096224EeAc085Bb9a8cba1146f7D"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingCustodyKey(t *testing.T) {
	cfg := validConfig()
	cfg.Custody.PrivateKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custody")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "hybrid"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsSlippageAboveCeiling(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.SlippageBps = 1001

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slippage_bps")
}

func TestValidateCollectsMultipleProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Storage = "flatfile"
	cfg.Keeper.Interval = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Contains(t, err.Error(), "keeper")
}

func TestValidateBadTokenAndFeed(t *testing.T) {
	cfg := validConfig()
	cfg.EVM.Tokens = map[string]string{"not-an-address": "WETH"}
	cfg.EVM.Feeds = []FeedConfig{{Symbol: "", Source: "0xbad"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token address")
	assert.Contains(t, err.Error(), "feed with empty symbol")
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "keeper"
log_level = "debug"

[engine]
slippage_bps = 75

[keeper]
interval = "30s"

[redis]
addr = "redis.internal:6380"
price_cache_ttl = "5m"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeKeeper, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(75), cfg.Engine.SlippageBps)
	assert.Equal(t, 30*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.PriceCacheTTL.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(3600), cfg.Engine.StalenessSeconds)
}

func TestEnvOverridesApplied(t *testing.T) {
	t.Setenv("STRATVAULT_POSTGRES_DSN", "postgres://env-user:pw@db:5432/vault")
	t.Setenv("STRATVAULT_SERVER_PORT", "9090")
	t.Setenv("STRATVAULT_KEEPER_INTERVAL", "45s")
	t.Setenv("STRATVAULT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("STRATVAULT_REDIS_TLS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-user:pw@db:5432/vault", cfg.Postgres.DSN)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.TLSEnabled)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	t.Setenv("STRATVAULT_SERVER_PORT", "not-a-number")
	t.Setenv("STRATVAULT_KEEPER_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Keeper.Interval.Duration)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Custody.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "shhh"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/x"
	cfg.EVM.Tokens = map[string]string{"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2": "WETH"}

	red := cfg.Redacted()

	assert.Equal(t, redacted, red.Custody.PrivateKey)
	assert.Equal(t, redacted, red.Custody.KeyPassword)
	assert.Equal(t, redacted, red.Postgres.Password)
	assert.Equal(t, redacted, red.Redis.Password)
	assert.Equal(t, redacted, red.S3.AccessKey)
	assert.Equal(t, redacted, red.S3.SecretKey)
	assert.Equal(t, redacted, red.Server.APIKey)
	assert.Equal(t, redacted, red.Notify.TelegramToken)
	assert.Equal(t, redacted, red.Notify.DiscordWebhookURL)

	// Originals untouched.
	assert.Equal(t, "pgpass", cfg.Postgres.Password)

	// Map copy is independent.
	red.EVM.Tokens["0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"] = "CHANGED"
	assert.Equal(t, "WETH", cfg.EVM.Tokens["0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"])
}

func TestOwnerAddressFallsBackToCustody(t *testing.T) {
	custody := common.HexToAddress("0x1111111111111111111111111111111111111111")
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")

	cfg := validConfig()
	assert.Equal(t, custody, cfg.OwnerAddress(custody))

	cfg.Custody.Owner = owner.Hex()
	assert.Equal(t, owner, cfg.OwnerAddress(custody))
}

func TestTokenSymbolsParsesAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.EVM.Tokens = map[string]string{
		"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2": "WETH",
		"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48": "USDC",
	}

	symbols := cfg.TokenSymbols()
	assert.Equal(t, "WETH", symbols[common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")])
	assert.Equal(t, "USDC", symbols[common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")])
}

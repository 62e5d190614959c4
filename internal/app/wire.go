package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "stratvault/internal/blob/s3"
	memcache "stratvault/internal/cache/memory"
	"stratvault/internal/cache/redis"
	"stratvault/internal/config"
	"stratvault/internal/crypto"
	"stratvault/internal/domain"
	"stratvault/internal/notify"
	"stratvault/internal/platform/evm"
	memstore "stratvault/internal/store/memory"
	"stratvault/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore       domain.TradeStore
	DCAPlanStore     domain.DCAPlanStore
	ChainConfigStore domain.ChainConfigStore
	PriceFeedStore   domain.PriceFeedStore
	EngineStateStore domain.EngineStateStore
	AuditStore       domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Chain access. Custody is the address the signing key controls; every
	// escrow pull, settlement, and bridge send transacts from it.
	Custody     common.Address
	Tokens      domain.TokenProtocol
	Swaps       domain.SwapProtocol
	Bridge      domain.BridgeProtocol
	PriceSource domain.PriceSource

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	// The archiver needs the time-ranged export queries that only the
	// Postgres stores implement, so it is wired further down only when both
	// Postgres and S3 are configured.
	var (
		pgTrades *postgres.TradeStore
		pgPlans  *postgres.DCAPlanStore
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		pgTrades = postgres.NewTradeStore(pool)
		pgPlans = postgres.NewDCAPlanStore(pool)
		deps.TradeStore = pgTrades
		deps.DCAPlanStore = pgPlans
		deps.ChainConfigStore = postgres.NewChainConfigStore(pool)
		deps.PriceFeedStore = postgres.NewPriceFeedStore(pool)
		deps.EngineStateStore = postgres.NewEngineStateStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

	case config.StorageMemory:
		deps.TradeStore = memstore.NewTradeStore()
		deps.DCAPlanStore = memstore.NewDCAPlanStore()
		deps.ChainConfigStore = memstore.NewChainConfigStore()
		deps.PriceFeedStore = memstore.NewPriceFeedStore()
		deps.EngineStateStore = memstore.NewEngineStateStore()
		deps.AuditStore = memstore.NewAuditStore()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported storage backend %q", cfg.Storage)
	}

	// --- Redis (in-memory fallback when no address is configured) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		logger.WarnContext(ctx, "wire: redis.addr not set, using in-process cache and bus (single instance only)")
		deps.PriceCache = memcache.NewPriceCache()
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus()
		// No distributed rate limiter without Redis; the server runs unthrottled.
	}

	// --- EVM chain access ---
	evmClient, err := evm.Dial(ctx, cfg.EVM.RPCURL, crypto.KeyConfig{
		RawPrivateKey:    cfg.Custody.PrivateKey,
		EncryptedKeyPath: cfg.Custody.EncryptedKeyPath,
		KeyPassword:      cfg.Custody.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: evm: %w", err)
	}
	closers = append(closers, evmClient.Close)
	deps.Custody = evmClient.Address()

	tokens, err := evm.NewERC20(evmClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: erc20 adapter: %w", err)
	}
	deps.Tokens = tokens

	swaps, err := evm.NewUniswap(evmClient, tokens,
		common.HexToAddress(cfg.EVM.SwapRouter),
		common.HexToAddress(cfg.EVM.Quoter),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: uniswap adapter: %w", err)
	}
	deps.Swaps = swaps

	bridge, err := evm.NewCCIP(evmClient, tokens,
		common.HexToAddress(cfg.EVM.BridgeRouter),
		common.HexToAddress(cfg.EVM.BridgeFeeToken),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ccip adapter: %w", err)
	}
	deps.Bridge = bridge

	aggregator, err := evm.NewAggregator(evmClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: aggregator adapter: %w", err)
	}
	deps.PriceSource = aggregator

	// --- S3 blob storage (archival disabled when no bucket is configured) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		if pgTrades != nil && pgPlans != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, pgTrades, pgPlans, deps.AuditStore)
		} else {
			logger.WarnContext(ctx, "wire: s3 configured without postgres, archival disabled")
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

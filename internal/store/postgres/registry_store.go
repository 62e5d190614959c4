package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratvault/internal/domain"
)

// ChainConfigStore implements domain.ChainConfigStore using PostgreSQL.
type ChainConfigStore struct {
	pool *pgxpool.Pool
}

// NewChainConfigStore creates a new ChainConfigStore backed by the given pool.
func NewChainConfigStore(pool *pgxpool.Pool) *ChainConfigStore {
	return &ChainConfigStore{pool: pool}
}

// Upsert inserts or replaces the configuration for one chain. A zero trusted
// sender on insert is stored as empty; Upsert with a zero sender against an
// existing row preserves the configured sender.
func (s *ChainConfigStore) Upsert(ctx context.Context, cfg domain.ChainConfig) error {
	sender := ""
	if cfg.TrustedSender != domain.ZeroAddress {
		sender = cfg.TrustedSender.Hex()
	}

	const query = `
		INSERT INTO chain_configs (chain_selector, supported, trusted_sender, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_selector) DO UPDATE SET
			supported = EXCLUDED.supported,
			trusted_sender = CASE
				WHEN EXCLUDED.trusted_sender = '' THEN chain_configs.trusted_sender
				ELSE EXCLUDED.trusted_sender
			END,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, cfg.ChainSelector, cfg.Supported, sender); err != nil {
		return fmt.Errorf("postgres: upsert chain config %d: %w", cfg.ChainSelector, err)
	}
	return nil
}

// Get retrieves the configuration for one chain.
func (s *ChainConfigStore) Get(ctx context.Context, chainSelector uint64) (domain.ChainConfig, error) {
	const query = `
		SELECT chain_selector, supported, trusted_sender, updated_at
		FROM chain_configs WHERE chain_selector = $1`

	var (
		cfg    domain.ChainConfig
		sender string
	)
	err := s.pool.QueryRow(ctx, query, chainSelector).Scan(
		&cfg.ChainSelector, &cfg.Supported, &sender, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChainConfig{}, domain.ErrNotFound
		}
		return domain.ChainConfig{}, fmt.Errorf("postgres: get chain config %d: %w", chainSelector, err)
	}
	if sender != "" {
		cfg.TrustedSender = common.HexToAddress(sender)
	}
	return cfg, nil
}

// List returns all chain configurations ordered by selector.
func (s *ChainConfigStore) List(ctx context.Context) ([]domain.ChainConfig, error) {
	const query = `
		SELECT chain_selector, supported, trusted_sender, updated_at
		FROM chain_configs ORDER BY chain_selector`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chain configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.ChainConfig
	for rows.Next() {
		var (
			cfg    domain.ChainConfig
			sender string
		)
		if err := rows.Scan(&cfg.ChainSelector, &cfg.Supported, &sender, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan chain config: %w", err)
		}
		if sender != "" {
			cfg.TrustedSender = common.HexToAddress(sender)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

var _ domain.ChainConfigStore = (*ChainConfigStore)(nil)

// PriceFeedStore implements domain.PriceFeedStore using PostgreSQL.
type PriceFeedStore struct {
	pool *pgxpool.Pool
}

// NewPriceFeedStore creates a new PriceFeedStore backed by the given pool.
func NewPriceFeedStore(pool *pgxpool.Pool) *PriceFeedStore {
	return &PriceFeedStore{pool: pool}
}

const feedUpsertQuery = `
	INSERT INTO price_feeds (symbol, source, decimals, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (symbol) DO UPDATE SET
		source = EXCLUDED.source,
		decimals = EXCLUDED.decimals,
		updated_at = NOW()`

// Upsert inserts or replaces one feed entry.
func (s *PriceFeedStore) Upsert(ctx context.Context, entry domain.PriceFeedEntry) error {
	_, err := s.pool.Exec(ctx, feedUpsertQuery,
		entry.Symbol, entry.Source.Hex(), int16(entry.Decimals))
	if err != nil {
		return fmt.Errorf("postgres: upsert price feed %s: %w", entry.Symbol, err)
	}
	return nil
}

// UpsertBatch inserts or replaces several feed entries in one round trip.
func (s *PriceFeedStore) UpsertBatch(ctx context.Context, entries []domain.PriceFeedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(feedUpsertQuery, entry.Symbol, entry.Source.Hex(), int16(entry.Decimals))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert price feed batch item %d: %w", i, err)
		}
	}
	return nil
}

// Get retrieves one feed entry by symbol.
func (s *PriceFeedStore) Get(ctx context.Context, symbol string) (domain.PriceFeedEntry, error) {
	const query = `
		SELECT symbol, source, decimals, updated_at
		FROM price_feeds WHERE symbol = $1`

	var (
		entry    domain.PriceFeedEntry
		source   string
		decimals int16
	)
	err := s.pool.QueryRow(ctx, query, symbol).Scan(
		&entry.Symbol, &source, &decimals, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceFeedEntry{}, domain.ErrNotFound
		}
		return domain.PriceFeedEntry{}, fmt.Errorf("postgres: get price feed %s: %w", symbol, err)
	}
	entry.Source = common.HexToAddress(source)
	entry.Decimals = uint8(decimals)
	return entry, nil
}

// List returns all feed entries ordered by symbol.
func (s *PriceFeedStore) List(ctx context.Context) ([]domain.PriceFeedEntry, error) {
	const query = `
		SELECT symbol, source, decimals, updated_at
		FROM price_feeds ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price feeds: %w", err)
	}
	defer rows.Close()

	var entries []domain.PriceFeedEntry
	for rows.Next() {
		var (
			entry    domain.PriceFeedEntry
			source   string
			decimals int16
		)
		if err := rows.Scan(&entry.Symbol, &source, &decimals, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan price feed: %w", err)
		}
		entry.Source = common.HexToAddress(source)
		entry.Decimals = uint8(decimals)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var _ domain.PriceFeedStore = (*PriceFeedStore)(nil)

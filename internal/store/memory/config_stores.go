package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stratvault/internal/domain"
)

// ChainConfigStore is an in-memory implementation of domain.ChainConfigStore.
type ChainConfigStore struct {
	mu   sync.RWMutex
	data map[uint64]domain.ChainConfig
}

// NewChainConfigStore creates a new in-memory chain config store.
func NewChainConfigStore() *ChainConfigStore {
	return &ChainConfigStore{data: make(map[uint64]domain.ChainConfig)}
}

// Upsert stores the chain configuration.
func (s *ChainConfigStore) Upsert(_ context.Context, cfg domain.ChainConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[cfg.ChainSelector]; ok {
		// Preserve fields the caller did not intend to clear.
		if cfg.TrustedSender == domain.ZeroAddress {
			cfg.TrustedSender = existing.TrustedSender
		}
	}
	cfg.UpdatedAt = time.Now().UTC()
	s.data[cfg.ChainSelector] = cfg
	return nil
}

// Get retrieves the configuration for one chain selector.
func (s *ChainConfigStore) Get(_ context.Context, chainSelector uint64) (domain.ChainConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.data[chainSelector]
	if !ok {
		return domain.ChainConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

// List returns all configured chains ordered by selector.
func (s *ChainConfigStore) List(_ context.Context) ([]domain.ChainConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]domain.ChainConfig, 0, len(s.data))
	for _, cfg := range s.data {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].ChainSelector < configs[j].ChainSelector
	})
	return configs, nil
}

// PriceFeedStore is an in-memory implementation of domain.PriceFeedStore.
type PriceFeedStore struct {
	mu   sync.RWMutex
	data map[string]domain.PriceFeedEntry
}

// NewPriceFeedStore creates a new in-memory price feed store.
func NewPriceFeedStore() *PriceFeedStore {
	return &PriceFeedStore{data: make(map[string]domain.PriceFeedEntry)}
}

// Upsert stores one feed entry.
func (s *PriceFeedStore) Upsert(_ context.Context, entry domain.PriceFeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.UpdatedAt = time.Now().UTC()
	s.data[entry.Symbol] = entry
	return nil
}

// UpsertBatch stores multiple feed entries.
func (s *PriceFeedStore) UpsertBatch(ctx context.Context, entries []domain.PriceFeedEntry) error {
	for _, e := range entries {
		if err := s.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves the entry for one symbol.
func (s *PriceFeedStore) Get(_ context.Context, symbol string) (domain.PriceFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[symbol]
	if !ok {
		return domain.PriceFeedEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

// List returns all entries ordered by symbol.
func (s *PriceFeedStore) List(_ context.Context) ([]domain.PriceFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.PriceFeedEntry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries, nil
}

// Compile-time interface checks.
var (
	_ domain.ChainConfigStore = (*ChainConfigStore)(nil)
	_ domain.PriceFeedStore   = (*PriceFeedStore)(nil)
)

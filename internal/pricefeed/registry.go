// Package pricefeed maps symbols to external price sources and serves
// staleness-checked reads, normalized to a fixed 18-decimal scale.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// DefaultStalenessThreshold is how old a quote may be before reads fail.
const DefaultStalenessThreshold = 3600 * time.Second

// ErrLengthMismatch is returned by batch feed registration when the symbol and
// source slices differ in length.
var ErrLengthMismatch = errors.New("pricefeed: symbol and source counts differ")

// Registry resolves symbols to price sources and answers price reads. Quotes
// older than the staleness threshold are rejected rather than served.
type Registry struct {
	feeds  domain.PriceFeedStore
	source domain.PriceSource
	cache  domain.PriceCache
	owner  common.Address
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	staleness time.Duration
}

// NewRegistry creates a Registry with the default staleness threshold. cache
// may be nil; normalized reads then always hit the source.
func NewRegistry(
	feeds domain.PriceFeedStore,
	source domain.PriceSource,
	cache domain.PriceCache,
	owner common.Address,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		feeds:     feeds,
		source:    source,
		cache:     cache,
		owner:     owner,
		logger:    logger.With(slog.String("component", "pricefeed")),
		now:       time.Now,
		staleness: DefaultStalenessThreshold,
	}
}

// WithClock overrides the registry's time source. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// StalenessThreshold returns the current registry-wide threshold.
func (r *Registry) StalenessThreshold() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staleness
}

// SetStalenessThreshold updates the registry-wide threshold. Owner only.
func (r *Registry) SetStalenessThreshold(ctx context.Context, caller common.Address, threshold time.Duration) error {
	if caller != r.owner {
		return domain.ErrOwnerOnly
	}
	if threshold <= 0 {
		return domain.ErrInvalidAmount
	}
	r.mu.Lock()
	r.staleness = threshold
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "staleness threshold updated",
		slog.Duration("threshold", threshold))
	return nil
}

// SetPriceFeed registers or replaces the source for one symbol. Owner only.
// Registering invalidates any cached price for the symbol.
func (r *Registry) SetPriceFeed(ctx context.Context, caller common.Address, symbol string, source common.Address, decimals uint8) error {
	if caller != r.owner {
		return domain.ErrOwnerOnly
	}
	if symbol == "" || source == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	entry := domain.PriceFeedEntry{
		Symbol:    symbol,
		Source:    source,
		Decimals:  decimals,
		UpdatedAt: r.now().UTC(),
	}
	if err := r.feeds.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("pricefeed: set feed %s: %w", symbol, err)
	}
	r.invalidate(ctx, symbol)
	r.logger.InfoContext(ctx, "price feed registered",
		slog.String("symbol", symbol),
		slog.String("source", source.Hex()),
	)
	return nil
}

// SetPriceFeeds registers sources for several symbols at once. The three
// slices must have equal length; decimals apply element-wise.
func (r *Registry) SetPriceFeeds(ctx context.Context, caller common.Address, symbols []string, sources []common.Address, decimals []uint8) error {
	if caller != r.owner {
		return domain.ErrOwnerOnly
	}
	if len(symbols) != len(sources) || len(symbols) != len(decimals) {
		return ErrLengthMismatch
	}
	now := r.now().UTC()
	entries := make([]domain.PriceFeedEntry, 0, len(symbols))
	for i, symbol := range symbols {
		if symbol == "" || sources[i] == domain.ZeroAddress {
			return domain.ErrInvalidToken
		}
		entries = append(entries, domain.PriceFeedEntry{
			Symbol:    symbol,
			Source:    sources[i],
			Decimals:  decimals[i],
			UpdatedAt: now,
		})
	}
	if err := r.feeds.UpsertBatch(ctx, entries); err != nil {
		return fmt.Errorf("pricefeed: set feeds: %w", err)
	}
	for _, symbol := range symbols {
		r.invalidate(ctx, symbol)
	}
	r.logger.InfoContext(ctx, "price feeds registered", slog.Int("count", len(symbols)))
	return nil
}

// GetFeed returns the configured entry for a symbol.
func (r *Registry) GetFeed(ctx context.Context, symbol string) (domain.PriceFeedEntry, error) {
	entry, err := r.feeds.Get(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceFeedEntry{}, fmt.Errorf("pricefeed: %s: %w", symbol, domain.ErrPriceFeedNotFound)
		}
		return domain.PriceFeedEntry{}, fmt.Errorf("pricefeed: get feed %s: %w", symbol, err)
	}
	return entry, nil
}

// ListFeeds returns all configured entries.
func (r *Registry) ListFeeds(ctx context.Context) ([]domain.PriceFeedEntry, error) {
	entries, err := r.feeds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: list feeds: %w", err)
	}
	return entries, nil
}

// GetLatestPrice reads the current quote for a symbol in the source's native
// decimals. Unconfigured symbols fail with ErrPriceFeedNotFound; quotes older
// than the staleness threshold fail with ErrPriceStale.
func (r *Registry) GetLatestPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	entry, err := r.GetFeed(ctx, symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	quote, err := r.source.LatestRoundData(ctx, entry.Source)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("pricefeed: read %s: %w", symbol, err)
	}
	if quote.Decimals == 0 {
		quote.Decimals = entry.Decimals
	}
	if quote.Stale(r.now(), r.StalenessThreshold()) {
		return domain.PriceQuote{}, fmt.Errorf("pricefeed: %s updated %s: %w",
			symbol, quote.UpdatedAt.UTC().Format(time.RFC3339), domain.ErrPriceStale)
	}
	return quote, nil
}

// GetNormalizedPrice returns the current price for a symbol scaled to 18
// decimals. Fresh cache hits short-circuit the source read; staleness is
// re-checked on the cached timestamp so a dead source cannot serve forever.
func (r *Registry) GetNormalizedPrice(ctx context.Context, symbol string) (*big.Int, error) {
	if r.cache != nil {
		price, ts, err := r.cache.GetNormalized(ctx, symbol)
		if err == nil && price != nil && !ts.IsZero() {
			if r.now().Sub(ts) <= r.StalenessThreshold() {
				return price, nil
			}
		}
	}

	quote, err := r.GetLatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	normalized := quote.Normalized()

	if r.cache != nil {
		if err := r.cache.SetNormalized(ctx, symbol, normalized, quote.UpdatedAt); err != nil {
			r.logger.WarnContext(ctx, "price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return normalized, nil
}

func (r *Registry) invalidate(ctx context.Context, symbol string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, symbol); err != nil {
		r.logger.WarnContext(ctx, "price cache invalidate failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

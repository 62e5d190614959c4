package pricefeed

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "stratvault/internal/cache/memory"
	"stratvault/internal/domain"
	"stratvault/internal/store/memory"
)

var (
	owner     = common.HexToAddress("0xad00000000000000000000000000000000000001")
	notOwner  = common.HexToAddress("0xa000000000000000000000000000000000000001")
	ethSource = common.HexToAddress("0xf000000000000000000000000000000000000001")
	btcSource = common.HexToAddress("0xf000000000000000000000000000000000000002")
)

// fakeSource serves canned quotes keyed by source handle and counts reads.
type fakeSource struct {
	quotes map[common.Address]domain.PriceQuote
	reads  int
}

func (f *fakeSource) LatestRoundData(_ context.Context, source common.Address) (domain.PriceQuote, error) {
	f.reads++
	q, ok := f.quotes[source]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

var _ domain.PriceSource = (*fakeSource)(nil)

func newRegistry(t *testing.T, cache domain.PriceCache) (*Registry, *fakeSource) {
	t.Helper()
	src := &fakeSource{quotes: map[common.Address]domain.PriceQuote{
		ethSource: {
			RoundID:   big.NewInt(100),
			Price:     big.NewInt(200000000000), // $2000, 8 decimals
			Decimals:  8,
			UpdatedAt: time.Now(),
		},
	}}
	r := NewRegistry(
		memory.NewPriceFeedStore(),
		src,
		cache,
		owner,
		slog.New(slog.DiscardHandler),
	)
	return r, src
}

func TestSetPriceFeed(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	err := r.SetPriceFeed(ctx, notOwner, "ETH/USD", ethSource, 8)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	err = r.SetPriceFeed(ctx, owner, "ETH/USD", domain.ZeroAddress, 8)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))
	entry, err := r.GetFeed(ctx, "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, ethSource, entry.Source)
	assert.Equal(t, uint8(8), entry.Decimals)
}

func TestSetPriceFeedsBatch(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	err := r.SetPriceFeeds(ctx, owner,
		[]string{"ETH/USD", "BTC/USD"},
		[]common.Address{ethSource},
		[]uint8{8},
	)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	require.NoError(t, r.SetPriceFeeds(ctx, owner,
		[]string{"ETH/USD", "BTC/USD"},
		[]common.Address{ethSource, btcSource},
		[]uint8{8, 8},
	))

	feeds, err := r.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)
}

func TestGetLatestPrice(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := r.GetLatestPrice(ctx, "ETH/USD")
	assert.ErrorIs(t, err, domain.ErrPriceFeedNotFound)

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))

	quote, err := r.GetLatestPrice(ctx, "ETH/USD")
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(200000000000).Cmp(quote.Price))
	assert.Equal(t, uint8(8), quote.Decimals)
	assert.Zero(t, big.NewInt(100).Cmp(quote.RoundID))
}

func TestGetLatestPriceStale(t *testing.T) {
	r, src := newRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))

	quote := src.quotes[ethSource]
	quote.UpdatedAt = time.Now().Add(-2 * time.Hour)
	src.quotes[ethSource] = quote

	_, err := r.GetLatestPrice(ctx, "ETH/USD")
	assert.ErrorIs(t, err, domain.ErrPriceStale)

	// A looser threshold accepts the same quote.
	require.NoError(t, r.SetStalenessThreshold(ctx, owner, 3*time.Hour))
	_, err = r.GetLatestPrice(ctx, "ETH/USD")
	assert.NoError(t, err)
}

func TestSetStalenessThreshold(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	assert.Equal(t, DefaultStalenessThreshold, r.StalenessThreshold())

	err := r.SetStalenessThreshold(ctx, notOwner, time.Minute)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	err = r.SetStalenessThreshold(ctx, owner, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	require.NoError(t, r.SetStalenessThreshold(ctx, owner, time.Minute))
	assert.Equal(t, time.Minute, r.StalenessThreshold())
}

func TestGetNormalizedPrice(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))

	price, err := r.GetNormalizedPrice(ctx, "ETH/USD")
	require.NoError(t, err)

	// $2000 at 8 decimals scales by 10^10 to 18 decimals.
	want := new(big.Int).Mul(big.NewInt(200000000000), new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil))
	assert.Zero(t, want.Cmp(price))
}

func TestGetNormalizedPriceCached(t *testing.T) {
	r, src := newRegistry(t, cachemem.NewPriceCache())
	ctx := context.Background()

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))

	first, err := r.GetNormalizedPrice(ctx, "ETH/USD")
	require.NoError(t, err)
	readsAfterFirst := src.reads

	second, err := r.GetNormalizedPrice(ctx, "ETH/USD")
	require.NoError(t, err)
	assert.Zero(t, first.Cmp(second))
	assert.Equal(t, readsAfterFirst, src.reads, "fresh cache hit must not read the source")

	// Re-registering the feed invalidates the cache.
	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))
	_, err = r.GetNormalizedPrice(ctx, "ETH/USD")
	require.NoError(t, err)
	assert.Greater(t, src.reads, readsAfterFirst)
}

func TestGetNormalizedPriceStaleCacheRefetches(t *testing.T) {
	r, src := newRegistry(t, cachemem.NewPriceCache())
	ctx := context.Background()

	require.NoError(t, r.SetPriceFeed(ctx, owner, "ETH/USD", ethSource, 8))
	_, err := r.GetNormalizedPrice(ctx, "ETH/USD")
	require.NoError(t, err)
	readsAfterFirst := src.reads

	// Advance past the staleness threshold; the cached entry no longer
	// satisfies reads and the now-stale source is rejected.
	r.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = r.GetNormalizedPrice(ctx, "ETH/USD")
	assert.ErrorIs(t, err, domain.ErrPriceStale)
	assert.Greater(t, src.reads, readsAfterFirst)
}

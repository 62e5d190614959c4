package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"stratvault/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// normalized price is stored at key "price:{symbol}" with fields "price"
// (decimal string, 18-decimal fixed point) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl; a non-positive ttl disables expiry and leaves staleness
// checks entirely to the reader.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetNormalized stores the latest normalized price for a symbol.
func (pc *PriceCache) SetNormalized(ctx context.Context, symbol string, price *big.Int, ts time.Time) error {
	key := priceKey(symbol)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetNormalized retrieves the latest normalized price for a symbol. It
// returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetNormalized(ctx context.Context, symbol string) (*big.Int, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: malformed price %q for %s", priceStr, symbol)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Invalidate drops the cached price for a symbol.
func (pc *PriceCache) Invalidate(ctx context.Context, symbol string) error {
	if err := pc.rdb.Del(ctx, priceKey(symbol)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate price %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

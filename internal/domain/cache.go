package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceCache provides fast access to recently normalized prices.
type PriceCache interface {
	SetNormalized(ctx context.Context, symbol string, price *big.Int, ts time.Time) error
	GetNormalized(ctx context.Context, symbol string) (*big.Int, time.Time, error)
	Invalidate(ctx context.Context, symbol string) error
}

// LockManager provides mutual exclusion keyed by order id. Operations on the
// same trade id must be serialized; different ids may run concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter enforces request budgets for API callers.
type RateLimiter interface {
	// Allow reports whether one more request under key fits inside the
	// sliding window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request under key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// SignalBus provides pub/sub for trade lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

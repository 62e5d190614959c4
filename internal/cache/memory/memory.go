// Package memory provides in-process implementations of the domain cache
// interfaces for tests and the memory storage backend, where a Redis
// deployment would be overkill.
package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"stratvault/internal/domain"
)

// LockManager implements domain.LockManager with an in-process mutex table.
// It serializes same-key operations within a single process only.
type LockManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockManager creates an in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]struct{})}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The TTL is
// ignored; in-process locks are released explicitly.
func (lm *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = struct{}{}

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.held, key)
	}
	return unlock, nil
}

// SignalBus implements domain.SignalBus with per-channel subscriber fanout.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewSignalBus creates an in-process signal bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every subscriber of channel. Slow subscribers
// are skipped rather than blocking the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving future publishes on channel. The
// subscription lives until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

type cachedPrice struct {
	price *big.Int
	ts    time.Time
}

// PriceCache implements domain.PriceCache with a plain map.
type PriceCache struct {
	mu   sync.RWMutex
	data map[string]cachedPrice
}

// NewPriceCache creates an in-process price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{data: make(map[string]cachedPrice)}
}

// SetNormalized stores the latest normalized price for a symbol.
func (pc *PriceCache) SetNormalized(_ context.Context, symbol string, price *big.Int, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.data[symbol] = cachedPrice{price: new(big.Int).Set(price), ts: ts}
	return nil
}

// GetNormalized retrieves the latest normalized price for a symbol.
func (pc *PriceCache) GetNormalized(_ context.Context, symbol string) (*big.Int, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	entry, ok := pc.data[symbol]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return new(big.Int).Set(entry.price), entry.ts, nil
}

// Invalidate drops the cached price for a symbol.
func (pc *PriceCache) Invalidate(_ context.Context, symbol string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	delete(pc.data, symbol)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.PriceCache  = (*PriceCache)(nil)
)

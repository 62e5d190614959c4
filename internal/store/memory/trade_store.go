// Package memory provides in-memory implementations of the domain store
// interfaces, used by tests and the memory storage backend.
package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// TradeStore is an in-memory implementation of domain.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]domain.Trade
	order  []int64 // insertion order of ids
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		nextID: 1,
		data:   make(map[int64]domain.Trade),
	}
}

// Create assigns the next id and stores the trade.
func (s *TradeStore) Create(_ context.Context, trade domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade.ID = s.nextID
	s.nextID++
	if trade.AmountIn != nil {
		trade.AmountIn = new(big.Int).Set(trade.AmountIn)
	}
	if trade.TriggerPrice != nil {
		trade.TriggerPrice = new(big.Int).Set(trade.TriggerPrice)
	}
	s.data[trade.ID] = trade
	s.order = append(s.order, trade.ID)
	return trade.ID, nil
}

// GetByID retrieves a single trade.
func (s *TradeStore) GetByID(_ context.Context, id int64) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trade, ok := s.data[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trade, nil
}

// ListByTrader returns the trader's trades in insertion order.
func (s *TradeStore) ListByTrader(_ context.Context, trader common.Address) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []domain.Trade
	for _, id := range s.order {
		if t := s.data[id]; t.Trader == trader {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// ListPending returns pending trades in insertion order.
func (s *TradeStore) ListPending(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []domain.Trade
	for _, id := range s.order {
		if id <= opts.AfterID {
			continue
		}
		if t := s.data[id]; t.Status == domain.TradeStatusPending {
			trades = append(trades, t)
		}
	}
	trades = applyWindow(trades, opts)
	return trades, nil
}

// TransitionStatus performs the compare-and-set status transition.
func (s *TradeStore) TransitionStatus(_ context.Context, id int64, from, to domain.TradeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if trade.Status != from {
		return domain.ErrNotPending
	}

	trade.Status = to
	switch to {
	case domain.TradeStatusExecuted:
		trade.ExecutedAt = &at
	case domain.TradeStatusCancelled, domain.TradeStatusExpired:
		trade.CancelledAt = &at
	}
	s.data[id] = trade
	return nil
}

func applyWindow(trades []domain.Trade, opts domain.ListOpts) []domain.Trade {
	if opts.Offset > 0 {
		if opts.Offset >= len(trades) {
			return nil
		}
		trades = trades[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(trades) {
		trades = trades[:opts.Limit]
	}
	return trades
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

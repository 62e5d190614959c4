package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"stratvault/internal/domain"
)

// EngineStateStore is an in-memory implementation of domain.EngineStateStore.
type EngineStateStore struct {
	mu    sync.RWMutex
	state domain.EngineState
}

// NewEngineStateStore creates an in-memory engine state store with zeroed
// counters and the engine unpaused.
func NewEngineStateStore() *EngineStateStore {
	return &EngineStateStore{
		state: domain.EngineState{
			BridgeVolume: domain.BridgeVolume{
				TotalBridgedOut: big.NewInt(0),
				TotalBridgedIn:  big.NewInt(0),
			},
		},
	}
}

// Get returns a copy of the singleton record.
func (s *EngineStateStore) Get(_ context.Context) (domain.EngineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	state.TotalBridgedOut = new(big.Int).Set(s.state.TotalBridgedOut)
	state.TotalBridgedIn = new(big.Int).Set(s.state.TotalBridgedIn)
	return state, nil
}

// SetPaused flips the pause switch.
func (s *EngineStateStore) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Paused = paused
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementSwapCount bumps the swap counter.
func (s *EngineStateStore) IncrementSwapCount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SwapCount++
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementBridgeCount bumps the bridge counter.
func (s *EngineStateStore) IncrementBridgeCount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.BridgeCount++
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementTradeCount bumps the trade counter.
func (s *EngineStateStore) IncrementTradeCount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TradeCount++
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// AddBridgedOut adds to the outbound bridged volume.
func (s *EngineStateStore) AddBridgedOut(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TotalBridgedOut.Add(s.state.TotalBridgedOut, amount)
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// AddBridgedIn adds to the inbound bridged volume.
func (s *EngineStateStore) AddBridgedIn(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TotalBridgedIn.Add(s.state.TotalBridgedIn, amount)
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time interface check.
var _ domain.EngineStateStore = (*EngineStateStore)(nil)

package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"stratvault/internal/domain"
)

// EngineStateStore implements domain.EngineStateStore over the engine_state
// singleton row. Counter increments are single atomic UPDATEs, so concurrent
// operations never lose a count.
type EngineStateStore struct {
	pool *pgxpool.Pool
}

// NewEngineStateStore creates a new EngineStateStore backed by the given pool.
func NewEngineStateStore(pool *pgxpool.Pool) *EngineStateStore {
	return &EngineStateStore{pool: pool}
}

// Get reads the singleton state row.
func (s *EngineStateStore) Get(ctx context.Context) (domain.EngineState, error) {
	const query = `
		SELECT paused, swap_count, bridge_count, trade_count,
			total_bridged_out::text, total_bridged_in::text, updated_at
		FROM engine_state WHERE id = 1`

	var (
		state                 domain.EngineState
		bridgedOut, bridgedIn string
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&state.Paused, &state.SwapCount, &state.BridgeCount, &state.TradeCount,
		&bridgedOut, &bridgedIn, &state.UpdatedAt,
	)
	if err != nil {
		return domain.EngineState{}, fmt.Errorf("postgres: get engine state: %w", err)
	}

	if state.TotalBridgedOut, err = parseBig(bridgedOut); err != nil {
		return domain.EngineState{}, err
	}
	if state.TotalBridgedIn, err = parseBig(bridgedIn); err != nil {
		return domain.EngineState{}, err
	}
	return state, nil
}

// SetPaused persists the pause switch.
func (s *EngineStateStore) SetPaused(ctx context.Context, paused bool) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE engine_state SET paused = $1, updated_at = NOW() WHERE id = 1", paused)
	if err != nil {
		return fmt.Errorf("postgres: set paused: %w", err)
	}
	return nil
}

func (s *EngineStateStore) increment(ctx context.Context, column string) error {
	query := fmt.Sprintf(
		"UPDATE engine_state SET %s = %s + 1, updated_at = NOW() WHERE id = 1",
		column, column)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: increment %s: %w", column, err)
	}
	return nil
}

// IncrementSwapCount bumps the swap counter by one.
func (s *EngineStateStore) IncrementSwapCount(ctx context.Context) error {
	return s.increment(ctx, "swap_count")
}

// IncrementBridgeCount bumps the bridge counter by one.
func (s *EngineStateStore) IncrementBridgeCount(ctx context.Context) error {
	return s.increment(ctx, "bridge_count")
}

// IncrementTradeCount bumps the trade counter by one.
func (s *EngineStateStore) IncrementTradeCount(ctx context.Context) error {
	return s.increment(ctx, "trade_count")
}

func (s *EngineStateStore) addVolume(ctx context.Context, column string, amount *big.Int) error {
	query := fmt.Sprintf(
		"UPDATE engine_state SET %s = %s + $1::numeric, updated_at = NOW() WHERE id = 1",
		column, column)
	if _, err := s.pool.Exec(ctx, query, amount.String()); err != nil {
		return fmt.Errorf("postgres: add %s: %w", column, err)
	}
	return nil
}

// AddBridgedOut accumulates outbound bridge volume.
func (s *EngineStateStore) AddBridgedOut(ctx context.Context, amount *big.Int) error {
	return s.addVolume(ctx, "total_bridged_out", amount)
}

// AddBridgedIn accumulates inbound bridge volume.
func (s *EngineStateStore) AddBridgedIn(ctx context.Context, amount *big.Int) error {
	return s.addVolume(ctx, "total_bridged_in", amount)
}

var _ domain.EngineStateStore = (*EngineStateStore)(nil)

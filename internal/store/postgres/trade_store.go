package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratvault/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// parseBig converts a NUMERIC column rendered as text back to big.Int.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

const tradeSelectCols = `id, trader, payer, token_in, token_out,
	amount_in::text, strategy, trigger_price::text, is_above_target,
	expires_at, status, created_at, executed_at, cancelled_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t                      domain.Trade
		trader, payer          string
		tokenIn, tokenOut      string
		amountIn, triggerPrice string
		strategy, status       int16
	)
	err := row.Scan(
		&t.ID, &trader, &payer, &tokenIn, &tokenOut,
		&amountIn, &strategy, &triggerPrice, &t.IsAboveTarget,
		&t.ExpiresAt, &status, &t.CreatedAt, &t.ExecutedAt, &t.CancelledAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Trader = common.HexToAddress(trader)
	t.Payer = common.HexToAddress(payer)
	t.TokenIn = common.HexToAddress(tokenIn)
	t.TokenOut = common.HexToAddress(tokenOut)
	t.Strategy = domain.StrategyType(strategy)
	t.Status = domain.TradeStatus(status)

	if t.AmountIn, err = parseBig(amountIn); err != nil {
		return domain.Trade{}, err
	}
	if t.TriggerPrice, err = parseBig(triggerPrice); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade and returns its assigned id.
func (s *TradeStore) Create(ctx context.Context, trade domain.Trade) (int64, error) {
	const query = `
		INSERT INTO trades (
			trader, payer, token_in, token_out, amount_in,
			strategy, trigger_price, is_above_target, expires_at,
			status, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		trade.Trader.Hex(), trade.Payer.Hex(),
		trade.TokenIn.Hex(), trade.TokenOut.Hex(),
		trade.AmountIn.String(),
		int16(trade.Strategy), trade.TriggerPrice.String(),
		trade.IsAboveTarget, trade.ExpiresAt,
		int16(trade.Status), trade.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create trade: %w", err)
	}
	return id, nil
}

// GetByID retrieves a trade by id.
func (s *TradeStore) GetByID(ctx context.Context, id int64) (domain.Trade, error) {
	query := fmt.Sprintf("SELECT %s FROM trades WHERE id = $1", tradeSelectCols)
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %d: %w", id, err)
	}
	return t, nil
}

// ListByTrader returns the trader's trades in insertion order.
func (s *TradeStore) ListByTrader(ctx context.Context, trader common.Address) ([]domain.Trade, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM trades WHERE trader = $1 ORDER BY id", tradeSelectCols)
	rows, err := s.pool.Query(ctx, query, trader.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", trader.Hex(), err)
	}
	return scanTradeRows(rows)
}

// ListPending returns pending trades ordered by id.
func (s *TradeStore) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM trades WHERE status = $1", tradeSelectCols)
	args := []any{int16(domain.TradeStatusPending)}
	argIdx := 2

	if opts.AfterID > 0 {
		query += fmt.Sprintf(" AND id > $%d", argIdx)
		args = append(args, opts.AfterID)
		argIdx++
	}
	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending trades: %w", err)
	}
	return scanTradeRows(rows)
}

// ListTerminalBefore returns executed, cancelled, and expired trades created
// strictly before the cutoff, for archival export.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM trades WHERE status <> $1 AND created_at < $2 ORDER BY id", tradeSelectCols)
	rows, err := s.pool.Query(ctx, query, int16(domain.TradeStatusPending), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal trades: %w", err)
	}
	return scanTradeRows(rows)
}

// TransitionStatus atomically moves a trade between statuses. The status
// predicate in the WHERE clause is the winner-picker: of two racing terminal
// transitions exactly one matches the row.
func (s *TradeStore) TransitionStatus(ctx context.Context, id int64, from, to domain.TradeStatus, at time.Time) error {
	const query = `
		UPDATE trades SET
			status = $3,
			executed_at = CASE WHEN $3 = 1 THEN $4 ELSE NULL END,
			cancelled_at = CASE WHEN $3 IN (2, 3) THEN $4 ELSE NULL END
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, int16(from), int16(to), at)
	if err != nil {
		return fmt.Errorf("postgres: transition trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: transition trade %d: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrNotPending
	}
	return nil
}

var _ domain.TradeStore = (*TradeStore)(nil)

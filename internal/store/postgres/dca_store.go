package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratvault/internal/domain"
)

// DCAPlanStore implements domain.DCAPlanStore using PostgreSQL.
type DCAPlanStore struct {
	pool *pgxpool.Pool
}

// NewDCAPlanStore creates a new DCAPlanStore backed by the given pool.
func NewDCAPlanStore(pool *pgxpool.Pool) *DCAPlanStore {
	return &DCAPlanStore{pool: pool}
}

const planSelectCols = `id, trader, payer, token_in, token_out,
	amount_per_interval::text, interval_seconds, total_intervals,
	executed_intervals, next_execution_at, active, created_at`

func scanPlan(row pgx.Row) (domain.DCAPlan, error) {
	var (
		p                 domain.DCAPlan
		trader, payer     string
		tokenIn, tokenOut string
		amount            string
		intervalSeconds   int64
	)
	err := row.Scan(
		&p.ID, &trader, &payer, &tokenIn, &tokenOut,
		&amount, &intervalSeconds, &p.TotalIntervals,
		&p.ExecutedIntervals, &p.NextExecutionAt, &p.Active, &p.CreatedAt,
	)
	if err != nil {
		return domain.DCAPlan{}, err
	}

	p.Trader = common.HexToAddress(trader)
	p.Payer = common.HexToAddress(payer)
	p.TokenIn = common.HexToAddress(tokenIn)
	p.TokenOut = common.HexToAddress(tokenOut)
	p.Interval = time.Duration(intervalSeconds) * time.Second

	if p.AmountPerInterval, err = parseBig(amount); err != nil {
		return domain.DCAPlan{}, err
	}
	return p, nil
}

func scanPlanRows(rows pgx.Rows) ([]domain.DCAPlan, error) {
	defer rows.Close()
	var plans []domain.DCAPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dca plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Create inserts a plan and returns its assigned id.
func (s *DCAPlanStore) Create(ctx context.Context, plan domain.DCAPlan) (int64, error) {
	const query = `
		INSERT INTO dca_plans (
			trader, payer, token_in, token_out, amount_per_interval,
			interval_seconds, total_intervals, executed_intervals,
			next_execution_at, active, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		plan.Trader.Hex(), plan.Payer.Hex(),
		plan.TokenIn.Hex(), plan.TokenOut.Hex(),
		plan.AmountPerInterval.String(),
		int64(plan.Interval/time.Second),
		plan.TotalIntervals, plan.ExecutedIntervals,
		plan.NextExecutionAt, plan.Active, plan.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create dca plan: %w", err)
	}
	return id, nil
}

// GetByID retrieves a plan by id.
func (s *DCAPlanStore) GetByID(ctx context.Context, id int64) (domain.DCAPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM dca_plans WHERE id = $1", planSelectCols)
	p, err := scanPlan(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DCAPlan{}, domain.ErrNotFound
		}
		return domain.DCAPlan{}, fmt.Errorf("postgres: get dca plan %d: %w", id, err)
	}
	return p, nil
}

// ListByTrader returns the trader's plans in insertion order.
func (s *DCAPlanStore) ListByTrader(ctx context.Context, trader common.Address) ([]domain.DCAPlan, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM dca_plans WHERE trader = $1 ORDER BY id", planSelectCols)
	rows, err := s.pool.Query(ctx, query, trader.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list dca plans for %s: %w", trader.Hex(), err)
	}
	return scanPlanRows(rows)
}

// ListActive returns active plans ordered by next execution time.
func (s *DCAPlanStore) ListActive(ctx context.Context) ([]domain.DCAPlan, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM dca_plans WHERE active ORDER BY next_execution_at", planSelectCols)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active dca plans: %w", err)
	}
	return scanPlanRows(rows)
}

// ListInactiveBefore returns deactivated plans created strictly before the
// cutoff, for archival export.
func (s *DCAPlanStore) ListInactiveBefore(ctx context.Context, before time.Time) ([]domain.DCAPlan, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM dca_plans WHERE NOT active AND created_at < $1 ORDER BY id", planSelectCols)
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list inactive dca plans: %w", err)
	}
	return scanPlanRows(rows)
}

// Deactivate atomically turns an active plan off.
func (s *DCAPlanStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE dca_plans SET active = FALSE WHERE id = $1 AND active", id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate dca plan %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM dca_plans WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: deactivate dca plan %d: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrPlanInactive
	}
	return nil
}

// Reactivate is the compensating operation for Deactivate, used to roll back
// a cancellation whose refund transfer failed.
func (s *DCAPlanStore) Reactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE dca_plans SET active = TRUE WHERE id = $1 AND NOT active", id)
	if err != nil {
		return fmt.Errorf("postgres: reactivate dca plan %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkIntervalExecuted increments the executed counter, advances the next
// execution time, and deactivates the plan when the schedule completes.
func (s *DCAPlanStore) MarkIntervalExecuted(ctx context.Context, id int64, next time.Time) error {
	const query = `
		UPDATE dca_plans SET
			executed_intervals = executed_intervals + 1,
			next_execution_at = $2,
			active = (executed_intervals + 1 < total_intervals)
		WHERE id = $1 AND active AND executed_intervals < total_intervals`

	tag, err := s.pool.Exec(ctx, query, id, next)
	if err != nil {
		return fmt.Errorf("postgres: mark dca interval %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM dca_plans WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: mark dca interval %d: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrPlanInactive
	}
	return nil
}

var _ domain.DCAPlanStore = (*DCAPlanStore)(nil)

// Package keeper drives trigger evaluation. It polls the order book on an
// interval, settles trades whose conditions hold, executes due DCA intervals,
// and expires orders past their deadline. The keeper owns no order state; all
// transitions go through the engine and ledger, so running several keepers
// against the same store is safe.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"stratvault/internal/domain"
	"stratvault/internal/engine"
)

// DefaultInterval is how often the keeper sweeps the order book.
const DefaultInterval = 15 * time.Second

const sweepBatch = 200

// Executor settles triggered orders and due DCA intervals.
type Executor interface {
	ExecuteTriggered(ctx context.Context, id int64) (*big.Int, error)
	ExecuteDCAInterval(ctx context.Context, id int64) (*big.Int, error)
}

// OrderSource reads the pending order book and expires stale orders.
type OrderSource interface {
	ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
	ListActiveDCAPlans(ctx context.Context) ([]domain.DCAPlan, error)
	ExpireTrade(ctx context.Context, id int64) (*big.Int, error)
}

// Keeper is the interval poller.
type Keeper struct {
	executor Executor
	orders   OrderSource
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Keeper. A non-positive interval falls back to DefaultInterval.
func New(executor Executor, orders OrderSource, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Keeper{
		executor: executor,
		orders:   orders,
		interval: interval,
		logger:   logger.With(slog.String("component", "keeper")),
		now:      time.Now,
	}
}

// WithClock overrides the keeper's time source. Test hook.
func (k *Keeper) WithClock(now func() time.Time) *Keeper {
	k.now = now
	return k
}

// Run sweeps immediately, then on every tick until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", k.interval))

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.Sweep(ctx)
		}
	}
}

// SweepResult counts the outcomes of one pass over the order book.
type SweepResult struct {
	Settled   int
	Expired   int
	Intervals int
	Errors    int
}

// Sweep makes one pass: settle what triggers, expire what lapsed, execute
// what is due. Individual order failures are logged and skipped; the sweep
// never aborts early because a paused engine or a stale feed makes every
// order fail the same way, and those errors are expected between sweeps.
func (k *Keeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := k.now().UTC()

	// Keyset cursor: settling a trade removes it from the pending set, so an
	// offset scan would slide later trades past the window.
	var lastID int64
	for {
		trades, err := k.orders.ListPending(ctx, domain.ListOpts{Limit: sweepBatch, AfterID: lastID})
		if err != nil {
			k.logger.ErrorContext(ctx, "pending scan failed", slog.String("error", err.Error()))
			res.Errors++
			break
		}
		for _, trade := range trades {
			k.sweepTrade(ctx, trade, now, &res)
		}
		if len(trades) < sweepBatch {
			break
		}
		lastID = trades[len(trades)-1].ID
	}

	plans, err := k.orders.ListActiveDCAPlans(ctx)
	if err != nil {
		k.logger.ErrorContext(ctx, "dca scan failed", slog.String("error", err.Error()))
		res.Errors++
	} else {
		for _, plan := range plans {
			if !plan.Due(now) {
				continue
			}
			if _, err := k.executor.ExecuteDCAInterval(ctx, plan.ID); err != nil {
				if errors.Is(err, domain.ErrPlanInactive) {
					continue // lost the race to another keeper
				}
				k.logger.WarnContext(ctx, "dca interval failed",
					slog.Int64("plan_id", plan.ID),
					slog.String("error", err.Error()),
				)
				res.Errors++
				continue
			}
			res.Intervals++
		}
	}

	if res.Settled+res.Expired+res.Intervals+res.Errors > 0 {
		k.logger.InfoContext(ctx, "sweep complete",
			slog.Int("settled", res.Settled),
			slog.Int("expired", res.Expired),
			slog.Int("dca_intervals", res.Intervals),
			slog.Int("errors", res.Errors),
		)
	}
	return res
}

func (k *Keeper) sweepTrade(ctx context.Context, trade domain.Trade, now time.Time, res *SweepResult) {
	if trade.ExpiredAt(now) {
		if _, err := k.orders.ExpireTrade(ctx, trade.ID); err != nil {
			if errors.Is(err, domain.ErrNotPending) {
				return // already resolved elsewhere
			}
			k.logger.WarnContext(ctx, "expire failed",
				slog.Int64("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
			res.Errors++
			return
		}
		res.Expired++
		return
	}

	_, err := k.executor.ExecuteTriggered(ctx, trade.ID)
	switch {
	case err == nil:
		res.Settled++
	case errors.Is(err, engine.ErrNotTriggered),
		errors.Is(err, domain.ErrNotPending):
		// Condition not met, or another keeper got there first.
	case errors.Is(err, domain.ErrEnginePaused):
		// Expected while paused; the sweep keeps scanning for expiries.
	default:
		k.logger.WarnContext(ctx, "settle failed",
			slog.Int64("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
		res.Errors++
	}
}

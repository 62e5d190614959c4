package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// CreateDCAPlanRequest carries the inputs for one dollar-cost-average plan.
type CreateDCAPlanRequest struct {
	Trader            common.Address
	Payer             common.Address
	TokenIn           common.Address
	TokenOut          common.Address
	AmountPerInterval *big.Int
	Interval          time.Duration
	TotalIntervals    int32
}

func (r CreateDCAPlanRequest) validate() error {
	if r.TokenIn == domain.ZeroAddress || r.TokenOut == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	if r.AmountPerInterval == nil || r.AmountPerInterval.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if r.Interval <= 0 || r.TotalIntervals <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// CreateDCAPlan escrows AmountPerInterval*TotalIntervals up front and records
// the plan. Escrowing the full amount at creation prevents later intervals
// from being under-funded.
func (l *Ledger) CreateDCAPlan(ctx context.Context, req CreateDCAPlanRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	total := new(big.Int).Mul(req.AmountPerInterval, big.NewInt(int64(req.TotalIntervals)))
	if err := l.pullEscrow(ctx, req.TokenIn, req.Payer, total); err != nil {
		return 0, err
	}

	now := l.now().UTC()
	plan := domain.DCAPlan{
		Trader:            req.Trader,
		Payer:             req.Payer,
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountPerInterval: new(big.Int).Set(req.AmountPerInterval),
		Interval:          req.Interval,
		TotalIntervals:    req.TotalIntervals,
		NextExecutionAt:   now.Add(req.Interval),
		Active:            true,
		CreatedAt:         now,
	}

	id, err := l.plans.Create(ctx, plan)
	if err != nil {
		l.refund(ctx, req.TokenIn, req.Payer, total, "dca_create_rollback", map[string]any{
			"trader": req.Trader.Hex(),
		})
		return 0, fmt.Errorf("ledger: create dca plan: %w", err)
	}

	l.publish(ctx, "trades", map[string]any{
		"event":   "dca_plan_created",
		"plan_id": id,
		"trader":  req.Trader.Hex(),
	})
	l.auditLog(ctx, "dca_plan_created", map[string]any{
		"plan_id":             id,
		"trader":              req.Trader.Hex(),
		"payer":               req.Payer.Hex(),
		"token_in":            req.TokenIn.Hex(),
		"token_out":           req.TokenOut.Hex(),
		"amount_per_interval": req.AmountPerInterval.String(),
		"total_intervals":     req.TotalIntervals,
		"escrow":              total.String(),
	})

	l.logger.InfoContext(ctx, "dca plan created",
		slog.Int64("plan_id", id),
		slog.String("trader", req.Trader.Hex()),
		slog.String("escrow", total.String()),
	)
	return id, nil
}

// CancelDCAPlan deactivates the plan and refunds the unexecuted remainder,
// AmountPerInterval * (TotalIntervals - ExecutedIntervals), to the trader.
// It returns the refunded amount.
func (l *Ledger) CancelDCAPlan(ctx context.Context, caller common.Address, id int64) (*big.Int, error) {
	unlock, err := l.locks.Acquire(ctx, PlanLockKey(id), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel dca plan %d: %w", id, err)
	}
	defer unlock()

	plan, err := l.plans.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel dca plan %d: %w", id, err)
	}
	if plan.Trader != caller {
		return nil, domain.ErrNotTradeOwner
	}

	if err := l.plans.Deactivate(ctx, id); err != nil {
		return nil, fmt.Errorf("ledger: cancel dca plan %d: %w", id, err)
	}

	refund := plan.RemainingEscrow()
	if refund.Sign() > 0 {
		if err := l.tokens.Transfer(ctx, plan.TokenIn, plan.Trader, refund); err != nil {
			if rbErr := l.plans.Reactivate(ctx, id); rbErr != nil {
				l.logger.ErrorContext(ctx, "dca cancel rollback failed",
					slog.Int64("plan_id", id),
					slog.String("error", rbErr.Error()),
				)
			}
			return nil, fmt.Errorf("ledger: refund dca plan %d: %w", id, err)
		}
	}

	l.publish(ctx, "trades", map[string]any{
		"event":   "dca_plan_cancelled",
		"plan_id": id,
		"trader":  plan.Trader.Hex(),
	})
	l.auditLog(ctx, "dca_plan_cancelled", map[string]any{
		"plan_id": id,
		"refund":  refund.String(),
	})

	l.logger.InfoContext(ctx, "dca plan cancelled",
		slog.Int64("plan_id", id),
		slog.String("refund", refund.String()),
	)
	return refund, nil
}

// MarkDCAIntervalExecuted records one executed interval against an active,
// due plan. Engine-only bookkeeping, invoked after the interval's swap has
// settled; the caller holds the per-plan lock.
func (l *Ledger) MarkDCAIntervalExecuted(ctx context.Context, id int64) error {
	plan, err := l.plans.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: mark dca interval %d: %w", id, err)
	}
	now := l.now().UTC()
	if !plan.Due(now) {
		return domain.ErrPlanInactive
	}

	if err := l.plans.MarkIntervalExecuted(ctx, id, now.Add(plan.Interval)); err != nil {
		return fmt.Errorf("ledger: mark dca interval %d: %w", id, err)
	}

	l.publish(ctx, "trades", map[string]any{
		"event":    "dca_interval_executed",
		"plan_id":  id,
		"interval": plan.ExecutedIntervals + 1,
	})
	l.auditLog(ctx, "dca_interval_executed", map[string]any{
		"plan_id": id,
		"amount":  plan.AmountPerInterval.String(),
	})
	return nil
}

// GetDCAPlan retrieves a single plan by id.
func (l *Ledger) GetDCAPlan(ctx context.Context, id int64) (domain.DCAPlan, error) {
	plan, err := l.plans.GetByID(ctx, id)
	if err != nil {
		return domain.DCAPlan{}, fmt.Errorf("ledger: get dca plan %d: %w", id, err)
	}
	return plan, nil
}

// GetUserDCAPlans returns the trader's plans in insertion order.
func (l *Ledger) GetUserDCAPlans(ctx context.Context, trader common.Address) ([]domain.DCAPlan, error) {
	plans, err := l.plans.ListByTrader(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("ledger: list dca plans for %s: %w", trader.Hex(), err)
	}
	return plans, nil
}

// ListActiveDCAPlans returns the active plans for interval scheduling.
func (l *Ledger) ListActiveDCAPlans(ctx context.Context) ([]domain.DCAPlan, error) {
	plans, err := l.plans.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list active dca plans: %w", err)
	}
	return plans, nil
}

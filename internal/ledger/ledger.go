// Package ledger implements the strategy ledger: it persists conditional
// orders and DCA plans, holds the token escrow, and enforces ownership and
// status transitions. Trigger evaluation is driven externally; the ledger
// holds no polling loop.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// lockTTL bounds how long a per-order lock may be held if a holder dies
// before releasing it.
const lockTTL = 30 * time.Second

// Ledger owns the order book. Escrowed funds live under the custody address;
// every mutation is audited and published on the signal bus.
type Ledger struct {
	trades  domain.TradeStore
	plans   domain.DCAPlanStore
	tokens  domain.TokenProtocol
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	custody common.Address
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Ledger. custody is the address escrowed funds are pulled into
// and settled or refunded from.
func New(
	trades domain.TradeStore,
	plans domain.DCAPlanStore,
	tokens domain.TokenProtocol,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	custody common.Address,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		trades:  trades,
		plans:   plans,
		tokens:  tokens,
		locks:   locks,
		bus:     bus,
		audit:   audit,
		custody: custody,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
}

// WithClock overrides the ledger's time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CreateTradeRequest carries the inputs for one conditional order. Payer is
// the identity whose funds are pulled; Trader may cancel and receives refunds.
type CreateTradeRequest struct {
	Trader       common.Address
	Payer        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	TriggerPrice *big.Int // fixed-point, domain.PriceDecimals scale
	ExpiresIn    time.Duration
}

func (r CreateTradeRequest) validate() error {
	if r.TokenIn == domain.ZeroAddress || r.TokenOut == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	if r.AmountIn == nil || r.AmountIn.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if r.TriggerPrice == nil || r.TriggerPrice.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if r.ExpiresIn <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// CreateStopLoss escrows AmountIn and records a stop-loss order: it triggers
// when the observed price falls to or below TriggerPrice.
func (l *Ledger) CreateStopLoss(ctx context.Context, req CreateTradeRequest) (int64, error) {
	return l.createTrade(ctx, req, domain.StrategyStopLoss, false)
}

// CreateTakeProfit escrows AmountIn and records a take-profit order: it
// triggers when the observed price rises to or above TriggerPrice.
func (l *Ledger) CreateTakeProfit(ctx context.Context, req CreateTradeRequest) (int64, error) {
	return l.createTrade(ctx, req, domain.StrategyTakeProfit, true)
}

// CreateLimitOrder escrows AmountIn and records a limit order. Buy orders
// trigger at or above the limit price, sell orders at or below.
func (l *Ledger) CreateLimitOrder(ctx context.Context, req CreateTradeRequest, isBuyOrder bool) (int64, error) {
	return l.createTrade(ctx, req, domain.StrategyLimitOrder, isBuyOrder)
}

func (l *Ledger) createTrade(ctx context.Context, req CreateTradeRequest, strategy domain.StrategyType, isAboveTarget bool) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	// Pull the escrow. The allowance check front-runs the transfer so the
	// caller gets the specific failure rather than a generic revert.
	if err := l.pullEscrow(ctx, req.TokenIn, req.Payer, req.AmountIn); err != nil {
		return 0, err
	}

	now := l.now().UTC()
	trade := domain.Trade{
		Trader:        req.Trader,
		Payer:         req.Payer,
		TokenIn:       req.TokenIn,
		TokenOut:      req.TokenOut,
		AmountIn:      new(big.Int).Set(req.AmountIn),
		Strategy:      strategy,
		TriggerPrice:  new(big.Int).Set(req.TriggerPrice),
		IsAboveTarget: isAboveTarget,
		ExpiresAt:     now.Add(req.ExpiresIn),
		Status:        domain.TradeStatusPending,
		CreatedAt:     now,
	}

	id, err := l.trades.Create(ctx, trade)
	if err != nil {
		// The escrow was pulled but no order exists; reverse the pull so
		// funds are never debited without a recorded order.
		l.refund(ctx, req.TokenIn, req.Payer, req.AmountIn, "trade_create_rollback", map[string]any{
			"trader": req.Trader.Hex(),
		})
		return 0, fmt.Errorf("ledger: create %s trade: %w", strategy, err)
	}

	l.publish(ctx, "trades", map[string]any{
		"event":    "trade_created",
		"trade_id": id,
		"trader":   req.Trader.Hex(),
		"strategy": strategy.String(),
	})
	l.auditLog(ctx, "trade_created", map[string]any{
		"trade_id":      id,
		"trader":        req.Trader.Hex(),
		"payer":         req.Payer.Hex(),
		"token_in":      req.TokenIn.Hex(),
		"token_out":     req.TokenOut.Hex(),
		"amount_in":     req.AmountIn.String(),
		"trigger_price": req.TriggerPrice.String(),
		"strategy":      strategy.String(),
	})

	l.logger.InfoContext(ctx, "trade created",
		slog.Int64("trade_id", id),
		slog.String("trader", req.Trader.Hex()),
		slog.String("strategy", strategy.String()),
	)
	return id, nil
}

// CancelTrade refunds the escrowed amount to the trade's trader and marks the
// trade Cancelled. Only the owning trader may cancel, and only while Pending.
// It returns the refunded amount, which always equals the original escrow.
func (l *Ledger) CancelTrade(ctx context.Context, caller common.Address, id int64) (*big.Int, error) {
	unlock, err := l.locks.Acquire(ctx, TradeLockKey(id), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel trade %d: %w", id, err)
	}
	defer unlock()

	trade, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel trade %d: %w", id, err)
	}
	if trade.Trader != caller {
		return nil, domain.ErrNotTradeOwner
	}
	if trade.Status != domain.TradeStatusPending {
		return nil, domain.ErrNotPending
	}

	now := l.now().UTC()
	if err := l.trades.TransitionStatus(ctx, id, domain.TradeStatusPending, domain.TradeStatusCancelled, now); err != nil {
		return nil, fmt.Errorf("ledger: cancel trade %d: %w", id, err)
	}

	if err := l.tokens.Transfer(ctx, trade.TokenIn, trade.Trader, trade.AmountIn); err != nil {
		// Undo the transition so the escrow is never marked refunded
		// without the matching fund movement having committed.
		if rbErr := l.trades.TransitionStatus(ctx, id, domain.TradeStatusCancelled, domain.TradeStatusPending, now); rbErr != nil {
			l.logger.ErrorContext(ctx, "cancel rollback failed",
				slog.Int64("trade_id", id),
				slog.String("error", rbErr.Error()),
			)
		}
		return nil, fmt.Errorf("ledger: refund trade %d: %w", id, err)
	}

	l.publish(ctx, "trades", map[string]any{
		"event":    "trade_cancelled",
		"trade_id": id,
		"trader":   trade.Trader.Hex(),
	})
	l.auditLog(ctx, "trade_cancelled", map[string]any{
		"trade_id": id,
		"trader":   trade.Trader.Hex(),
		"refund":   trade.AmountIn.String(),
	})

	l.logger.InfoContext(ctx, "trade cancelled",
		slog.Int64("trade_id", id),
		slog.String("refund", trade.AmountIn.String()),
	)
	return new(big.Int).Set(trade.AmountIn), nil
}

// SettlementResult describes the already-performed settlement the caller is
// recording against a trade.
type SettlementResult struct {
	AmountOut *big.Int
	TxRef     string
}

// ExecuteTrade transitions a pending, unexpired trade to Executed. It is
// engine-only bookkeeping: the orchestrator has already moved the escrowed
// funds through the swap gateway before calling, and it holds the per-trade
// lock for the duration, so this transition never re-acquires it.
func (l *Ledger) ExecuteTrade(ctx context.Context, id int64, settlement SettlementResult) error {
	trade, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: execute trade %d: %w", id, err)
	}
	if trade.Status != domain.TradeStatusPending {
		return domain.ErrNotPending
	}
	now := l.now().UTC()
	if !now.Before(trade.ExpiresAt) {
		return domain.ErrTradeExpired
	}

	if err := l.trades.TransitionStatus(ctx, id, domain.TradeStatusPending, domain.TradeStatusExecuted, now); err != nil {
		return fmt.Errorf("ledger: execute trade %d: %w", id, err)
	}

	detail := map[string]any{
		"trade_id": id,
		"trader":   trade.Trader.Hex(),
	}
	if settlement.AmountOut != nil {
		detail["amount_out"] = settlement.AmountOut.String()
	}
	if settlement.TxRef != "" {
		detail["tx_ref"] = settlement.TxRef
	}

	l.publish(ctx, "trades", map[string]any{
		"event":    "trade_executed",
		"trade_id": id,
		"trader":   trade.Trader.Hex(),
		"strategy": trade.Strategy.String(),
	})
	l.auditLog(ctx, "trade_executed", detail)

	l.logger.InfoContext(ctx, "trade executed", slog.Int64("trade_id", id))
	return nil
}

// ExpireTrade marks a pending trade past its expiry as Expired and refunds
// the escrow to the trader. Keeper housekeeping; safe to call on any id.
func (l *Ledger) ExpireTrade(ctx context.Context, id int64) (*big.Int, error) {
	unlock, err := l.locks.Acquire(ctx, TradeLockKey(id), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: expire trade %d: %w", id, err)
	}
	defer unlock()

	trade, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: expire trade %d: %w", id, err)
	}
	now := l.now().UTC()
	if !trade.ExpiredAt(now) {
		return nil, domain.ErrNotPending
	}

	if err := l.trades.TransitionStatus(ctx, id, domain.TradeStatusPending, domain.TradeStatusExpired, now); err != nil {
		return nil, fmt.Errorf("ledger: expire trade %d: %w", id, err)
	}

	if err := l.tokens.Transfer(ctx, trade.TokenIn, trade.Trader, trade.AmountIn); err != nil {
		if rbErr := l.trades.TransitionStatus(ctx, id, domain.TradeStatusExpired, domain.TradeStatusPending, now); rbErr != nil {
			l.logger.ErrorContext(ctx, "expire rollback failed",
				slog.Int64("trade_id", id),
				slog.String("error", rbErr.Error()),
			)
		}
		return nil, fmt.Errorf("ledger: expire refund trade %d: %w", id, err)
	}

	l.publish(ctx, "trades", map[string]any{
		"event":    "trade_expired",
		"trade_id": id,
		"trader":   trade.Trader.Hex(),
	})
	l.auditLog(ctx, "trade_expired", map[string]any{
		"trade_id": id,
		"refund":   trade.AmountIn.String(),
	})
	return new(big.Int).Set(trade.AmountIn), nil
}

// GetTrade retrieves a single trade by id.
func (l *Ledger) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	trade, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("ledger: get trade %d: %w", id, err)
	}
	return trade, nil
}

// GetUserTrades returns the trader's trades in insertion order.
func (l *Ledger) GetUserTrades(ctx context.Context, trader common.Address) ([]domain.Trade, error) {
	trades, err := l.trades.ListByTrader(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("ledger: list trades for %s: %w", trader.Hex(), err)
	}
	return trades, nil
}

// ListPending returns pending trades for trigger evaluation.
func (l *Ledger) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := l.trades.ListPending(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending trades: %w", err)
	}
	return trades, nil
}

// pullEscrow moves amount of token from payer into custody, surfacing
// ErrInsufficientAllowance when the payer has not pre-authorized the pull.
func (l *Ledger) pullEscrow(ctx context.Context, token, payer common.Address, amount *big.Int) error {
	allowance, err := l.tokens.Allowance(ctx, token, payer, l.custody)
	if err != nil {
		return fmt.Errorf("ledger: read allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance
	}
	if err := l.tokens.TransferFrom(ctx, token, payer, l.custody, amount); err != nil {
		return fmt.Errorf("ledger: pull escrow: %w", err)
	}
	return nil
}

// refund performs a best-effort compensating transfer and records it.
func (l *Ledger) refund(ctx context.Context, token, to common.Address, amount *big.Int, event string, detail map[string]any) {
	if err := l.tokens.Transfer(ctx, token, to, amount); err != nil {
		l.logger.ErrorContext(ctx, "compensating refund failed",
			slog.String("event", event),
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	detail["amount"] = amount.String()
	l.auditLog(ctx, event, detail)
}

func (l *Ledger) publish(ctx context.Context, channel string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	if err := l.bus.Publish(ctx, channel, data); err != nil {
		l.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// TradeLockKey is the lock key serializing operations on one trade. The
// orchestrator acquires it before settling a triggered order.
func TradeLockKey(id int64) string {
	return fmt.Sprintf("trade:%d", id)
}

// PlanLockKey is the lock key serializing operations on one DCA plan.
func PlanLockKey(id int64) string {
	return fmt.Sprintf("dca:%d", id)
}

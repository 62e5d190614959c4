// Package engine implements the orchestrator: the single entry point that
// coordinates the strategy ledger, swap gateway, and bridge gateway. It holds
// the pause switch, the aggregate counters, and the module indirection that
// lets a gateway be replaced without touching ledger state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
	"stratvault/internal/gateway"
	"stratvault/internal/ledger"
)

// ErrAlreadyInitialized is returned by InitializeModules after the first
// successful call; modules are replaced through the Update setters thereafter.
var ErrAlreadyInitialized = errors.New("engine: modules already initialized")

// ErrNotTriggered is returned when a trade's trigger condition does not hold
// at the current price. Not a failure; the keeper simply retries later.
var ErrNotTriggered = errors.New("engine: trigger condition not met")

const lockTTL = 30 * time.Second

// SwapModule is the swap settlement surface the engine depends on.
type SwapModule interface {
	SwapExactInputSingle(ctx context.Context, req gateway.SwapRequest) (*big.Int, error)
	CalculateMinOutput(expected *big.Int) *big.Int
}

// BridgeModule is the cross-chain settlement surface the engine depends on.
type BridgeModule interface {
	BridgeTokens(ctx context.Context, req gateway.BridgeRequest) (string, error)
	GetBridgeFeeEstimate(ctx context.Context, req gateway.BridgeRequest) (*big.Int, error)
}

// LedgerModule is the order-book surface the engine depends on.
type LedgerModule interface {
	CreateStopLoss(ctx context.Context, req ledger.CreateTradeRequest) (int64, error)
	CreateTakeProfit(ctx context.Context, req ledger.CreateTradeRequest) (int64, error)
	CreateLimitOrder(ctx context.Context, req ledger.CreateTradeRequest, isBuyOrder bool) (int64, error)
	CreateDCAPlan(ctx context.Context, req ledger.CreateDCAPlanRequest) (int64, error)
	ExecuteTrade(ctx context.Context, id int64, settlement ledger.SettlementResult) error
	MarkDCAIntervalExecuted(ctx context.Context, id int64) error
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
	GetDCAPlan(ctx context.Context, id int64) (domain.DCAPlan, error)
}

// PriceModule is the price-read surface the engine depends on.
type PriceModule interface {
	GetLatestPrice(ctx context.Context, symbol string) (domain.PriceQuote, error)
}

// Engine coordinates the modules. All fund-moving entry points pass the pause
// gate first; administrative entry points are exempt so a paused engine can
// still be reconfigured and unpaused.
type Engine struct {
	state   domain.EngineStateStore
	prices  PriceModule
	locks   domain.LockManager
	custody common.Address
	owner   common.Address
	symbols map[common.Address]string // token -> feed symbol
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.RWMutex
	swap        SwapModule
	bridge      BridgeModule
	ledger      LedgerModule
	initialized bool
}

// New creates an Engine without modules; call InitializeModules before use.
// symbols maps input tokens to the feed symbols their triggers are evaluated
// against.
func New(
	state domain.EngineStateStore,
	prices PriceModule,
	locks domain.LockManager,
	custody common.Address,
	owner common.Address,
	symbols map[common.Address]string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		state:   state,
		prices:  prices,
		locks:   locks,
		custody: custody,
		owner:   owner,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "engine")),
		now:     time.Now,
	}
}

// WithClock overrides the engine's time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// InitializeModules wires the three modules. One-time; later replacement goes
// through the Update setters so each module swap is individually audited.
func (e *Engine) InitializeModules(swap SwapModule, bridge BridgeModule, ldg LedgerModule) error {
	if swap == nil || bridge == nil || ldg == nil {
		return domain.ErrInvalidModule
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return ErrAlreadyInitialized
	}
	e.swap, e.bridge, e.ledger = swap, bridge, ldg
	e.initialized = true
	return nil
}

// UpdateSwapGateway replaces the swap module. Owner only. In-flight pending
// trades reference ledger state, not the gateway, so the swap is safe
// mid-flight.
func (e *Engine) UpdateSwapGateway(ctx context.Context, caller common.Address, swap SwapModule) error {
	if caller != e.owner {
		return domain.ErrOwnerOnly
	}
	if swap == nil {
		return domain.ErrInvalidModule
	}
	e.mu.Lock()
	e.swap = swap
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "swap gateway replaced")
	return nil
}

// UpdateBridgeGateway replaces the bridge module. Owner only.
func (e *Engine) UpdateBridgeGateway(ctx context.Context, caller common.Address, bridge BridgeModule) error {
	if caller != e.owner {
		return domain.ErrOwnerOnly
	}
	if bridge == nil {
		return domain.ErrInvalidModule
	}
	e.mu.Lock()
	e.bridge = bridge
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "bridge gateway replaced")
	return nil
}

// UpdateLedger replaces the ledger module. Owner only.
func (e *Engine) UpdateLedger(ctx context.Context, caller common.Address, ldg LedgerModule) error {
	if caller != e.owner {
		return domain.ErrOwnerOnly
	}
	if ldg == nil {
		return domain.ErrInvalidModule
	}
	e.mu.Lock()
	e.ledger = ldg
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "ledger replaced")
	return nil
}

func (e *Engine) modules() (SwapModule, BridgeModule, LedgerModule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, nil, nil, domain.ErrInvalidModule
	}
	return e.swap, e.bridge, e.ledger, nil
}

// SetPaused toggles the pause switch. Owner only; exempt from the pause gate
// so a paused engine can be unpaused.
func (e *Engine) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	if caller != e.owner {
		return domain.ErrOwnerOnly
	}
	if err := e.state.SetPaused(ctx, paused); err != nil {
		return fmt.Errorf("engine: set paused: %w", err)
	}
	e.logger.InfoContext(ctx, "pause switch toggled", slog.Bool("paused", paused))
	return nil
}

// GetStatistics returns the aggregate counters and the pause flag.
func (e *Engine) GetStatistics(ctx context.Context) (domain.EngineStats, error) {
	state, err := e.state.Get(ctx)
	if err != nil {
		return domain.EngineStats{}, fmt.Errorf("engine: statistics: %w", err)
	}
	return state.EngineStats, nil
}

func (e *Engine) checkNotPaused(ctx context.Context) error {
	state, err := e.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("engine: pause check: %w", err)
	}
	if state.Paused {
		return domain.ErrEnginePaused
	}
	return nil
}

// ExecuteSwap performs an immediate swap on the caller's behalf, pulling the
// input from the caller. Increments the swap counter exactly once on success.
func (e *Engine) ExecuteSwap(ctx context.Context, caller common.Address, req gateway.SwapRequest) (*big.Int, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return nil, err
	}
	swap, _, _, err := e.modules()
	if err != nil {
		return nil, err
	}

	req.Payer = caller
	if req.Recipient == domain.ZeroAddress {
		req.Recipient = caller
	}
	amountOut, err := swap.SwapExactInputSingle(ctx, req)
	if err != nil {
		return nil, err
	}
	e.bumpCounter(ctx, e.state.IncrementSwapCount, "swap_count")
	return amountOut, nil
}

// CreateStopLossOrder registers a stop-loss order for the caller. The caller
// is both payer and trader of record; the engine never takes ownership of the
// order. Increments the trade counter exactly once on success.
func (e *Engine) CreateStopLossOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error) {
	return e.createOrder(ctx, caller, req, func(ctx context.Context, ldg LedgerModule, req ledger.CreateTradeRequest) (int64, error) {
		return ldg.CreateStopLoss(ctx, req)
	})
}

// CreateTakeProfitOrder registers a take-profit order for the caller.
func (e *Engine) CreateTakeProfitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error) {
	return e.createOrder(ctx, caller, req, func(ctx context.Context, ldg LedgerModule, req ledger.CreateTradeRequest) (int64, error) {
		return ldg.CreateTakeProfit(ctx, req)
	})
}

// CreateLimitOrder registers a limit order for the caller.
func (e *Engine) CreateLimitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest, isBuyOrder bool) (int64, error) {
	return e.createOrder(ctx, caller, req, func(ctx context.Context, ldg LedgerModule, req ledger.CreateTradeRequest) (int64, error) {
		return ldg.CreateLimitOrder(ctx, req, isBuyOrder)
	})
}

func (e *Engine) createOrder(
	ctx context.Context,
	caller common.Address,
	req ledger.CreateTradeRequest,
	create func(context.Context, LedgerModule, ledger.CreateTradeRequest) (int64, error),
) (int64, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return 0, err
	}
	_, _, ldg, err := e.modules()
	if err != nil {
		return 0, err
	}

	req.Trader = caller
	req.Payer = caller
	id, err := create(ctx, ldg, req)
	if err != nil {
		return 0, err
	}
	e.bumpCounter(ctx, e.state.IncrementTradeCount, "trade_count")
	return id, nil
}

// CreateDCAPlan registers a DCA plan for the caller, escrowing the full
// schedule up front.
func (e *Engine) CreateDCAPlan(ctx context.Context, caller common.Address, req ledger.CreateDCAPlanRequest) (int64, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return 0, err
	}
	_, _, ldg, err := e.modules()
	if err != nil {
		return 0, err
	}

	req.Trader = caller
	req.Payer = caller
	id, err := ldg.CreateDCAPlan(ctx, req)
	if err != nil {
		return 0, err
	}
	e.bumpCounter(ctx, e.state.IncrementTradeCount, "trade_count")
	return id, nil
}

// BridgeToChain bridges tokens to a supported destination chain on the
// caller's behalf. Increments the bridge counter exactly once on success.
func (e *Engine) BridgeToChain(ctx context.Context, caller common.Address, req gateway.BridgeRequest) (string, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return "", err
	}
	_, bridge, _, err := e.modules()
	if err != nil {
		return "", err
	}

	req.Payer = caller
	messageID, err := bridge.BridgeTokens(ctx, req)
	if err != nil {
		return "", err
	}
	e.bumpCounter(ctx, e.state.IncrementBridgeCount, "bridge_count")
	return messageID, nil
}

// ExecuteTriggered settles one pending trade whose trigger condition holds at
// the current feed price. It swaps the escrowed input through the swap
// gateway with the trader as recipient, then records the execution against
// the ledger. The per-trade lock is held across the whole settlement; a
// concurrent cancel either wins outright or observes the executed state.
func (e *Engine) ExecuteTriggered(ctx context.Context, id int64) (*big.Int, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return nil, err
	}
	swap, _, ldg, err := e.modules()
	if err != nil {
		return nil, err
	}

	unlock, err := e.locks.Acquire(ctx, ledger.TradeLockKey(id), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("engine: execute triggered %d: %w", id, err)
	}
	defer unlock()

	trade, err := ldg.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if trade.Status != domain.TradeStatusPending {
		return nil, domain.ErrNotPending
	}
	now := e.now().UTC()
	if trade.ExpiredAt(now) {
		return nil, domain.ErrTradeExpired
	}

	symbol, ok := e.symbols[trade.TokenIn]
	if !ok {
		return nil, fmt.Errorf("engine: no feed symbol for token %s: %w",
			trade.TokenIn.Hex(), domain.ErrPriceFeedNotFound)
	}
	quote, err := e.prices.GetLatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	// Trigger prices live at PriceDecimals scale; sources report at their own.
	feedPrice := quote.AtPriceScale()
	if !trade.Triggerable(feedPrice, now) {
		return nil, ErrNotTriggered
	}

	// Escrowed input, output straight to the trader.
	amountOut, err := swap.SwapExactInputSingle(ctx, gateway.SwapRequest{
		Payer:     e.custody,
		TokenIn:   trade.TokenIn,
		TokenOut:  trade.TokenOut,
		AmountIn:  trade.AmountIn,
		Recipient: trade.Trader,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: settle trade %d: %w", id, err)
	}

	if err := ldg.ExecuteTrade(ctx, id, ledger.SettlementResult{AmountOut: amountOut}); err != nil {
		// The swap settled but the transition failed; surface loudly, the
		// audit trail carries the settlement for reconciliation.
		e.logger.ErrorContext(ctx, "settled trade failed to transition",
			slog.Int64("trade_id", id),
			slog.String("amount_out", amountOut.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("engine: record execution %d: %w", id, err)
	}

	e.bumpCounter(ctx, e.state.IncrementSwapCount, "swap_count")
	e.logger.InfoContext(ctx, "triggered trade settled",
		slog.Int64("trade_id", id),
		slog.String("trigger_price", trade.TriggerPrice.String()),
		slog.String("feed_price", feedPrice.String()),
		slog.String("amount_out", amountOut.String()),
	)
	return amountOut, nil
}

// ExecuteDCAInterval settles one due interval of an active plan: swaps
// amountPerInterval of escrowed input to the trader, then records the
// interval. The per-plan lock is held across the settlement.
func (e *Engine) ExecuteDCAInterval(ctx context.Context, id int64) (*big.Int, error) {
	if err := e.checkNotPaused(ctx); err != nil {
		return nil, err
	}
	swap, _, ldg, err := e.modules()
	if err != nil {
		return nil, err
	}

	unlock, err := e.locks.Acquire(ctx, ledger.PlanLockKey(id), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("engine: execute dca interval %d: %w", id, err)
	}
	defer unlock()

	plan, err := ldg.GetDCAPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.Due(e.now().UTC()) {
		return nil, domain.ErrPlanInactive
	}

	amountOut, err := swap.SwapExactInputSingle(ctx, gateway.SwapRequest{
		Payer:     e.custody,
		TokenIn:   plan.TokenIn,
		TokenOut:  plan.TokenOut,
		AmountIn:  plan.AmountPerInterval,
		Recipient: plan.Trader,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: settle dca interval %d: %w", id, err)
	}

	if err := ldg.MarkDCAIntervalExecuted(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "settled dca interval failed to record",
			slog.Int64("plan_id", id),
			slog.String("amount_out", amountOut.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("engine: record dca interval %d: %w", id, err)
	}

	e.bumpCounter(ctx, e.state.IncrementSwapCount, "swap_count")
	return amountOut, nil
}

func (e *Engine) bumpCounter(ctx context.Context, inc func(context.Context) error, name string) {
	if err := inc(ctx); err != nil {
		e.logger.WarnContext(ctx, "counter update failed",
			slog.String("counter", name),
			slog.String("error", err.Error()),
		)
	}
}

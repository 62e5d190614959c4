// Package gateway wraps the external settlement protocols. The swap gateway
// enforces a slippage bound on every exact-input swap; the bridge gateway
// tracks supported destination chains and trusted remote senders.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

const (
	// DefaultSlippageBps is the initial slippage tolerance, 0.5%.
	DefaultSlippageBps = 50
	// MaxSlippageBps is the hard ceiling an administrator may configure, 10%.
	MaxSlippageBps = 1000

	bpsDenominator = 10000

	swapDeadline = 5 * time.Minute
)

// SwapGateway executes exact-input swaps through an external protocol. Input
// funds are pulled into the custody address, swapped, and the output forwarded
// to the requested recipient.
type SwapGateway struct {
	swaps   domain.SwapProtocol
	tokens  domain.TokenProtocol
	bus     domain.SignalBus
	audit   domain.AuditStore
	custody common.Address
	owner   common.Address
	logger  *slog.Logger

	mu          sync.RWMutex
	slippageBps uint32
}

// NewSwapGateway creates a SwapGateway with the default slippage tolerance.
// owner is the only identity allowed to change configuration or rescue funds.
func NewSwapGateway(
	swaps domain.SwapProtocol,
	tokens domain.TokenProtocol,
	bus domain.SignalBus,
	audit domain.AuditStore,
	custody common.Address,
	owner common.Address,
	logger *slog.Logger,
) *SwapGateway {
	return &SwapGateway{
		swaps:       swaps,
		tokens:      tokens,
		bus:         bus,
		audit:       audit,
		custody:     custody,
		owner:       owner,
		logger:      logger.With(slog.String("component", "swap_gateway")),
		slippageBps: DefaultSlippageBps,
	}
}

// SlippageTolerance returns the current tolerance in basis points.
func (g *SwapGateway) SlippageTolerance() uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.slippageBps
}

// SetSlippageTolerance updates the tolerance. Owner only; capped at
// MaxSlippageBps.
func (g *SwapGateway) SetSlippageTolerance(ctx context.Context, caller common.Address, bps uint32) error {
	if caller != g.owner {
		return domain.ErrOwnerOnly
	}
	if bps > MaxSlippageBps {
		return domain.ErrSlippageTooHigh
	}
	g.mu.Lock()
	g.slippageBps = bps
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "slippage tolerance updated", slog.Uint64("bps", uint64(bps)))
	if err := g.audit.Log(ctx, "slippage_tolerance_set", map[string]any{"bps": bps}); err != nil {
		g.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
	return nil
}

// CalculateMinOutput applies the configured tolerance to an expected output:
// expected - expected*bps/10000. Rounds in the caller's favor (floor of the
// deduction).
func (g *SwapGateway) CalculateMinOutput(expected *big.Int) *big.Int {
	return minOutput(expected, g.SlippageTolerance())
}

func minOutput(expected *big.Int, bps uint32) *big.Int {
	cut := new(big.Int).Mul(expected, big.NewInt(int64(bps)))
	cut.Div(cut, big.NewInt(bpsDenominator))
	return new(big.Int).Sub(expected, cut)
}

// SwapRequest carries the inputs for one exact-input swap. If Payer equals the
// custody address the input is treated as already escrowed and no pull is
// performed; that is the path the orchestrator takes when settling a triggered
// order.
type SwapRequest struct {
	Payer        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int // caller floor; the gateway may only raise it
	Fee          uint32
	Recipient    common.Address
}

func (r SwapRequest) validate() error {
	if r.TokenIn == domain.ZeroAddress || r.TokenOut == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	if r.AmountIn == nil || r.AmountIn.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if r.Recipient == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	return nil
}

// SwapExactInputSingle pulls the input, quotes the expected output, raises the
// minimum-output floor to cover the configured slippage tolerance, and
// executes the swap. A fill below the floor is an error; there are no silent
// partial fills.
func (g *SwapGateway) SwapExactInputSingle(ctx context.Context, req SwapRequest) (*big.Int, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.Payer != g.custody {
		allowed, err := g.tokens.Allowance(ctx, req.TokenIn, req.Payer, g.custody)
		if err != nil {
			return nil, fmt.Errorf("gateway: swap allowance: %w", err)
		}
		if allowed.Cmp(req.AmountIn) < 0 {
			return nil, domain.ErrInsufficientAllowance
		}
		if err := g.tokens.TransferFrom(ctx, req.TokenIn, req.Payer, g.custody, req.AmountIn); err != nil {
			return nil, fmt.Errorf("gateway: swap escrow: %w", err)
		}
	}

	expected, err := g.swaps.QuoteExactInputSingle(ctx, req.TokenIn, req.TokenOut, req.AmountIn, req.Fee)
	if err != nil {
		g.refundPull(ctx, req)
		return nil, fmt.Errorf("gateway: swap quote: %w", err)
	}

	floor := g.CalculateMinOutput(expected)
	if req.AmountOutMin != nil && req.AmountOutMin.Cmp(floor) > 0 {
		floor = req.AmountOutMin
	}

	amountOut, err := g.swaps.ExactInputSingle(ctx, domain.SwapParams{
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		AmountOutMin: floor,
		Fee:          req.Fee,
		Recipient:    req.Recipient,
		Deadline:     time.Now().Add(swapDeadline),
	})
	if err != nil {
		g.refundPull(ctx, req)
		return nil, fmt.Errorf("gateway: swap execute: %w", err)
	}
	if amountOut.Cmp(floor) < 0 {
		// The protocol reported a fill below the floor it was given.
		return nil, fmt.Errorf("gateway: fill %s below floor %s: %w",
			amountOut, floor, domain.ErrSlippageExceeded)
	}

	g.logger.InfoContext(ctx, "swap executed",
		slog.String("token_in", req.TokenIn.Hex()),
		slog.String("token_out", req.TokenOut.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", amountOut.String()),
	)
	g.publish(ctx, map[string]any{
		"event":      "swap_executed",
		"token_in":   req.TokenIn.Hex(),
		"token_out":  req.TokenOut.Hex(),
		"amount_in":  req.AmountIn.String(),
		"amount_out": amountOut.String(),
		"recipient":  req.Recipient.Hex(),
	})
	if err := g.audit.Log(ctx, "swap_executed", map[string]any{
		"token_in":   req.TokenIn.Hex(),
		"token_out":  req.TokenOut.Hex(),
		"amount_in":  req.AmountIn.String(),
		"amount_out": amountOut.String(),
	}); err != nil {
		g.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
	return amountOut, nil
}

// refundPull returns input pulled for a swap that failed before settlement.
// Escrowed input (custody payer) stays put; its order remains Pending.
func (g *SwapGateway) refundPull(ctx context.Context, req SwapRequest) {
	if req.Payer == g.custody {
		return
	}
	if err := g.tokens.Transfer(ctx, req.TokenIn, req.Payer, req.AmountIn); err != nil {
		g.logger.ErrorContext(ctx, "swap refund failed",
			slog.String("token", req.TokenIn.Hex()),
			slog.String("payer", req.Payer.Hex()),
			slog.String("amount", req.AmountIn.String()),
			slog.String("error", err.Error()),
		)
	}
}

// RescueTokens sweeps tokens stranded in custody that belong to no live
// escrow. Owner only; the caller is responsible for not sweeping live escrow.
func (g *SwapGateway) RescueTokens(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	if caller != g.owner {
		return domain.ErrOwnerOnly
	}
	if token == domain.ZeroAddress || to == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := g.tokens.Transfer(ctx, token, to, amount); err != nil {
		return fmt.Errorf("gateway: rescue tokens: %w", err)
	}
	if err := g.audit.Log(ctx, "tokens_rescued", map[string]any{
		"token":  token.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	}); err != nil {
		g.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
	return nil
}

func (g *SwapGateway) publish(ctx context.Context, payload map[string]any) {
	if g.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := g.bus.Publish(ctx, "swaps", data); err != nil {
		g.logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
	}
}

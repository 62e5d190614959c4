// Package domain defines the core models, sentinel errors, and the store and
// cache interfaces shared by every layer of stratvault.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyType identifies the conditional-order strategy of a trade.
// The numeric codes are part of the persisted state layout.
type StrategyType uint8

const (
	StrategyNone       StrategyType = 0
	StrategyStopLoss   StrategyType = 1
	StrategyTakeProfit StrategyType = 2
	StrategyDCA        StrategyType = 3
	StrategyLimitOrder StrategyType = 4
)

// String returns the lowercase name used in logs and API payloads.
func (s StrategyType) String() string {
	switch s {
	case StrategyStopLoss:
		return "stop_loss"
	case StrategyTakeProfit:
		return "take_profit"
	case StrategyDCA:
		return "dca"
	case StrategyLimitOrder:
		return "limit_order"
	default:
		return "none"
	}
}

// TradeStatus tracks the trade lifecycle. Pending is the only non-terminal
// state; Executed, Cancelled, and Expired are terminal.
type TradeStatus uint8

const (
	TradeStatusPending   TradeStatus = 0
	TradeStatusExecuted  TradeStatus = 1
	TradeStatusCancelled TradeStatus = 2
	TradeStatusExpired   TradeStatus = 3
)

// String returns the lowercase status name.
func (s TradeStatus) String() string {
	switch s {
	case TradeStatusPending:
		return "pending"
	case TradeStatusExecuted:
		return "executed"
	case TradeStatusCancelled:
		return "cancelled"
	case TradeStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s != TradeStatusPending
}

// PriceDecimals is the fixed-point scale of trigger and feed prices.
const PriceDecimals = 8

// Trade is one conditional order. AmountIn is escrowed at creation and is
// accounted for exactly once: still held while Pending, moved into settlement
// on Executed, or returned to Trader on Cancelled/Expired.
//
// Payer is the identity whose funds were pulled into escrow; Trader is the
// identity allowed to cancel and the recipient of refunds. The two differ when
// an intermediary creates the trade on a user's behalf.
type Trade struct {
	ID            int64
	Trader        common.Address
	Payer         common.Address
	TokenIn       common.Address
	TokenOut      common.Address
	AmountIn      *big.Int
	Strategy      StrategyType
	TriggerPrice  *big.Int // fixed-point, PriceDecimals scale
	IsAboveTarget bool     // true: trigger on price >= TriggerPrice
	ExpiresAt     time.Time
	Status        TradeStatus
	CreatedAt     time.Time
	ExecutedAt    *time.Time
	CancelledAt   *time.Time
}

// Triggerable reports whether the trade's condition holds at the given price
// and instant. Prices are compared at PriceDecimals scale.
func (t Trade) Triggerable(price *big.Int, now time.Time) bool {
	if t.Status != TradeStatusPending || price == nil {
		return false
	}
	if !now.Before(t.ExpiresAt) {
		return false
	}
	cmp := price.Cmp(t.TriggerPrice)
	if t.IsAboveTarget {
		return cmp >= 0
	}
	return cmp <= 0
}

// ExpiredAt reports whether the trade has passed its expiry at the given
// instant while still pending.
func (t Trade) ExpiredAt(now time.Time) bool {
	return t.Status == TradeStatusPending && !now.Before(t.ExpiresAt)
}

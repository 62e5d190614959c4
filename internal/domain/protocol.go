package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the null asset identifier; it is never a valid token.
var ZeroAddress = common.Address{}

// TokenProtocol is the consumed token-transfer boundary. Escrow, refund, and
// settlement all depend on these calls succeeding atomically with the caller's
// own state change; a failed transfer rolls the whole operation back.
type TokenProtocol interface {
	TransferFrom(ctx context.Context, token, owner, recipient common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// SwapParams is the request for one exact-input swap.
type SwapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Fee          uint32 // pool fee tier, e.g. 3000 = 0.3%
	Recipient    common.Address
	Deadline     time.Time
}

// SwapProtocol is the consumed swap-execution boundary.
type SwapProtocol interface {
	QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, error)
	ExactInputSingle(ctx context.Context, params SwapParams) (amountOut *big.Int, err error)
}

// BridgeSendRequest is the request for one outbound cross-chain transfer.
type BridgeSendRequest struct {
	DestinationChainSelector uint64
	Receiver                 common.Address
	Token                    common.Address
	Amount                   *big.Int
	PayInNative              bool
}

// BridgeProtocol is the consumed cross-chain messaging boundary. Delivery to
// the destination is asynchronous; inbound messages are surfaced separately.
type BridgeProtocol interface {
	Send(ctx context.Context, req BridgeSendRequest) (messageID string, err error)
	QuoteFee(ctx context.Context, req BridgeSendRequest) (*big.Int, error)
}

// PriceSource is the consumed price-feed boundary, one latestRoundData-style
// read per configured source handle.
type PriceSource interface {
	LatestRoundData(ctx context.Context, source common.Address) (PriceQuote, error)
}

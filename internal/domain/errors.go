package domain

import "errors"

var (
	// Validation errors: the caller supplied a malformed request.
	ErrInvalidToken  = errors.New("invalid token address")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidModule = errors.New("invalid module address")

	// Authorization errors: the caller lacks rights.
	ErrNotTradeOwner = errors.New("not trade owner")
	ErrOwnerOnly     = errors.New("owner only")

	// State errors: the request conflicts with current system state.
	ErrNotPending       = errors.New("trade not pending")
	ErrTradeExpired     = errors.New("trade expired")
	ErrEnginePaused     = errors.New("engine is paused")
	ErrUnsupportedChain = errors.New("unsupported destination chain")
	ErrUntrustedSender  = errors.New("untrusted remote sender")
	ErrPlanInactive     = errors.New("dca plan not active")

	// External-dependency errors: the collaborator could not satisfy the
	// request; the order stays in its prior state and may be retried.
	ErrPriceFeedNotFound     = errors.New("price feed not found")
	ErrPriceStale            = errors.New("price feed stale")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrSlippageTooHigh       = errors.New("slippage tolerance above ceiling")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

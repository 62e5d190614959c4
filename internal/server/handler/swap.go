package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
	"stratvault/internal/gateway"
)

// SwapEngine defines the immediate-swap entry point the swap handler requires
// from the orchestrator.
type SwapEngine interface {
	ExecuteSwap(ctx context.Context, caller common.Address, req gateway.SwapRequest) (*big.Int, error)
}

// SwapHandler serves immediate swap HTTP endpoints.
type SwapHandler struct {
	engine SwapEngine
	logger *slog.Logger
}

// NewSwapHandler creates a SwapHandler with the given collaborators.
func NewSwapHandler(engine SwapEngine, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{
		engine: engine,
		logger: logger,
	}
}

// swapRequest is the JSON body for POST /api/swap. AmountOutMin is optional;
// the configured slippage tolerance applies regardless.
type swapRequest struct {
	Caller       string `json:"caller"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	AmountOutMin string `json:"amount_out_min"`
	Fee          uint32 `json:"fee"`
	Recipient    string `json:"recipient"`
}

// ExecuteSwap performs an immediate swap funded by the caller's allowance.
// POST /api/swap
func (h *SwapHandler) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var body swapRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress("caller", body.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenIn, err := parseAddress("token_in", body.TokenIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenOut, err := parseAddress("token_out", body.TokenOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountIn, err := parseBigField("amount_in", body.AmountIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := gateway.SwapRequest{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amountIn,
		Fee:      body.Fee,
	}
	if body.AmountOutMin != "" {
		req.AmountOutMin, err = parseBigField("amount_out_min", body.AmountOutMin)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if body.Recipient != "" {
		req.Recipient, err = parseAddress("recipient", body.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	amountOut, err := h.engine.ExecuteSwap(r.Context(), caller, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken),
			errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrInsufficientAllowance):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrSlippageExceeded):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrEnginePaused):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: execute swap failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to execute swap")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"amount_out": bigString(amountOut),
	})
}

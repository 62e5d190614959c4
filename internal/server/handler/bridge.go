package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
	"stratvault/internal/gateway"
)

// BridgeEngine defines the cross-chain entry point the bridge handler
// requires from the orchestrator.
type BridgeEngine interface {
	BridgeToChain(ctx context.Context, caller common.Address, req gateway.BridgeRequest) (string, error)
}

// BridgeReader defines the read-only bridge methods the handler requires
// from the bridge gateway.
type BridgeReader interface {
	GetBridgeFeeEstimate(ctx context.Context, req gateway.BridgeRequest) (*big.Int, error)
	IsChainSupported(ctx context.Context, chainSelector uint64) (bool, error)
	BridgeVolume(ctx context.Context) (domain.BridgeVolume, error)
}

// BridgeHandler serves cross-chain transfer HTTP endpoints.
type BridgeHandler struct {
	engine BridgeEngine
	bridge BridgeReader
	logger *slog.Logger
}

// NewBridgeHandler creates a BridgeHandler with the given collaborators.
func NewBridgeHandler(engine BridgeEngine, bridge BridgeReader, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{
		engine: engine,
		bridge: bridge,
		logger: logger,
	}
}

// bridgeRequest is the JSON body for POST /api/bridge and the query shape
// for GET /api/bridge/fee.
type bridgeRequest struct {
	Caller        string `json:"caller"`
	ChainSelector uint64 `json:"chain_selector"`
	Receiver      string `json:"receiver"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	PayInNative   bool   `json:"pay_in_native"`
}

func (body bridgeRequest) toGatewayRequest() (gateway.BridgeRequest, error) {
	receiver, err := parseAddress("receiver", body.Receiver)
	if err != nil {
		return gateway.BridgeRequest{}, err
	}
	token, err := parseAddress("token", body.Token)
	if err != nil {
		return gateway.BridgeRequest{}, err
	}
	amount, err := parseBigField("amount", body.Amount)
	if err != nil {
		return gateway.BridgeRequest{}, err
	}
	return gateway.BridgeRequest{
		DestinationChainSelector: body.ChainSelector,
		Receiver:                 receiver,
		Token:                    token,
		Amount:                   amount,
		PayInNative:              body.PayInNative,
	}, nil
}

// BridgeTokens sends tokens to a receiver on another chain.
// POST /api/bridge
func (h *BridgeHandler) BridgeTokens(w http.ResponseWriter, r *http.Request) {
	var body bridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress("caller", body.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.toGatewayRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messageID, err := h.engine.BridgeToChain(r.Context(), caller, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken),
			errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrInsufficientAllowance):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrUnsupportedChain):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrEnginePaused):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: bridge tokens failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to bridge tokens")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": messageID,
	})
}

// GetFeeEstimate quotes the bridge fee for a prospective transfer without
// moving funds.
// POST /api/bridge/fee
func (h *BridgeHandler) GetFeeEstimate(w http.ResponseWriter, r *http.Request) {
	var body bridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := body.toGatewayRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fee, err := h.bridge.GetBridgeFeeEstimate(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: bridge fee estimate failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to estimate bridge fee")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fee":           bigString(fee),
		"pay_in_native": body.PayInNative,
	})
}

// GetChainSupport reports whether a destination chain is enabled.
// GET /api/bridge/chains/{selector}
func (h *BridgeHandler) GetChainSupport(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("selector")
	selector, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chain selector "+strconv.Quote(raw))
		return
	}

	supported, err := h.bridge.IsChainSupported(r.Context(), selector)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: chain support lookup failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to look up chain support")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain_selector": selector,
		"supported":      supported,
	})
}

// GetVolume returns the cumulative bridged volume in both directions.
// GET /api/bridge/volume
func (h *BridgeHandler) GetVolume(w http.ResponseWriter, r *http.Request) {
	vol, err := h.bridge.BridgeVolume(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: bridge volume lookup failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to look up bridge volume")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_bridged_out": bigString(vol.TotalBridgedOut),
		"total_bridged_in":  bigString(vol.TotalBridgedIn),
	})
}

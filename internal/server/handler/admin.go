package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// AdminEngine defines the orchestrator controls exposed to operators.
type AdminEngine interface {
	SetPaused(ctx context.Context, caller common.Address, paused bool) error
	GetStatistics(ctx context.Context) (domain.EngineStats, error)
}

// AdminSwap defines the swap gateway controls exposed to operators.
type AdminSwap interface {
	SetSlippageTolerance(ctx context.Context, caller common.Address, bps uint32) error
	SlippageTolerance() uint32
}

// AdminBridge defines the bridge gateway controls exposed to operators.
type AdminBridge interface {
	SetSupportedChain(ctx context.Context, caller common.Address, chainSelector uint64, enabled bool) error
	SetTrustedSender(ctx context.Context, caller common.Address, chainSelector uint64, sender common.Address) error
}

// AdminPrices defines the price registry controls exposed to operators.
type AdminPrices interface {
	SetPriceFeeds(ctx context.Context, caller common.Address, symbols []string, sources []common.Address, decimals []uint8) error
	SetStalenessThreshold(ctx context.Context, caller common.Address, threshold time.Duration) error
}

// AdminHandler serves operator endpoints. All calls act as the configured
// owner address; the API-key middleware gates who can reach them.
type AdminHandler struct {
	engine AdminEngine
	swap   AdminSwap
	bridge AdminBridge
	prices AdminPrices
	owner  common.Address
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler acting as the given owner address.
func NewAdminHandler(
	engine AdminEngine,
	swap AdminSwap,
	bridge AdminBridge,
	prices AdminPrices,
	owner common.Address,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		engine: engine,
		swap:   swap,
		bridge: bridge,
		prices: prices,
		owner:  owner,
		logger: logger,
	}
}

// GetStats returns the orchestrator's aggregate counters and pause state.
// GET /api/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetStatistics(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"swap_count":   stats.SwapCount,
		"bridge_count": stats.BridgeCount,
		"trade_count":  stats.TradeCount,
		"paused":       stats.Paused,
		"slippage_bps": h.swap.SlippageTolerance(),
	})
}

// SetPaused toggles the engine-wide pause switch.
// PUT /api/admin/pause
func (h *AdminHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.SetPaused(r.Context(), h.owner, body.Paused); err != nil {
		h.writeAdminError(w, r, "set paused", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"paused": body.Paused})
}

// SetSlippage updates the gateway-wide slippage tolerance in basis points.
// PUT /api/admin/slippage
func (h *AdminHandler) SetSlippage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Bps uint32 `json:"bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.swap.SetSlippageTolerance(r.Context(), h.owner, body.Bps); err != nil {
		if errors.Is(err, domain.ErrSlippageTooHigh) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeAdminError(w, r, "set slippage", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slippage_bps": body.Bps})
}

// SetStaleness updates the maximum accepted price feed age.
// PUT /api/admin/staleness
func (h *AdminHandler) SetStaleness(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds int64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}

	threshold := time.Duration(body.Seconds) * time.Second
	if err := h.prices.SetStalenessThreshold(r.Context(), h.owner, threshold); err != nil {
		h.writeAdminError(w, r, "set staleness", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"staleness_seconds": body.Seconds})
}

// feedUpdate is one entry in a PUT /api/admin/feeds batch.
type feedUpdate struct {
	Symbol   string `json:"symbol"`
	Source   string `json:"source"`
	Decimals uint8  `json:"decimals"`
}

// SetFeeds registers or replaces price feed sources in batch.
// PUT /api/admin/feeds
func (h *AdminHandler) SetFeeds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feeds []feedUpdate `json:"feeds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(body.Feeds) == 0 {
		writeError(w, http.StatusBadRequest, "feeds must not be empty")
		return
	}

	symbols := make([]string, 0, len(body.Feeds))
	sources := make([]common.Address, 0, len(body.Feeds))
	decimals := make([]uint8, 0, len(body.Feeds))
	for _, f := range body.Feeds {
		source, err := parseAddress("source", f.Source)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		symbols = append(symbols, f.Symbol)
		sources = append(sources, source)
		decimals = append(decimals, f.Decimals)
	}

	if err := h.prices.SetPriceFeeds(r.Context(), h.owner, symbols, sources, decimals); err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeAdminError(w, r, "set feeds", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": len(body.Feeds)})
}

// SetChain enables or disables a bridge destination and optionally pins its
// trusted remote sender.
// PUT /api/admin/chains
func (h *AdminHandler) SetChain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChainSelector uint64 `json:"chain_selector"`
		Enabled       bool   `json:"enabled"`
		TrustedSender string `json:"trusted_sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.bridge.SetSupportedChain(r.Context(), h.owner, body.ChainSelector, body.Enabled); err != nil {
		h.writeAdminError(w, r, "set chain support", err)
		return
	}

	if body.TrustedSender != "" {
		sender, err := parseAddress("trusted_sender", body.TrustedSender)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.bridge.SetTrustedSender(r.Context(), h.owner, body.ChainSelector, sender); err != nil {
			h.writeAdminError(w, r, "set trusted sender", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain_selector": body.ChainSelector,
		"enabled":        body.Enabled,
	})
}

func (h *AdminHandler) writeAdminError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, domain.ErrOwnerOnly) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
	"stratvault/internal/ledger"
)

// TradeEngine defines the order-creation entry points the trade handler
// requires from the orchestrator.
type TradeEngine interface {
	CreateStopLossOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error)
	CreateTakeProfitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error)
	CreateLimitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest, isBuyOrder bool) (int64, error)
}

// TradeLedger defines the read and cancel methods the trade handler requires
// from the order ledger.
type TradeLedger interface {
	CancelTrade(ctx context.Context, caller common.Address, id int64) (*big.Int, error)
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
	GetUserTrades(ctx context.Context, trader common.Address) ([]domain.Trade, error)
	ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves conditional-order HTTP endpoints.
type TradeHandler struct {
	engine TradeEngine
	orders TradeLedger
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given collaborators.
func NewTradeHandler(engine TradeEngine, orders TradeLedger, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		engine: engine,
		orders: orders,
		logger: logger,
	}
}

// createTradeRequest is the JSON body for POST /api/trades. Amounts and
// prices are decimal strings in token base units.
type createTradeRequest struct {
	Trader           string `json:"trader"`
	TokenIn          string `json:"token_in"`
	TokenOut         string `json:"token_out"`
	AmountIn         string `json:"amount_in"`
	TriggerPrice     string `json:"trigger_price"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	Strategy         string `json:"strategy"` // stop_loss, take_profit, limit_buy, limit_sell
}

// tradeJSON is the wire representation of a domain.Trade.
type tradeJSON struct {
	ID            int64      `json:"id"`
	Trader        string     `json:"trader"`
	Payer         string     `json:"payer"`
	TokenIn       string     `json:"token_in"`
	TokenOut      string     `json:"token_out"`
	AmountIn      string     `json:"amount_in"`
	Strategy      string     `json:"strategy"`
	TriggerPrice  string     `json:"trigger_price"`
	IsAboveTarget bool       `json:"is_above_target"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

func toTradeJSON(t domain.Trade) tradeJSON {
	return tradeJSON{
		ID:            t.ID,
		Trader:        t.Trader.Hex(),
		Payer:         t.Payer.Hex(),
		TokenIn:       t.TokenIn.Hex(),
		TokenOut:      t.TokenOut.Hex(),
		AmountIn:      bigString(t.AmountIn),
		Strategy:      t.Strategy.String(),
		TriggerPrice:  bigString(t.TriggerPrice),
		IsAboveTarget: t.IsAboveTarget,
		ExpiresAt:     t.ExpiresAt,
		Status:        t.Status.String(),
		CreatedAt:     t.CreatedAt,
		ExecutedAt:    t.ExecutedAt,
		CancelledAt:   t.CancelledAt,
	}
}

// CreateTrade opens a new conditional order, escrowing the input amount.
// POST /api/trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var body createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	trader, err := parseAddress("trader", body.Trader)
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
	triggerPrice, err := parseBigField("trigger_price", body.TriggerPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := ledger.CreateTradeRequest{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		TriggerPrice: triggerPrice,
		ExpiresIn:    time.Duration(body.ExpiresInSeconds) * time.Second,
	}

	var id int64
	switch body.Strategy {
	case "stop_loss":
		id, err = h.engine.CreateStopLossOrder(r.Context(), trader, req)
	case "take_profit":
		id, err = h.engine.CreateTakeProfitOrder(r.Context(), trader, req)
	case "limit_buy":
		id, err = h.engine.CreateLimitOrder(r.Context(), trader, req, true)
	case "limit_sell":
		id, err = h.engine.CreateLimitOrder(r.Context(), trader, req, false)
	default:
		writeError(w, http.StatusBadRequest, "strategy must be one of stop_loss, take_profit, limit_buy, limit_sell")
		return
	}
	if err != nil {
		h.writeTradeError(w, r, "create trade", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"strategy": body.Strategy,
		"status":   domain.TradeStatusPending.String(),
	})
}

// GetTrade returns a single order by id.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.orders.GetTrade(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.writeTradeError(w, r, "get trade", err)
		return
	}

	writeJSON(w, http.StatusOK, toTradeJSON(trade))
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []tradeJSON `json:"trades"`
}

// ListTrades returns a trader's orders, or pending orders across all traders.
// GET /api/trades?trader=0x...  |  GET /api/trades?pending=true&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var trades []domain.Trade
	var err error

	switch {
	case q.Get("trader") != "":
		var trader common.Address
		trader, err = parseAddress("trader", q.Get("trader"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		trades, err = h.orders.GetUserTrades(r.Context(), trader)
	case q.Get("pending") == "true":
		trades, err = h.orders.ListPending(r.Context(), parseListOpts(r))
	default:
		writeError(w, http.StatusBadRequest, "trader or pending=true query parameter required")
		return
	}

	if err != nil {
		h.writeTradeError(w, r, "list trades", err)
		return
	}

	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeJSON(t))
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}

// CancelTrade cancels a pending order and refunds the escrowed input.
// DELETE /api/trades/{id}?trader=0x...
func (h *TradeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader, err := parseAddress("trader", r.URL.Query().Get("trader"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	refunded, err := h.orders.CancelTrade(r.Context(), trader, id)
	if err != nil {
		h.writeTradeError(w, r, "cancel trade", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"status":   domain.TradeStatusCancelled.String(),
		"refunded": bigString(refunded),
	})
}

// writeTradeError maps domain errors onto HTTP status codes. Unrecognized
// errors are logged and reported as a generic 500.
func (h *TradeHandler) writeTradeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotTradeOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrTradeExpired),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrEnginePaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

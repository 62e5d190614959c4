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

// DCAEngine defines the plan-creation entry point the DCA handler requires
// from the orchestrator.
type DCAEngine interface {
	CreateDCAPlan(ctx context.Context, caller common.Address, req ledger.CreateDCAPlanRequest) (int64, error)
}

// DCALedger defines the read and cancel methods the DCA handler requires
// from the order ledger.
type DCALedger interface {
	CancelDCAPlan(ctx context.Context, caller common.Address, id int64) (*big.Int, error)
	GetDCAPlan(ctx context.Context, id int64) (domain.DCAPlan, error)
	GetUserDCAPlans(ctx context.Context, trader common.Address) ([]domain.DCAPlan, error)
}

// DCAHandler serves recurring-order HTTP endpoints.
type DCAHandler struct {
	engine DCAEngine
	plans  DCALedger
	logger *slog.Logger
}

// NewDCAHandler creates a DCAHandler with the given collaborators.
func NewDCAHandler(engine DCAEngine, plans DCALedger, logger *slog.Logger) *DCAHandler {
	return &DCAHandler{
		engine: engine,
		plans:  plans,
		logger: logger,
	}
}

// createDCARequest is the JSON body for POST /api/dca.
type createDCARequest struct {
	Trader            string `json:"trader"`
	TokenIn           string `json:"token_in"`
	TokenOut          string `json:"token_out"`
	AmountPerInterval string `json:"amount_per_interval"`
	IntervalSeconds   int64  `json:"interval_seconds"`
	TotalIntervals    int32  `json:"total_intervals"`
}

// dcaPlanJSON is the wire representation of a domain.DCAPlan.
type dcaPlanJSON struct {
	ID                int64     `json:"id"`
	Trader            string    `json:"trader"`
	Payer             string    `json:"payer"`
	TokenIn           string    `json:"token_in"`
	TokenOut          string    `json:"token_out"`
	AmountPerInterval string    `json:"amount_per_interval"`
	IntervalSeconds   int64     `json:"interval_seconds"`
	TotalIntervals    int32     `json:"total_intervals"`
	ExecutedIntervals int32     `json:"executed_intervals"`
	NextExecutionAt   time.Time `json:"next_execution_at"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

func toDCAPlanJSON(p domain.DCAPlan) dcaPlanJSON {
	return dcaPlanJSON{
		ID:                p.ID,
		Trader:            p.Trader.Hex(),
		Payer:             p.Payer.Hex(),
		TokenIn:           p.TokenIn.Hex(),
		TokenOut:          p.TokenOut.Hex(),
		AmountPerInterval: bigString(p.AmountPerInterval),
		IntervalSeconds:   int64(p.Interval / time.Second),
		TotalIntervals:    p.TotalIntervals,
		ExecutedIntervals: p.ExecutedIntervals,
		NextExecutionAt:   p.NextExecutionAt,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
	}
}

// CreateDCAPlan opens a new recurring order, escrowing the full schedule
// amount up front.
// POST /api/dca
func (h *DCAHandler) CreateDCAPlan(w http.ResponseWriter, r *http.Request) {
	var body createDCARequest
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
	amount, err := parseBigField("amount_per_interval", body.AmountPerInterval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.CreateDCAPlan(r.Context(), trader, ledger.CreateDCAPlanRequest{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountPerInterval: amount,
		Interval:          time.Duration(body.IntervalSeconds) * time.Second,
		TotalIntervals:    body.TotalIntervals,
	})
	if err != nil {
		h.writeDCAError(w, r, "create dca plan", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"active": true,
	})
}

// GetDCAPlan returns a single plan by id.
// GET /api/dca/{id}
func (h *DCAHandler) GetDCAPlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := h.plans.GetDCAPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dca plan not found")
			return
		}
		h.writeDCAError(w, r, "get dca plan", err)
		return
	}

	writeJSON(w, http.StatusOK, toDCAPlanJSON(plan))
}

// listDCAPlansResponse wraps the list plans response.
type listDCAPlansResponse struct {
	Plans []dcaPlanJSON `json:"plans"`
}

// ListDCAPlans returns a trader's plans.
// GET /api/dca?trader=0x...
func (h *DCAHandler) ListDCAPlans(w http.ResponseWriter, r *http.Request) {
	trader, err := parseAddress("trader", r.URL.Query().Get("trader"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plans, err := h.plans.GetUserDCAPlans(r.Context(), trader)
	if err != nil {
		h.writeDCAError(w, r, "list dca plans", err)
		return
	}

	out := make([]dcaPlanJSON, 0, len(plans))
	for _, p := range plans {
		out = append(out, toDCAPlanJSON(p))
	}
	writeJSON(w, http.StatusOK, listDCAPlansResponse{Plans: out})
}

// CancelDCAPlan deactivates a plan and refunds the unexecuted escrow.
// DELETE /api/dca/{id}?trader=0x...
func (h *DCAHandler) CancelDCAPlan(w http.ResponseWriter, r *http.Request) {
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

	refunded, err := h.plans.CancelDCAPlan(r.Context(), trader, id)
	if err != nil {
		h.writeDCAError(w, r, "cancel dca plan", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"active":   false,
		"refunded": bigString(refunded),
	})
}

func (h *DCAHandler) writeDCAError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotTradeOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPlanInactive), errors.Is(err, domain.ErrLockHeld):
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

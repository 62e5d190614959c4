package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"stratvault/internal/domain"
)

// PriceRegistry defines the read methods the price handler requires from the
// price feed registry.
type PriceRegistry interface {
	GetLatestPrice(ctx context.Context, symbol string) (domain.PriceQuote, error)
	GetNormalizedPrice(ctx context.Context, symbol string) (*big.Int, error)
	ListFeeds(ctx context.Context) ([]domain.PriceFeedEntry, error)
}

// PriceHandler serves price feed HTTP endpoints.
type PriceHandler struct {
	prices PriceRegistry
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given registry and logger.
func NewPriceHandler(prices PriceRegistry, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger,
	}
}

// feedJSON is the wire representation of a configured price feed.
type feedJSON struct {
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Decimals  uint8     `json:"decimals"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFeeds returns every configured price feed.
// GET /api/prices
func (h *PriceHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.prices.ListFeeds(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list feeds failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list price feeds")
		return
	}

	out := make([]feedJSON, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, feedJSON{
			Symbol:    f.Symbol,
			Source:    f.Source.Hex(),
			Decimals:  f.Decimals,
			UpdatedAt: f.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

// GetPrice returns the latest reading for a symbol, both at source scale and
// normalized to 18 decimals.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	quote, err := h.prices.GetLatestPrice(r.Context(), symbol)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPriceFeedNotFound):
			writeError(w, http.StatusNotFound, "price feed not found")
		case errors.Is(err, domain.ErrPriceStale):
			writeError(w, http.StatusServiceUnavailable, "price feed stale")
		default:
			h.logger.ErrorContext(r.Context(), "handler: get price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read price")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     symbol,
		"price":      bigString(quote.Price),
		"decimals":   quote.Decimals,
		"normalized": bigString(quote.Normalized()),
		"updated_at": quote.UpdatedAt,
	})
}

package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratvault/internal/domain"
	"stratvault/internal/ledger"
)

type fakeTradeEngine struct {
	lastStrategy string
	lastCaller   common.Address
	createErr    error
}

func (f *fakeTradeEngine) CreateStopLossOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error) {
	f.lastStrategy = "stop_loss"
	f.lastCaller = caller
	return 7, f.createErr
}

func (f *fakeTradeEngine) CreateTakeProfitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest) (int64, error) {
	f.lastStrategy = "take_profit"
	f.lastCaller = caller
	return 8, f.createErr
}

func (f *fakeTradeEngine) CreateLimitOrder(ctx context.Context, caller common.Address, req ledger.CreateTradeRequest, isBuyOrder bool) (int64, error) {
	if isBuyOrder {
		f.lastStrategy = "limit_buy"
	} else {
		f.lastStrategy = "limit_sell"
	}
	f.lastCaller = caller
	return 9, f.createErr
}

type fakeTradeLedger struct {
	trades    map[int64]domain.Trade
	cancelErr error
}

func (f *fakeTradeLedger) CancelTrade(ctx context.Context, caller common.Address, id int64) (*big.Int, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	t, ok := f.trades[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.AmountIn, nil
}

func (f *fakeTradeLedger) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTradeLedger) GetUserTrades(ctx context.Context, trader common.Address) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if t.Trader == trader {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeLedger) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if t.Status == domain.TradeStatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTradeFixture(t *testing.T) (*TradeHandler, *fakeTradeEngine, *fakeTradeLedger) {
	t.Helper()
	eng := &fakeTradeEngine{}
	ldg := &fakeTradeLedger{trades: make(map[int64]domain.Trade)}
	h := NewTradeHandler(eng, ldg, slog.New(slog.DiscardHandler))
	return h, eng, ldg
}

const (
	testTrader = "0x1111111111111111111111111111111111111111"
	testTokenA = "0x2222222222222222222222222222222222222222"
	testTokenB = "0x3333333333333333333333333333333333333333"
)

func createBody(strategy string) string {
	return `{
		"trader": "` + testTrader + `",
		"token_in": "` + testTokenA + `",
		"token_out": "` + testTokenB + `",
		"amount_in": "1000000000000000000",
		"trigger_price": "180000000000",
		"expires_in_seconds": 86400,
		"strategy": "` + strategy + `"
	}`
}

func TestCreateTradeRoutesStrategy(t *testing.T) {
	for _, strategy := range []string{"stop_loss", "take_profit", "limit_buy", "limit_sell"} {
		h, eng, _ := newTradeFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(createBody(strategy)))
		rec := httptest.NewRecorder()
		h.CreateTrade(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, strategy)
		assert.Equal(t, strategy, eng.lastStrategy)
		assert.Equal(t, common.HexToAddress(testTrader), eng.lastCaller)
	}
}

func TestCreateTradeRejectsUnknownStrategy(t *testing.T) {
	h, _, _ := newTradeFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(createBody("trailing_stop")))
	rec := httptest.NewRecorder()
	h.CreateTrade(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTradeRejectsBadAddress(t *testing.T) {
	h, _, _ := newTradeFixture(t)

	body := strings.Replace(createBody("stop_loss"), testTrader, "not-an-address", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateTrade(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTradePausedEngine(t *testing.T) {
	h, eng, _ := newTradeFixture(t)
	eng.createErr = domain.ErrEnginePaused

	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(createBody("stop_loss")))
	rec := httptest.NewRecorder()
	h.CreateTrade(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetTradeNotFound(t *testing.T) {
	h, _, _ := newTradeFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trades/42", nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.GetTrade(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTradeReturnsStringAmounts(t *testing.T) {
	h, _, ldg := newTradeFixture(t)
	ldg.trades[42] = domain.Trade{
		ID:           42,
		Trader:       common.HexToAddress(testTrader),
		TokenIn:      common.HexToAddress(testTokenA),
		TokenOut:     common.HexToAddress(testTokenB),
		AmountIn:     big.NewInt(1e18),
		Strategy:     domain.StrategyStopLoss,
		TriggerPrice: big.NewInt(180000000000),
		ExpiresAt:    time.Now().Add(time.Hour),
		Status:       domain.TradeStatusPending,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trades/42", nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.GetTrade(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"amount_in":"1000000000000000000"`)
	assert.Contains(t, body, `"trigger_price":"180000000000"`)
	assert.Contains(t, body, `"status":"pending"`)
}

func TestListTradesRequiresFilter(t *testing.T) {
	h, _, _ := newTradeFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	rec := httptest.NewRecorder()
	h.ListTrades(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTradeNotOwner(t *testing.T) {
	h, _, ldg := newTradeFixture(t)
	ldg.cancelErr = domain.ErrNotTradeOwner

	req := httptest.NewRequest(http.MethodDelete, "/api/trades/42?trader="+testTrader, nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.CancelTrade(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelTradeLockHeldConflicts(t *testing.T) {
	h, _, ldg := newTradeFixture(t)
	ldg.cancelErr = domain.ErrLockHeld

	// Another keeper holds the settlement lock; that is contention, not a
	// server fault.
	req := httptest.NewRequest(http.MethodDelete, "/api/trades/42?trader="+testTrader, nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.CancelTrade(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelTradeReportsRefund(t *testing.T) {
	h, _, ldg := newTradeFixture(t)
	ldg.trades[42] = domain.Trade{
		ID:       42,
		Trader:   common.HexToAddress(testTrader),
		AmountIn: big.NewInt(5e17),
		Status:   domain.TradeStatusPending,
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/trades/42?trader="+testTrader, nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.CancelTrade(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refunded":"500000000000000000"`)
}

package engine

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "stratvault/internal/cache/memory"
	"stratvault/internal/domain"
	"stratvault/internal/gateway"
	"stratvault/internal/ledger"
	"stratvault/internal/store/memory"
)

var (
	weth    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc    = common.HexToAddress("0x1000000000000000000000000000000000000002")
	custody = common.HexToAddress("0xc000000000000000000000000000000000000001")
	owner   = common.HexToAddress("0xad00000000000000000000000000000000000001")
	alice   = common.HexToAddress("0xa000000000000000000000000000000000000001")
)

// fakeSwap fills at a fixed rate without touching balances; settlement
// accounting is the ledger's concern, not this fake's.
type fakeSwap struct {
	rate  int64 // USDC (6 decimals) per whole token in
	calls int
	err   error
}

func (f *fakeSwap) SwapExactInputSingle(_ context.Context, req gateway.SwapRequest) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	out := new(big.Int).Mul(req.AmountIn, big.NewInt(f.rate))
	return out.Div(out, big.NewInt(1e18)), nil
}

func (f *fakeSwap) CalculateMinOutput(expected *big.Int) *big.Int {
	return new(big.Int).Set(expected)
}

type fakeBridgeModule struct {
	calls int
	err   error
}

func (f *fakeBridgeModule) BridgeTokens(_ context.Context, _ gateway.BridgeRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return "msg-1", nil
}

func (f *fakeBridgeModule) GetBridgeFeeEstimate(_ context.Context, _ gateway.BridgeRequest) (*big.Int, error) {
	return big.NewInt(1e15), nil
}

// fakePrices serves one mutable quote for every symbol.
type fakePrices struct {
	price    *big.Int
	decimals uint8 // zero means PriceDecimals
}

func (f *fakePrices) GetLatestPrice(_ context.Context, _ string) (domain.PriceQuote, error) {
	decimals := f.decimals
	if decimals == 0 {
		decimals = domain.PriceDecimals
	}
	return domain.PriceQuote{
		Price:     new(big.Int).Set(f.price),
		Decimals:  decimals,
		UpdatedAt: time.Now(),
	}, nil
}

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	swap   *fakeSwap
	bridge *fakeBridgeModule
	prices *fakePrices
	state  *memory.EngineStateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	locks := cachemem.NewLockManager()
	state := memory.NewEngineStateStore()
	prices := &fakePrices{price: big.NewInt(200000000000)} // $2000

	ldg := ledger.New(
		memory.NewTradeStore(),
		memory.NewDCAPlanStore(),
		allowAllTokens{},
		locks,
		cachemem.NewSignalBus(),
		memory.NewAuditStore(),
		custody,
		logger,
	)

	eng := New(state, prices, locks, custody, owner,
		map[common.Address]string{weth: "ETH/USD"}, logger)

	swap := &fakeSwap{rate: 2000e6}
	bridge := &fakeBridgeModule{}
	require.NoError(t, eng.InitializeModules(swap, bridge, ldg))

	return &fixture{engine: eng, ledger: ldg, swap: swap, bridge: bridge, prices: prices, state: state}
}

// allowAllTokens reports unlimited allowance and accepts every transfer.
type allowAllTokens struct{}

func (allowAllTokens) TransferFrom(_ context.Context, _, _, _ common.Address, _ *big.Int) error {
	return nil
}
func (allowAllTokens) Transfer(_ context.Context, _, _ common.Address, _ *big.Int) error {
	return nil
}
func (allowAllTokens) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (allowAllTokens) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	maxAllowance := new(big.Int).Lsh(big.NewInt(1), 255)
	return maxAllowance, nil
}

var _ domain.TokenProtocol = allowAllTokens{}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func stopLossReq() ledger.CreateTradeRequest {
	return ledger.CreateTradeRequest{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     eth(1),
		TriggerPrice: big.NewInt(180000000000), // $1800
		ExpiresIn:    86400 * time.Second,
	}
}

func TestInitializeModules(t *testing.T) {
	eng := New(memory.NewEngineStateStore(), &fakePrices{price: big.NewInt(1)},
		cachemem.NewLockManager(), custody, owner, nil, slog.New(slog.DiscardHandler))

	err := eng.InitializeModules(nil, &fakeBridgeModule{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidModule)

	// Uninitialized engine refuses work.
	_, err = eng.ExecuteSwap(context.Background(), alice, gateway.SwapRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidModule)
}

func TestInitializeModulesOnce(t *testing.T) {
	fx := newFixture(t)

	err := fx.engine.InitializeModules(fx.swap, fx.bridge, fx.ledger)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestUpdateModules(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	err := fx.engine.UpdateSwapGateway(ctx, alice, &fakeSwap{})
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	err = fx.engine.UpdateSwapGateway(ctx, owner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidModule)
	err = fx.engine.UpdateBridgeGateway(ctx, owner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidModule)
	err = fx.engine.UpdateLedger(ctx, owner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidModule)

	replacement := &fakeSwap{rate: 1800e6}
	require.NoError(t, fx.engine.UpdateSwapGateway(ctx, owner, replacement))

	// In-flight pending trades survive a gateway swap untouched.
	id, err := fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	require.NoError(t, err)
	trade, err := fx.ledger.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusPending, trade.Status)
}

func TestPauseGate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	err := fx.engine.SetPaused(ctx, alice, true)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)
	require.NoError(t, fx.engine.SetPaused(ctx, owner, true))

	// Every fund-moving entry point fails closed.
	_, err = fx.engine.ExecuteSwap(ctx, alice, gateway.SwapRequest{
		TokenIn: weth, TokenOut: usdc, AmountIn: eth(1),
	})
	assert.ErrorIs(t, err, domain.ErrEnginePaused)
	_, err = fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	assert.ErrorIs(t, err, domain.ErrEnginePaused)
	_, err = fx.engine.CreateTakeProfitOrder(ctx, alice, stopLossReq())
	assert.ErrorIs(t, err, domain.ErrEnginePaused)
	_, err = fx.engine.BridgeToChain(ctx, alice, gateway.BridgeRequest{})
	assert.ErrorIs(t, err, domain.ErrEnginePaused)
	_, err = fx.engine.ExecuteTriggered(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrEnginePaused)

	// Administrative entry points stay open, including unpausing.
	require.NoError(t, fx.engine.UpdateSwapGateway(ctx, owner, &fakeSwap{rate: 2000e6}))
	require.NoError(t, fx.engine.SetPaused(ctx, owner, false))

	_, err = fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	assert.NoError(t, err)
}

func TestExecuteSwapCountsOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.engine.ExecuteSwap(ctx, alice, gateway.SwapRequest{
		TokenIn: weth, TokenOut: usdc, AmountIn: eth(1),
	})
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(2000e6).Cmp(out))

	stats, err := fx.engine.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SwapCount)
	assert.Equal(t, int64(0), stats.TradeCount)

	// A failed swap must not count.
	fx.swap.err = domain.ErrSlippageExceeded
	_, err = fx.engine.ExecuteSwap(ctx, alice, gateway.SwapRequest{
		TokenIn: weth, TokenOut: usdc, AmountIn: eth(1),
	})
	require.Error(t, err)
	stats, _ = fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.SwapCount)
}

func TestCreateOrdersRegisterCaller(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	require.NoError(t, err)

	trade, err := fx.ledger.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, trade.Trader, "the end user, not the engine, owns the order")
	assert.Equal(t, alice, trade.Payer)

	stats, _ := fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.TradeCount)

	_, err = fx.engine.CreateLimitOrder(ctx, alice, stopLossReq(), true)
	require.NoError(t, err)
	stats, _ = fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(2), stats.TradeCount)
}

func TestBridgeToChainCountsOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	msgID, err := fx.engine.BridgeToChain(ctx, alice, gateway.BridgeRequest{
		DestinationChainSelector: 1, Receiver: alice, Token: weth, Amount: eth(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)

	stats, _ := fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.BridgeCount)

	fx.bridge.err = domain.ErrUnsupportedChain
	_, err = fx.engine.BridgeToChain(ctx, alice, gateway.BridgeRequest{})
	require.Error(t, err)
	stats, _ = fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.BridgeCount)
}

func TestExecuteTriggeredStopLoss(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	require.NoError(t, err)

	// Price above the trigger: not yet.
	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, ErrNotTriggered)

	// Price drops to the trigger.
	fx.prices.price = big.NewInt(180000000000)
	out, err := fx.engine.ExecuteTriggered(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, out.Sign())

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusExecuted, trade.Status)

	stats, _ := fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.SwapCount)

	// Settling again is a state error and does not double-count.
	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotPending)
	stats, _ = fx.engine.GetStatistics(ctx)
	assert.Equal(t, int64(1), stats.SwapCount)
	assert.Equal(t, 1, fx.swap.calls)
}

func TestExecuteTriggeredTakeProfit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	req := stopLossReq()
	req.TriggerPrice = big.NewInt(250000000000) // $2500
	id, err := fx.engine.CreateTakeProfitOrder(ctx, alice, req)
	require.NoError(t, err)

	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, ErrNotTriggered)

	fx.prices.price = big.NewInt(250000000000)
	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.NoError(t, err)
}

// A source reporting at 18 decimals must not look inflated next to trigger
// prices stored at PriceDecimals.
func TestExecuteTriggeredRescalesFeedDecimals(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.prices.decimals = 18
	fx.prices.price = eth(2000) // $2000 at 18 decimals

	req := stopLossReq()
	req.TriggerPrice = big.NewInt(250000000000) // $2500
	id, err := fx.engine.CreateTakeProfitOrder(ctx, alice, req)
	require.NoError(t, err)

	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, ErrNotTriggered)
	assert.Equal(t, 0, fx.swap.calls)

	fx.prices.price = eth(2600)
	out, err := fx.engine.ExecuteTriggered(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, out.Sign())
}

func TestExecuteTriggeredExpired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.CreateStopLossOrder(ctx, alice, stopLossReq())
	require.NoError(t, err)

	fx.prices.price = big.NewInt(180000000000)
	fx.engine.WithClock(func() time.Time { return time.Now().Add(87000 * time.Second) })

	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTradeExpired)
	assert.Equal(t, 0, fx.swap.calls)
}

func TestExecuteTriggeredUnknownSymbol(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	req := stopLossReq()
	req.TokenIn = usdc // no feed symbol configured
	id, err := fx.engine.CreateStopLossOrder(ctx, alice, req)
	require.NoError(t, err)

	_, err = fx.engine.ExecuteTriggered(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPriceFeedNotFound)
}

func TestExecuteDCAInterval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.CreateDCAPlan(ctx, alice, ledger.CreateDCAPlanRequest{
		TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: big.NewInt(1e17), Interval: time.Hour, TotalIntervals: 10,
	})
	require.NoError(t, err)

	// First interval is not yet due.
	_, err = fx.engine.ExecuteDCAInterval(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPlanInactive)

	base := time.Now()
	fx.engine.WithClock(func() time.Time { return base.Add(61 * time.Minute) })
	fx.ledger.WithClock(func() time.Time { return base.Add(61 * time.Minute) })

	out, err := fx.engine.ExecuteDCAInterval(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, out.Sign())

	plan, _ := fx.ledger.GetDCAPlan(ctx, id)
	assert.Equal(t, int32(1), plan.ExecutedIntervals)
}

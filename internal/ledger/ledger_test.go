package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "stratvault/internal/cache/memory"
	"stratvault/internal/domain"
	"stratvault/internal/store/memory"
)

var (
	weth    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc    = common.HexToAddress("0x1000000000000000000000000000000000000002")
	custody = common.HexToAddress("0xc000000000000000000000000000000000000001")
	alice   = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0xa000000000000000000000000000000000000002")
)

// fakeTokens implements domain.TokenProtocol over in-memory balances and
// allowances, mimicking standard transfer/approve semantics. Transfers out of
// custody can be forced to fail to exercise rollback paths.
type fakeTokens struct {
	mu           sync.Mutex
	balances     map[common.Address]map[common.Address]*big.Int
	allowances   map[common.Address]map[common.Address]*big.Int // key: owner, spender folded below
	custody      common.Address
	failTransfer bool
}

func newFakeTokens(custody common.Address) *fakeTokens {
	return &fakeTokens{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		custody:    custody,
	}
}

func (f *fakeTokens) mint(token, account common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credit(token, account, amount)
}

func (f *fakeTokens) approve(token, owner, spender common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowances[token] == nil {
		f.allowances[token] = make(map[common.Address]*big.Int)
	}
	f.allowances[token][allowanceKey(owner, spender)] = new(big.Int).Set(amount)
}

func allowanceKey(owner, spender common.Address) common.Address {
	var key common.Address
	for i := range key {
		key[i] = owner[i] ^ spender[i]
	}
	return key
}

func (f *fakeTokens) credit(token, account common.Address, amount *big.Int) {
	if f.balances[token] == nil {
		f.balances[token] = make(map[common.Address]*big.Int)
	}
	cur := f.balances[token][account]
	if cur == nil {
		cur = big.NewInt(0)
	}
	f.balances[token][account] = new(big.Int).Add(cur, amount)
}

func (f *fakeTokens) debit(token, account common.Address, amount *big.Int) error {
	cur := f.balances[token][account]
	if cur == nil || cur.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	f.balances[token][account] = new(big.Int).Sub(cur, amount)
	return nil
}

func (f *fakeTokens) TransferFrom(_ context.Context, token, owner, recipient common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := allowanceKey(owner, recipient)
	allowed := f.allowances[token][key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return errors.New("transfer amount exceeds allowance")
	}
	if err := f.debit(token, owner, amount); err != nil {
		return err
	}
	f.allowances[token][key] = new(big.Int).Sub(allowed, amount)
	f.credit(token, recipient, amount)
	return nil
}

func (f *fakeTokens) Transfer(_ context.Context, token, to common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransfer {
		return errors.New("token transfer reverted")
	}
	if err := f.debit(token, f.custody, amount); err != nil {
		return err
	}
	f.credit(token, to, amount)
	return nil
}

func (f *fakeTokens) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.balances[token][account]
	if cur == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cur), nil
}

func (f *fakeTokens) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.allowances[token][allowanceKey(owner, spender)]
	if cur == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cur), nil
}

var _ domain.TokenProtocol = (*fakeTokens)(nil)

type fixture struct {
	ledger *Ledger
	tokens *fakeTokens
	trades *memory.TradeStore
	plans  *memory.DCAPlanStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens := newFakeTokens(custody)
	trades := memory.NewTradeStore()
	plans := memory.NewDCAPlanStore()

	l := New(
		trades,
		plans,
		tokens,
		cachemem.NewLockManager(),
		cachemem.NewSignalBus(),
		memory.NewAuditStore(),
		custody,
		slog.New(slog.DiscardHandler),
	)
	return &fixture{ledger: l, tokens: tokens, trades: trades, plans: plans}
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func stopLossReq(amount *big.Int) CreateTradeRequest {
	return CreateTradeRequest{
		Trader:       alice,
		Payer:        alice,
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     amount,
		TriggerPrice: big.NewInt(180000000000), // $1800, 8 decimals
		ExpiresIn:    86400 * time.Second,
	}
}

func TestCreateStopLoss(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(10))
	fx.tokens.approve(weth, alice, custody, eth(1))

	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	trade, err := fx.ledger.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStopLoss, trade.Strategy)
	assert.False(t, trade.IsAboveTarget)
	assert.Equal(t, domain.TradeStatusPending, trade.Status)
	assert.Equal(t, alice, trade.Trader)
	assert.Equal(t, alice, trade.Payer)

	// Escrow moved from alice into custody.
	bal, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(9).Cmp(bal))
	held, _ := fx.tokens.BalanceOf(ctx, weth, custody)
	assert.Zero(t, eth(1).Cmp(held))
}

func TestCreateTakeProfitSetsAboveTarget(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))

	req := stopLossReq(eth(1))
	req.TriggerPrice = big.NewInt(250000000000)
	id, err := fx.ledger.CreateTakeProfit(ctx, req)
	require.NoError(t, err)

	trade, err := fx.ledger.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyTakeProfit, trade.Strategy)
	assert.True(t, trade.IsAboveTarget)
}

func TestCreateLimitOrderBuySell(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(2))
	fx.tokens.approve(weth, alice, custody, eth(2))

	buyID, err := fx.ledger.CreateLimitOrder(ctx, stopLossReq(eth(1)), true)
	require.NoError(t, err)
	sellID, err := fx.ledger.CreateLimitOrder(ctx, stopLossReq(eth(1)), false)
	require.NoError(t, err)

	buy, _ := fx.ledger.GetTrade(ctx, buyID)
	sell, _ := fx.ledger.GetTrade(ctx, sellID)
	assert.Equal(t, domain.StrategyLimitOrder, buy.Strategy)
	assert.True(t, buy.IsAboveTarget)
	assert.False(t, sell.IsAboveTarget)
}

func TestCreateTradeValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	req := stopLossReq(eth(1))
	req.TokenIn = domain.ZeroAddress
	_, err := fx.ledger.CreateStopLoss(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	req = stopLossReq(big.NewInt(0))
	_, err = fx.ledger.CreateStopLoss(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = stopLossReq(eth(1))
	req.ExpiresIn = 0
	_, err = fx.ledger.CreateStopLoss(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreateTradeInsufficientAllowance(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(10))
	// No approval given.
	_, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	// Nothing was pulled.
	bal, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(10).Cmp(bal))
}

func TestCancelTradeRefundsExactly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))

	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	before, _ := fx.tokens.BalanceOf(ctx, weth, alice)

	refund, err := fx.ledger.CancelTrade(ctx, alice, id)
	require.NoError(t, err)
	assert.Zero(t, eth(1).Cmp(refund))

	after, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(new(big.Int).Sub(after, before)))

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusCancelled, trade.Status)
}

func TestCancelTradeTwiceFailsOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	_, err = fx.ledger.CancelTrade(ctx, alice, id)
	require.NoError(t, err)

	// Second cancel fails with a state error and moves no funds.
	before, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	_, err = fx.ledger.CancelTrade(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrNotPending)
	after, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, before.Cmp(after))
}

func TestCancelTradeNotOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	_, err = fx.ledger.CancelTrade(ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrNotTradeOwner)

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusPending, trade.Status)
}

func TestCancelTradeRollsBackOnTransferFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	fx.tokens.failTransfer = true
	_, err = fx.ledger.CancelTrade(ctx, alice, id)
	require.Error(t, err)

	// The trade returned to Pending so escrow and ledger agree.
	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusPending, trade.Status)

	fx.tokens.failTransfer = false
	_, err = fx.ledger.CancelTrade(ctx, alice, id)
	assert.NoError(t, err)
}

func TestExecuteTrade(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	err = fx.ledger.ExecuteTrade(ctx, id, SettlementResult{AmountOut: big.NewInt(1800e6)})
	require.NoError(t, err)

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusExecuted, trade.Status)

	// An executed trade cannot be cancelled or re-executed.
	_, err = fx.ledger.CancelTrade(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrNotPending)
	err = fx.ledger.ExecuteTrade(ctx, id, SettlementResult{})
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestExecuteTradeExpired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	// Jump the clock past expiry.
	fx.ledger.WithClock(func() time.Time { return time.Now().Add(87000 * time.Second) })

	err = fx.ledger.ExecuteTrade(ctx, id, SettlementResult{})
	assert.ErrorIs(t, err, domain.ErrTradeExpired)

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusPending, trade.Status)
}

func TestExpireTradeRefunds(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	// Not yet expired.
	_, err = fx.ledger.ExpireTrade(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotPending)

	fx.ledger.WithClock(func() time.Time { return time.Now().Add(87000 * time.Second) })

	refund, err := fx.ledger.ExpireTrade(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, eth(1).Cmp(refund))

	trade, _ := fx.ledger.GetTrade(ctx, id)
	assert.Equal(t, domain.TradeStatusExpired, trade.Status)
	assert.NotNil(t, trade.CancelledAt, "expiry is a refund and stamps the cancellation time")
	bal, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(bal))
}

func TestGetUserTradesInsertionOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(3))
	fx.tokens.approve(weth, alice, custody, eth(3))
	fx.tokens.mint(weth, bob, eth(1))
	fx.tokens.approve(weth, bob, custody, eth(1))

	id1, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	bobReq := stopLossReq(eth(1))
	bobReq.Trader, bobReq.Payer = bob, bob
	_, err = fx.ledger.CreateTakeProfit(ctx, bobReq)
	require.NoError(t, err)

	id3, err := fx.ledger.CreateTakeProfit(ctx, stopLossReq(eth(1)))
	require.NoError(t, err)

	trades, err := fx.ledger.GetUserTrades(ctx, alice)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, id1, trades[0].ID)
	assert.Equal(t, id3, trades[1].ID)

	bobTrades, err := fx.ledger.GetUserTrades(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bobTrades, 1)
}

func TestEscrowConservation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(5))
	fx.tokens.approve(weth, alice, custody, eth(5))

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := fx.ledger.CreateStopLoss(ctx, stopLossReq(eth(1)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// One cancelled, one executed, one still pending.
	_, err := fx.ledger.CancelTrade(ctx, alice, ids[0])
	require.NoError(t, err)
	require.NoError(t, fx.ledger.ExecuteTrade(ctx, ids[1], SettlementResult{}))

	// escrowed(3) == refunded(1) + moved-on-execute(1, still in custody
	// until the gateway settles) + pending(1).
	custodyBal, _ := fx.tokens.BalanceOf(ctx, weth, custody)
	assert.Zero(t, eth(2).Cmp(custodyBal))
	aliceBal, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(3).Cmp(aliceBal))
}

func TestCreateDCAPlanEscrowsTotal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	amountPerInterval := new(big.Int).Div(eth(1), big.NewInt(10)) // 0.1
	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))

	id, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader:            alice,
		Payer:             alice,
		TokenIn:           weth,
		TokenOut:          usdc,
		AmountPerInterval: amountPerInterval,
		Interval:          time.Hour,
		TotalIntervals:    10,
	})
	require.NoError(t, err)

	// 0.1 * 10 escrows exactly 1.0.
	custodyBal, _ := fx.tokens.BalanceOf(ctx, weth, custody)
	assert.Zero(t, eth(1).Cmp(custodyBal))

	plan, err := fx.ledger.GetDCAPlan(ctx, id)
	require.NoError(t, err)
	assert.True(t, plan.Active)
	assert.Equal(t, int32(10), plan.TotalIntervals)
	assert.Equal(t, int32(0), plan.ExecutedIntervals)
}

func TestCreateDCAPlanValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: big.NewInt(1), Interval: time.Hour, TotalIntervals: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: big.NewInt(1), Interval: 0, TotalIntervals: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCancelDCAPlanFullRefund(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	amountPerInterval := new(big.Int).Div(eth(1), big.NewInt(10))
	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))

	id, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: amountPerInterval, Interval: time.Hour, TotalIntervals: 10,
	})
	require.NoError(t, err)

	// Cancelling before any interval executes refunds exactly 1.0.
	refund, err := fx.ledger.CancelDCAPlan(ctx, alice, id)
	require.NoError(t, err)
	assert.Zero(t, eth(1).Cmp(refund))

	bal, _ := fx.tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(bal))

	plan, _ := fx.ledger.GetDCAPlan(ctx, id)
	assert.False(t, plan.Active)

	// Second cancel is a state error.
	_, err = fx.ledger.CancelDCAPlan(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrPlanInactive)
}

func TestCancelDCAPlanPartialRefund(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	amountPerInterval := new(big.Int).Div(eth(1), big.NewInt(10))
	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))

	id, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: amountPerInterval, Interval: time.Hour, TotalIntervals: 10,
	})
	require.NoError(t, err)

	// Execute three intervals, advancing the clock past each.
	base := time.Now()
	for i := 1; i <= 3; i++ {
		offset := time.Duration(i) * (time.Hour + time.Minute)
		fx.ledger.WithClock(func() time.Time { return base.Add(offset) })
		require.NoError(t, fx.ledger.MarkDCAIntervalExecuted(ctx, id))
	}

	refund, err := fx.ledger.CancelDCAPlan(ctx, alice, id)
	require.NoError(t, err)

	// 0.1 * (10 - 3) = 0.7 refunded.
	want := new(big.Int).Mul(amountPerInterval, big.NewInt(7))
	assert.Zero(t, want.Cmp(refund))
}

func TestCancelDCAPlanNotOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: big.NewInt(1e17), Interval: time.Hour, TotalIntervals: 10,
	})
	require.NoError(t, err)

	_, err = fx.ledger.CancelDCAPlan(ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrNotTradeOwner)
}

func TestMarkDCAIntervalDeactivatesWhenComplete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.tokens.mint(weth, alice, eth(1))
	fx.tokens.approve(weth, alice, custody, eth(1))
	id, err := fx.ledger.CreateDCAPlan(ctx, CreateDCAPlanRequest{
		Trader: alice, Payer: alice, TokenIn: weth, TokenOut: usdc,
		AmountPerInterval: big.NewInt(5e17), Interval: time.Minute, TotalIntervals: 2,
	})
	require.NoError(t, err)

	base := time.Now()
	for i := 1; i <= 2; i++ {
		offset := time.Duration(i) * (2 * time.Minute)
		fx.ledger.WithClock(func() time.Time { return base.Add(offset) })
		require.NoError(t, fx.ledger.MarkDCAIntervalExecuted(ctx, id))
	}

	plan, _ := fx.ledger.GetDCAPlan(ctx, id)
	assert.False(t, plan.Active)
	assert.Equal(t, int32(2), plan.ExecutedIntervals)

	err = fx.ledger.MarkDCAIntervalExecuted(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPlanInactive)
}

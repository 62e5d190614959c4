package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "stratvault/internal/cache/memory"
	"stratvault/internal/domain"
	"stratvault/internal/store/memory"
)

const (
	arbSelector     = uint64(4949039107694359620)
	unknownSelector = uint64(999999)
)

var remoteSender = common.HexToAddress("0xe000000000000000000000000000000000000001")

// fakeBridge records sends and quotes a flat fee.
type fakeBridge struct {
	sent    []domain.BridgeSendRequest
	fee     *big.Int
	sendErr error
}

func (f *fakeBridge) Send(_ context.Context, req domain.BridgeSendRequest) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, req)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeBridge) QuoteFee(_ context.Context, _ domain.BridgeSendRequest) (*big.Int, error) {
	return new(big.Int).Set(f.fee), nil
}

var _ domain.BridgeProtocol = (*fakeBridge)(nil)

func newBridgeFixture(t *testing.T) (*BridgeGateway, *fakeTokens, *fakeBridge, *memory.EngineStateStore) {
	t.Helper()
	tokens := newFakeTokens(custody)
	bridge := &fakeBridge{fee: big.NewInt(1e15)}
	state := memory.NewEngineStateStore()
	g := NewBridgeGateway(
		bridge,
		tokens,
		memory.NewChainConfigStore(),
		state,
		cachemem.NewSignalBus(),
		memory.NewAuditStore(),
		custody,
		owner,
		slog.New(slog.DiscardHandler),
	)
	return g, tokens, bridge, state
}

func TestSetSupportedChain(t *testing.T) {
	g, _, _, _ := newBridgeFixture(t)
	ctx := context.Background()

	err := g.SetSupportedChain(ctx, alice, arbSelector, true)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	ok, err := g.IsChainSupported(ctx, arbSelector)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	ok, err = g.IsChainSupported(ctx, arbSelector)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, false))
	ok, _ = g.IsChainSupported(ctx, arbSelector)
	assert.False(t, ok)
}

func TestSetTrustedSenderPreservesSupport(t *testing.T) {
	g, _, _, _ := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	require.NoError(t, g.SetTrustedSender(ctx, owner, arbSelector, remoteSender))

	ok, err := g.IsChainSupported(ctx, arbSelector)
	require.NoError(t, err)
	assert.True(t, ok)

	err = g.SetTrustedSender(ctx, alice, arbSelector, remoteSender)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)
}

func TestBridgeTokens(t *testing.T) {
	g, tokens, bridge, state := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	tokens.mint(weth, alice, eth(2))
	tokens.approve(weth, alice, custody, eth(2))

	msgID, err := g.BridgeTokens(ctx, BridgeRequest{
		Payer:                    alice,
		DestinationChainSelector: arbSelector,
		Receiver:                 alice,
		Token:                    weth,
		Amount:                   eth(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)
	require.Len(t, bridge.sent, 1)
	assert.Equal(t, arbSelector, bridge.sent[0].DestinationChainSelector)

	st, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, eth(1).Cmp(st.TotalBridgedOut))
	assert.Zero(t, st.TotalBridgedIn.Sign())
}

func TestBridgeUnsupportedChainMovesNoFunds(t *testing.T) {
	g, tokens, _, _ := newBridgeFixture(t)
	ctx := context.Background()

	tokens.mint(weth, alice, eth(1))
	tokens.approve(weth, alice, custody, eth(1))

	_, err := g.BridgeTokens(ctx, BridgeRequest{
		Payer:                    alice,
		DestinationChainSelector: unknownSelector,
		Receiver:                 alice,
		Token:                    weth,
		Amount:                   eth(1),
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	bal, _ := tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(bal))
}

func TestBridgeSendFailureRefunds(t *testing.T) {
	g, tokens, bridge, state := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	tokens.mint(weth, alice, eth(1))
	tokens.approve(weth, alice, custody, eth(1))
	bridge.sendErr = errors.New("router unreachable")

	_, err := g.BridgeTokens(ctx, BridgeRequest{
		Payer:                    alice,
		DestinationChainSelector: arbSelector,
		Receiver:                 alice,
		Token:                    weth,
		Amount:                   eth(1),
	})
	require.Error(t, err)

	bal, _ := tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(bal))
	st, _ := state.Get(ctx)
	assert.Zero(t, st.TotalBridgedOut.Sign())
}

func TestGetBridgeFeeEstimate(t *testing.T) {
	g, _, _, _ := newBridgeFixture(t)

	fee, err := g.GetBridgeFeeEstimate(context.Background(), BridgeRequest{
		DestinationChainSelector: arbSelector,
		Receiver:                 alice,
		Token:                    weth,
		Amount:                   eth(1),
	})
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(1e15).Cmp(fee))
}

func TestHandleInboundTrustedSender(t *testing.T) {
	g, tokens, _, state := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	require.NoError(t, g.SetTrustedSender(ctx, owner, arbSelector, remoteSender))
	tokens.mint(weth, custody, eth(1))

	err := g.HandleInbound(ctx, domain.InboundMessage{
		MessageID:           "in-1",
		SourceChainSelector: arbSelector,
		Sender:              remoteSender,
		Token:               weth,
		Amount:              eth(1),
		Receiver:            alice,
	})
	require.NoError(t, err)

	bal, _ := tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, eth(1).Cmp(bal))
	st, _ := state.Get(ctx)
	assert.Zero(t, eth(1).Cmp(st.TotalBridgedIn))
}

func TestHandleInboundUntrustedSender(t *testing.T) {
	g, tokens, _, state := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, g.SetSupportedChain(ctx, owner, arbSelector, true))
	require.NoError(t, g.SetTrustedSender(ctx, owner, arbSelector, remoteSender))
	tokens.mint(weth, custody, eth(1))

	err := g.HandleInbound(ctx, domain.InboundMessage{
		MessageID:           "in-2",
		SourceChainSelector: arbSelector,
		Sender:              alice, // not the trusted sender
		Token:               weth,
		Amount:              eth(1),
		Receiver:            alice,
	})
	assert.ErrorIs(t, err, domain.ErrUntrustedSender)

	// Unconfigured source chain is rejected the same way.
	err = g.HandleInbound(ctx, domain.InboundMessage{
		MessageID:           "in-3",
		SourceChainSelector: unknownSelector,
		Sender:              remoteSender,
		Token:               weth,
		Amount:              eth(1),
		Receiver:            alice,
	})
	assert.ErrorIs(t, err, domain.ErrUntrustedSender)

	st, _ := state.Get(ctx)
	assert.Zero(t, st.TotalBridgedIn.Sign())
	bal, _ := tokens.BalanceOf(ctx, weth, alice)
	assert.Zero(t, bal.Sign())
}

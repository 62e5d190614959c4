package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// BridgeGateway submits outbound cross-chain transfers and credits verified
// inbound ones. Destination chains must be explicitly enabled, and inbound
// messages are only accepted from the configured trusted sender for their
// source chain.
type BridgeGateway struct {
	bridge domain.BridgeProtocol
	tokens domain.TokenProtocol
	chains domain.ChainConfigStore
	state  domain.EngineStateStore
	bus    domain.SignalBus
	audit  domain.AuditStore

	custody common.Address
	owner   common.Address
	logger  *slog.Logger
}

// NewBridgeGateway creates a BridgeGateway. owner is the only identity allowed
// to change chain configuration.
func NewBridgeGateway(
	bridge domain.BridgeProtocol,
	tokens domain.TokenProtocol,
	chains domain.ChainConfigStore,
	state domain.EngineStateStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	custody common.Address,
	owner common.Address,
	logger *slog.Logger,
) *BridgeGateway {
	return &BridgeGateway{
		bridge:  bridge,
		tokens:  tokens,
		chains:  chains,
		state:   state,
		bus:     bus,
		audit:   audit,
		custody: custody,
		owner:   owner,
		logger:  logger.With(slog.String("component", "bridge_gateway")),
	}
}

// SetSupportedChain enables or disables a destination chain. Owner only. The
// trusted sender already configured for the chain is preserved.
func (g *BridgeGateway) SetSupportedChain(ctx context.Context, caller common.Address, chainSelector uint64, enabled bool) error {
	if caller != g.owner {
		return domain.ErrOwnerOnly
	}
	cfg := domain.ChainConfig{ChainSelector: chainSelector, Supported: enabled}
	if prev, err := g.chains.Get(ctx, chainSelector); err == nil {
		cfg.TrustedSender = prev.TrustedSender
	}
	if err := g.chains.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("gateway: set supported chain %d: %w", chainSelector, err)
	}
	g.logger.InfoContext(ctx, "chain support updated",
		slog.Uint64("chain_selector", chainSelector),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// SetTrustedSender configures the only remote identity whose inbound messages
// from chainSelector will be credited. Owner only.
func (g *BridgeGateway) SetTrustedSender(ctx context.Context, caller common.Address, chainSelector uint64, sender common.Address) error {
	if caller != g.owner {
		return domain.ErrOwnerOnly
	}
	cfg := domain.ChainConfig{ChainSelector: chainSelector, TrustedSender: sender}
	if prev, err := g.chains.Get(ctx, chainSelector); err == nil {
		cfg.Supported = prev.Supported
	}
	if err := g.chains.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("gateway: set trusted sender %d: %w", chainSelector, err)
	}
	g.logger.InfoContext(ctx, "trusted sender updated",
		slog.Uint64("chain_selector", chainSelector),
		slog.String("sender", sender.Hex()),
	)
	return nil
}

// IsChainSupported reports whether outbound transfers to chainSelector are
// enabled.
func (g *BridgeGateway) IsChainSupported(ctx context.Context, chainSelector uint64) (bool, error) {
	cfg, err := g.chains.Get(ctx, chainSelector)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("gateway: chain config %d: %w", chainSelector, err)
	}
	return cfg.Supported, nil
}

// BridgeRequest carries the inputs for one outbound transfer. The Payer
// convention matches SwapRequest: a custody payer means the amount is already
// escrowed.
type BridgeRequest struct {
	Payer                    common.Address
	DestinationChainSelector uint64
	Receiver                 common.Address
	Token                    common.Address
	Amount                   *big.Int
	PayInNative              bool
}

func (r BridgeRequest) validate() error {
	if r.Token == domain.ZeroAddress || r.Receiver == domain.ZeroAddress {
		return domain.ErrInvalidToken
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// BridgeTokens submits an outbound transfer. The destination chain check runs
// before any funds move. On success the outbound volume and bridge counter are
// credited and the protocol's message id returned.
func (g *BridgeGateway) BridgeTokens(ctx context.Context, req BridgeRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	supported, err := g.IsChainSupported(ctx, req.DestinationChainSelector)
	if err != nil {
		return "", err
	}
	if !supported {
		return "", fmt.Errorf("gateway: chain %d: %w", req.DestinationChainSelector, domain.ErrUnsupportedChain)
	}

	if req.Payer != g.custody {
		allowed, err := g.tokens.Allowance(ctx, req.Token, req.Payer, g.custody)
		if err != nil {
			return "", fmt.Errorf("gateway: bridge allowance: %w", err)
		}
		if allowed.Cmp(req.Amount) < 0 {
			return "", domain.ErrInsufficientAllowance
		}
		if err := g.tokens.TransferFrom(ctx, req.Token, req.Payer, g.custody, req.Amount); err != nil {
			return "", fmt.Errorf("gateway: bridge escrow: %w", err)
		}
	}

	messageID, err := g.bridge.Send(ctx, domain.BridgeSendRequest{
		DestinationChainSelector: req.DestinationChainSelector,
		Receiver:                 req.Receiver,
		Token:                    req.Token,
		Amount:                   req.Amount,
		PayInNative:              req.PayInNative,
	})
	if err != nil {
		if req.Payer != g.custody {
			if rbErr := g.tokens.Transfer(ctx, req.Token, req.Payer, req.Amount); rbErr != nil {
				g.logger.ErrorContext(ctx, "bridge refund failed",
					slog.String("payer", req.Payer.Hex()),
					slog.String("amount", req.Amount.String()),
					slog.String("error", rbErr.Error()),
				)
			}
		}
		return "", fmt.Errorf("gateway: bridge send: %w", err)
	}

	if err := g.state.AddBridgedOut(ctx, req.Amount); err != nil {
		g.logger.WarnContext(ctx, "bridged-out volume update failed", slog.String("error", err.Error()))
	}

	g.logger.InfoContext(ctx, "tokens bridged",
		slog.Uint64("chain_selector", req.DestinationChainSelector),
		slog.String("message_id", messageID),
		slog.String("amount", req.Amount.String()),
	)
	if err := g.audit.Log(ctx, "tokens_bridged", map[string]any{
		"chain_selector": req.DestinationChainSelector,
		"message_id":     messageID,
		"token":          req.Token.Hex(),
		"amount":         req.Amount.String(),
		"receiver":       req.Receiver.Hex(),
	}); err != nil {
		g.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
	g.publish(ctx, map[string]any{
		"event":          "tokens_bridged",
		"chain_selector": req.DestinationChainSelector,
		"message_id":     messageID,
		"token":          req.Token.Hex(),
		"amount":         req.Amount.String(),
	})
	return messageID, nil
}

// GetBridgeFeeEstimate quotes the protocol fee for a prospective transfer.
// Pure read, no state change.
func (g *BridgeGateway) GetBridgeFeeEstimate(ctx context.Context, req BridgeRequest) (*big.Int, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	fee, err := g.bridge.QuoteFee(ctx, domain.BridgeSendRequest{
		DestinationChainSelector: req.DestinationChainSelector,
		Receiver:                 req.Receiver,
		Token:                    req.Token,
		Amount:                   req.Amount,
		PayInNative:              req.PayInNative,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: bridge fee quote: %w", err)
	}
	return fee, nil
}

// HandleInbound processes a message delivered from a remote chain. The sender
// must match the trusted sender configured for the source chain; anything else
// is rejected loudly. Verified transfers credit the inbound volume and forward
// the tokens to the message's receiver.
func (g *BridgeGateway) HandleInbound(ctx context.Context, msg domain.InboundMessage) error {
	cfg, err := g.chains.Get(ctx, msg.SourceChainSelector)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("gateway: inbound from chain %d: %w", msg.SourceChainSelector, domain.ErrUntrustedSender)
		}
		return fmt.Errorf("gateway: inbound chain config: %w", err)
	}
	if cfg.TrustedSender == domain.ZeroAddress || cfg.TrustedSender != msg.Sender {
		g.logger.WarnContext(ctx, "inbound message from untrusted sender",
			slog.Uint64("chain_selector", msg.SourceChainSelector),
			slog.String("sender", msg.Sender.Hex()),
			slog.String("message_id", msg.MessageID),
		)
		return fmt.Errorf("gateway: inbound sender %s: %w", msg.Sender.Hex(), domain.ErrUntrustedSender)
	}

	if msg.Receiver != domain.ZeroAddress && msg.Receiver != g.custody {
		if err := g.tokens.Transfer(ctx, msg.Token, msg.Receiver, msg.Amount); err != nil {
			return fmt.Errorf("gateway: inbound forward: %w", err)
		}
	}

	if err := g.state.AddBridgedIn(ctx, msg.Amount); err != nil {
		g.logger.WarnContext(ctx, "bridged-in volume update failed", slog.String("error", err.Error()))
	}
	if err := g.audit.Log(ctx, "tokens_received", map[string]any{
		"chain_selector": msg.SourceChainSelector,
		"message_id":     msg.MessageID,
		"token":          msg.Token.Hex(),
		"amount":         msg.Amount.String(),
		"receiver":       msg.Receiver.Hex(),
	}); err != nil {
		g.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
	g.logger.InfoContext(ctx, "inbound transfer credited",
		slog.Uint64("chain_selector", msg.SourceChainSelector),
		slog.String("message_id", msg.MessageID),
		slog.String("amount", msg.Amount.String()),
	)
	g.publish(ctx, map[string]any{
		"event":          "tokens_received",
		"chain_selector": msg.SourceChainSelector,
		"message_id":     msg.MessageID,
		"token":          msg.Token.Hex(),
		"amount":         msg.Amount.String(),
	})
	return nil
}

// publish sends a bridge event to the signal bus. Failures are logged and
// swallowed; event fan-out never blocks a transfer.
func (g *BridgeGateway) publish(ctx context.Context, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, "bridges", data); err != nil {
		g.logger.WarnContext(ctx, "bridge event publish failed", slog.String("error", err.Error()))
	}
}

// BridgeVolume returns the accumulated outbound and inbound volume.
func (g *BridgeGateway) BridgeVolume(ctx context.Context) (domain.BridgeVolume, error) {
	state, err := g.state.Get(ctx)
	if err != nil {
		return domain.BridgeVolume{}, fmt.Errorf("gateway: bridge volume: %w", err)
	}
	return state.BridgeVolume, nil
}

package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig holds the bridge configuration for one destination chain.
// Bridging to a chain with Supported=false is rejected before any funds move.
type ChainConfig struct {
	ChainSelector uint64
	Supported     bool
	TrustedSender common.Address
	UpdatedAt     time.Time
}

// BridgeDirection distinguishes outbound from inbound transfers.
type BridgeDirection string

const (
	BridgeDirectionOut BridgeDirection = "out"
	BridgeDirectionIn  BridgeDirection = "in"
)

// BridgeTransfer records one cross-chain transfer for volume accounting.
type BridgeTransfer struct {
	MessageID     string
	ChainSelector uint64
	Direction     BridgeDirection
	Token         common.Address
	Amount        *big.Int
	Counterparty  common.Address
	CreatedAt     time.Time
}

// InboundMessage is a delivery surfaced by the cross-chain messaging protocol.
// Sender is the originating identity on the source chain; it must match the
// trusted sender configured for SourceChainSelector before funds are credited.
type InboundMessage struct {
	MessageID           string
	SourceChainSelector uint64
	Sender              common.Address
	Token               common.Address
	Amount              *big.Int
	Receiver            common.Address
}

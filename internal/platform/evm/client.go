// Package evm holds the on-chain adapters: ERC-20 transfers, Uniswap V3
// swaps, Chainlink price reads, and CCIP cross-chain sends. Each adapter
// implements one of the protocol interfaces in internal/domain against a
// shared RPC client.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"stratvault/internal/crypto"
)

const receiptTimeout = 2 * time.Minute

// Client wraps an RPC connection and the custody signing key. All adapters
// in this package transact from the custody address.
type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// Dial connects to an RPC endpoint and resolves the custody key.
func Dial(ctx context.Context, rpcURL string, keyCfg crypto.KeyConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}

	keyHex, err := crypto.LoadKey(keyCfg)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: load key: %w", err)
	}
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: parse key: %w", err)
	}

	return &Client{
		eth:     eth,
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}, nil
}

// Address returns the custody address derived from the signing key.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the connected chain's id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("evm: transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// waitMined blocks until the transaction is mined and checks its status.
func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("evm: wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: transaction %s reverted", tx.Hash().Hex())
	}
	return nil
}

package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ERC20 implements domain.TokenProtocol over standard token contracts. One
// adapter serves every token; the contract is bound per call.
type ERC20 struct {
	client *Client
	parsed abi.ABI
}

// NewERC20 creates the token adapter.
func NewERC20(client *Client) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}
	return &ERC20{client: client, parsed: parsed}, nil
}

func (e *ERC20) bound(token common.Address) *bind.BoundContract {
	return bind.NewBoundContract(token, e.parsed, e.client.eth, e.client.eth, e.client.eth)
}

// TransferFrom pulls tokens from owner to recipient using the custody
// account's allowance. Blocks until mined.
func (e *ERC20) TransferFrom(ctx context.Context, token, owner, recipient common.Address, amount *big.Int) error {
	opts, err := e.client.transactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := e.bound(token).Transact(opts, "transferFrom", owner, recipient, amount)
	if err != nil {
		return fmt.Errorf("evm: transferFrom %s: %w", token.Hex(), err)
	}
	return e.client.waitMined(ctx, tx)
}

// Transfer sends tokens from the custody account. Blocks until mined.
func (e *ERC20) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	opts, err := e.client.transactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := e.bound(token).Transact(opts, "transfer", to, amount)
	if err != nil {
		return fmt.Errorf("evm: transfer %s: %w", token.Hex(), err)
	}
	return e.client.waitMined(ctx, tx)
}

// BalanceOf reads an account's token balance.
func (e *ERC20) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := e.bound(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", token.Hex(), err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Allowance reads how much spender may pull from owner.
func (e *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	err := e.bound(token).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("evm: allowance %s: %w", token.Hex(), err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Approve grants spender an allowance from the custody account. Used when
// settlement contracts (router, bridge) pull custody funds.
func (e *ERC20) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	opts, err := e.client.transactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := e.bound(token).Transact(opts, "approve", spender, amount)
	if err != nil {
		return fmt.Errorf("evm: approve %s: %w", token.Hex(), err)
	}
	return e.client.waitMined(ctx, tx)
}

var _ domain.TokenProtocol = (*ERC20)(nil)

package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

const aggregatorABI = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// Aggregator implements domain.PriceSource over Chainlink-style aggregator
// contracts. Decimals are read once per source and memoized; an aggregator's
// decimal count never changes after deployment.
type Aggregator struct {
	client *Client
	parsed abi.ABI

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewAggregator creates the price-source adapter.
func NewAggregator(client *Client) (*Aggregator, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse aggregator abi: %w", err)
	}
	return &Aggregator{
		client:   client,
		parsed:   parsed,
		decimals: make(map[common.Address]uint8),
	}, nil
}

func (a *Aggregator) bound(source common.Address) *bind.BoundContract {
	return bind.NewBoundContract(source, a.parsed, a.client.eth, a.client.eth, a.client.eth)
}

// LatestRoundData reads the current round from one aggregator.
func (a *Aggregator) LatestRoundData(ctx context.Context, source common.Address) (domain.PriceQuote, error) {
	decimals, err := a.sourceDecimals(ctx, source)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	var out []interface{}
	err = a.bound(source).Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData")
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("evm: latestRoundData %s: %w", source.Hex(), err)
	}

	roundID := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	answer := abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	updatedAt := abi.ConvertType(out[3], new(big.Int)).(*big.Int)

	if answer.Sign() <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("evm: aggregator %s answered %s", source.Hex(), answer)
	}

	return domain.PriceQuote{
		RoundID:   roundID,
		Price:     answer,
		Decimals:  decimals,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (a *Aggregator) sourceDecimals(ctx context.Context, source common.Address) (uint8, error) {
	a.mu.Lock()
	d, ok := a.decimals[source]
	a.mu.Unlock()
	if ok {
		return d, nil
	}

	var out []interface{}
	err := a.bound(source).Call(&bind.CallOpts{Context: ctx}, &out, "decimals")
	if err != nil {
		return 0, fmt.Errorf("evm: decimals %s: %w", source.Hex(), err)
	}
	d = *abi.ConvertType(out[0], new(uint8)).(*uint8)

	a.mu.Lock()
	a.decimals[source] = d
	a.mu.Unlock()
	return d, nil
}

var _ domain.PriceSource = (*Aggregator)(nil)

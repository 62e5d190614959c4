package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DCAPlan is a recurring order that executes AmountPerInterval at each of
// TotalIntervals intervals. The full AmountPerInterval*TotalIntervals is
// escrowed at creation so later intervals can never be under-funded.
type DCAPlan struct {
	ID                int64
	Trader            common.Address
	Payer             common.Address
	TokenIn           common.Address
	TokenOut          common.Address
	AmountPerInterval *big.Int
	Interval          time.Duration
	TotalIntervals    int32
	ExecutedIntervals int32
	NextExecutionAt   time.Time
	Active            bool
	CreatedAt         time.Time
}

// TotalEscrow returns AmountPerInterval * TotalIntervals.
func (p DCAPlan) TotalEscrow() *big.Int {
	return new(big.Int).Mul(p.AmountPerInterval, big.NewInt(int64(p.TotalIntervals)))
}

// RemainingEscrow returns AmountPerInterval * (TotalIntervals - ExecutedIntervals),
// the amount refunded on cancellation.
func (p DCAPlan) RemainingEscrow() *big.Int {
	remaining := int64(p.TotalIntervals - p.ExecutedIntervals)
	if remaining < 0 {
		remaining = 0
	}
	return new(big.Int).Mul(p.AmountPerInterval, big.NewInt(remaining))
}

// Due reports whether the next interval is executable at the given instant.
func (p DCAPlan) Due(now time.Time) bool {
	return p.Active &&
		p.ExecutedIntervals < p.TotalIntervals &&
		!now.Before(p.NextExecutionAt)
}

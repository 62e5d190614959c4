package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizedDecimals is the fixed-point scale returned by normalized price
// reads, regardless of a source's native decimal count.
const NormalizedDecimals = 18

// PriceQuote is one reading from an external price source.
type PriceQuote struct {
	RoundID   *big.Int
	Price     *big.Int // fixed-point, Decimals scale
	Decimals  uint8
	UpdatedAt time.Time
}

// Normalized returns the price scaled to NormalizedDecimals:
// price * 10^(18 - decimals).
func (q PriceQuote) Normalized() *big.Int {
	if q.Price == nil {
		return nil
	}
	if q.Decimals >= NormalizedDecimals {
		return new(big.Int).Set(q.Price)
	}
	scale := new(big.Int).Exp(
		big.NewInt(10),
		big.NewInt(int64(NormalizedDecimals-q.Decimals)),
		nil,
	)
	return new(big.Int).Mul(q.Price, scale)
}

// AtPriceScale returns the price rescaled to PriceDecimals, the scale trade
// trigger prices are stored at. Sources with more native decimals lose the
// extra precision.
func (q PriceQuote) AtPriceScale() *big.Int {
	if q.Price == nil {
		return nil
	}
	switch {
	case q.Decimals == PriceDecimals:
		return new(big.Int).Set(q.Price)
	case q.Decimals < PriceDecimals:
		scale := new(big.Int).Exp(
			big.NewInt(10),
			big.NewInt(int64(PriceDecimals-q.Decimals)),
			nil,
		)
		return new(big.Int).Mul(q.Price, scale)
	default:
		scale := new(big.Int).Exp(
			big.NewInt(10),
			big.NewInt(int64(q.Decimals-PriceDecimals)),
			nil,
		)
		return new(big.Int).Quo(q.Price, scale)
	}
}

// Stale reports whether the quote is older than threshold at the given instant.
func (q PriceQuote) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(q.UpdatedAt) > threshold
}

// PriceFeedEntry maps a symbol to its configured external price source.
type PriceFeedEntry struct {
	Symbol    string
	Source    common.Address
	Decimals  uint8
	UpdatedAt time.Time
}

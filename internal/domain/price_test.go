package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceQuoteAtPriceScale(t *testing.T) {
	tests := []struct {
		name     string
		price    *big.Int
		decimals uint8
		want     *big.Int
	}{
		{"native scale passes through", big.NewInt(200000000000), 8, big.NewInt(200000000000)},
		{"low decimal source scales up", big.NewInt(200000), 2, big.NewInt(200000000000)},
		{"wide source scales down", new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e18)), 18, big.NewInt(200000000000)},
		{"wide source drops sub-scale digits", big.NewInt(1234567890123), 12, big.NewInt(123456789)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := PriceQuote{Price: tt.price, Decimals: tt.decimals}
			assert.Zero(t, tt.want.Cmp(q.AtPriceScale()))
		})
	}
}

func TestPriceQuoteAtPriceScaleNilPrice(t *testing.T) {
	assert.Nil(t, PriceQuote{Decimals: 8}.AtPriceScale())
}

func TestPriceQuoteAtPriceScaleLeavesQuoteUntouched(t *testing.T) {
	price := big.NewInt(200000)
	q := PriceQuote{Price: price, Decimals: 2}
	q.AtPriceScale()
	assert.Zero(t, big.NewInt(200000).Cmp(price))
}

package portfolio

import (
	"testing"

	"qtrader/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestBuyRejectedWhenFundsShort(t *testing.T) {
	s := New(d(50), []market.AssetID{"BTCUSDT"})
	ok := s.Buy(0, d(100), d(1), decimal.Zero)
	assert.False(t, ok)
	assert.True(t, s.Balance().Equal(d(50)))
	assert.True(t, s.Holding(0).IsZero())
}

func TestBuyAndSellWithCommission(t *testing.T) {
	s := New(d(1000), []market.AssetID{"BTCUSDT"})
	assert.True(t, s.Buy(0, d(100), d(1), d(0.001)))
	assert.True(t, s.Balance().Equal(d(899.9)))
	assert.True(t, s.Holding(0).Equal(d(1)))

	assert.True(t, s.Sell(0, d(100), d(1), d(0.001)))
	assert.True(t, s.Balance().Equal(d(999.8)))
	assert.True(t, s.Holding(0).IsZero())
}

func TestSellRejectedWithoutHoldings(t *testing.T) {
	s := New(d(1000), []market.AssetID{"BTCUSDT", "ETHUSDT"})
	assert.False(t, s.Sell(1, d(10), d(1), decimal.Zero))
	assert.True(t, s.Balance().Equal(d(1000)))
}

func TestBuyExactBalanceLeavesZero(t *testing.T) {
	s := New(d(100), []market.AssetID{"BTCUSDT"})
	assert.True(t, s.Buy(0, d(100), d(1), decimal.Zero))
	assert.True(t, s.Balance().IsZero())
	assert.False(t, s.Buy(0, d(100), d(1), decimal.Zero))
}

func TestValueAndSnapshot(t *testing.T) {
	s := New(d(1000), []market.AssetID{"BTCUSDT", "ETHUSDT"})
	s.Buy(0, d(100), d(2), decimal.Zero)
	total := s.Value([]decimal.Decimal{d(105), d(7)})
	assert.True(t, total.Equal(d(1010)))

	snap := s.Snapshot(total)
	assert.Equal(t, []market.AssetID{"BTCUSDT", "ETHUSDT"}, snap.Order)
	assert.Equal(t, "BTCUSDT: 2.00, ETHUSDT: 0.00", snap.HoldingsString())
}

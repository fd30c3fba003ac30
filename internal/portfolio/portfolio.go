// Package portfolio holds the simulated account: a cash balance and a
// quantity per asset, all in decimal so fills and commissions do not drift
// across thousands of episodes.
package portfolio

import (
	"fmt"
	"strings"

	"qtrader/internal/market"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

// State is the mutable portfolio. Holdings are kept in the fixed asset order
// given at construction. Balance and every holding stay >= 0: trades that
// would break either are rejected.
type State struct {
	balance  decimal.Decimal
	assets   []market.AssetID
	holdings []decimal.Decimal
}

func New(balance decimal.Decimal, assets []market.AssetID) *State {
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	s := &State{
		balance:  balance,
		assets:   append([]market.AssetID(nil), assets...),
		holdings: make([]decimal.Decimal, len(assets)),
	}
	for i := range s.holdings {
		s.holdings[i] = decimal.Zero
	}
	return s
}

func (s *State) Balance() decimal.Decimal { return s.balance }

// Holding returns the quantity held of the asset at index i.
func (s *State) Holding(i int) decimal.Decimal { return s.holdings[i] }

func (s *State) NumAssets() int { return len(s.holdings) }

// BuyCost is price × amount × (1 + commission).
func BuyCost(price, amount, commission decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(decOne.Add(commission))
}

// SellProceeds is price × amount × (1 - commission).
func SellProceeds(price, amount, commission decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(decOne.Sub(commission))
}

// Buy adds amount of asset i if the balance covers the cost including
// commission. It reports whether the fill happened.
func (s *State) Buy(i int, price, amount, commission decimal.Decimal) bool {
	cost := BuyCost(price, amount, commission)
	if s.balance.LessThan(cost) {
		return false
	}
	s.balance = s.balance.Sub(cost)
	s.holdings[i] = s.holdings[i].Add(amount)
	return true
}

// Sell removes amount of asset i if enough is held.
func (s *State) Sell(i int, price, amount, commission decimal.Decimal) bool {
	if s.holdings[i].LessThan(amount) {
		return false
	}
	s.holdings[i] = s.holdings[i].Sub(amount)
	s.balance = s.balance.Add(SellProceeds(price, amount, commission))
	return true
}

// Value is balance + Σ holdings[i] × prices[i].
func (s *State) Value(prices []decimal.Decimal) decimal.Decimal {
	total := s.balance
	for i, qty := range s.holdings {
		if qty.IsZero() {
			continue
		}
		total = total.Add(qty.Mul(prices[i]))
	}
	return total
}

// Snapshot is a read-only copy of the portfolio for reporting.
type Snapshot struct {
	Balance    decimal.Decimal                    `json:"balance"`
	Holdings   map[market.AssetID]decimal.Decimal `json:"holdings"`
	Order      []market.AssetID                   `json:"order"`
	TotalValue decimal.Decimal                    `json:"total_value"`
}

func (s *State) Snapshot(total decimal.Decimal) Snapshot {
	snap := Snapshot{
		Balance:    s.balance,
		Holdings:   make(map[market.AssetID]decimal.Decimal, len(s.assets)),
		Order:      append([]market.AssetID(nil), s.assets...),
		TotalValue: total,
	}
	for i, id := range s.assets {
		snap.Holdings[id] = s.holdings[i]
	}
	return snap
}

// HoldingsString renders "BTCUSDT: 1.00, ETHUSDT: 0.00" in asset order.
func (snap Snapshot) HoldingsString() string {
	parts := make([]string, 0, len(snap.Order))
	for _, id := range snap.Order {
		parts = append(parts, fmt.Sprintf("%s: %s", id, snap.Holdings[id].StringFixed(2)))
	}
	return strings.Join(parts, ", ")
}

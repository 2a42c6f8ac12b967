package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is an integer share count in one instrument. Quantities are
// decimals because they participate in cash accounting, but the
// simulator only ever assigns whole-share values.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (p Position) DeepCopy() *Position {
	return &Position{
		Symbol:   p.Symbol,
		Quantity: p.Quantity,
	}
}

// Portfolio is the simulator's single piece of mutable state: cash plus
// current positions. It is owned exclusively by the portfolio simulator
// and replaced, never shared.
type Portfolio struct {
	Positions map[string]*Position
	Cash      decimal.Decimal

	// LastRebalance is zero until the first rebalance fires.
	LastRebalance time.Time
}

func NewPortfolio(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		Positions: map[string]*Position{},
		Cash:      cash,
	}
}

func (p Portfolio) DeepCopy() *Portfolio {
	newPortfolio := &Portfolio{
		Positions:     map[string]*Position{},
		Cash:          p.Cash,
		LastRebalance: p.LastRebalance,
	}
	for symbol, position := range p.Positions {
		newPortfolio.Positions[symbol] = position.DeepCopy()
	}
	return newPortfolio
}

// TotalValue marks every position to the given prices and adds cash.
// Every held symbol must be quoted; the simulator drops unquoted
// positions before calling this.
func (p Portfolio) TotalValue(priceMap map[string]decimal.Decimal) (decimal.Decimal, error) {
	totalValue := p.Cash
	for symbol, position := range p.Positions {
		price, ok := priceMap[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("cannot compute portfolio total value: price map missing %s", symbol)
		}
		totalValue = totalValue.Add(position.Quantity.Mul(price))
	}
	return totalValue, nil
}

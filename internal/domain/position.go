package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the per-symbol aggregate. Qty is signed: positive long,
// negative short. A position at zero qty is kept for its realized P&L.
type Position struct {
	Symbol        string
	Qty           int64
	AvgPrice      decimal.Decimal
	CostBasis     decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	LastUpdated   time.Time
}

func (p *Position) Flat() bool  { return p.Qty == 0 }
func (p *Position) Long() bool  { return p.Qty > 0 }
func (p *Position) Short() bool { return p.Qty < 0 }

// AbsQty returns |Qty| as a decimal.
func (p *Position) AbsQty() decimal.Decimal {
	if p.Qty < 0 {
		return decimal.NewFromInt(-p.Qty)
	}
	return decimal.NewFromInt(p.Qty)
}

// Mark revalues the position at price.
func (p *Position) Mark(price decimal.Decimal, ts time.Time) {
	p.CurrentPrice = price
	p.MarketValue = price.Mul(p.AbsQty())
	if p.Qty == 0 {
		p.UnrealizedPnL = decimal.Zero
	} else {
		p.UnrealizedPnL = price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Qty))
	}
	p.LastUpdated = ts
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution event. It is never mutated after creation.
type Fill struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Qty        int64
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	Timestamp  time.Time
}

func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Qty))
}

// CashDelta is the change in cash caused by the fill, commission included.
func (f Fill) CashDelta() decimal.Decimal {
	if f.Side == Buy {
		return f.Notional().Add(f.Commission).Neg()
	}
	return f.Notional().Sub(f.Commission)
}

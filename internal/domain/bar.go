package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

func (b Bar) Validate() error {
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return invalidBar("open/high/low/close must be > 0")
	}
	if b.Volume < 0 {
		return invalidBar("volume must be >= 0")
	}
	if b.High.LessThan(b.Low) {
		return invalidBar("high %s < low %s", b.High, b.Low)
	}
	return nil
}

// Contains reports whether price lies within [low, high].
func (b Bar) Contains(price decimal.Decimal) bool {
	return b.Low.LessThanOrEqual(price) && price.LessThanOrEqual(b.High)
}

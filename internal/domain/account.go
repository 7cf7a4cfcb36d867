package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a derived snapshot; only Cash is stored state.
type Account struct {
	AccountID      string
	Cash           decimal.Decimal
	Equity         decimal.Decimal
	BuyingPower    decimal.Decimal
	PositionsValue decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Leverage       decimal.Decimal
	MarginUsed     decimal.Decimal
	Timestamp      time.Time
}

// LedgerState is everything needed to rebuild an engine for one account.
type LedgerState struct {
	AccountID        string
	Cash             decimal.Decimal
	ArchivedRealized decimal.Decimal
	DayStart         time.Time
	DayStartEquity   decimal.Decimal
	Orders           []Order
	Fills            []Fill
	Positions        []Position
	Marks            map[string]decimal.Decimal
	UpdatedAt        time.Time
}

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string
type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"

	New             OrderStatus = "NEW"
	Working         OrderStatus = "WORKING"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Canceled        OrderStatus = "CANCELED"

	Day TimeInForce = "DAY"
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

const MaxSymbolLen = 10

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (t OrderType) Valid() bool {
	switch t {
	case Market, Limit, Stop, StopLimit:
		return true
	}
	return false
}

func (t OrderType) NeedsLimit() bool { return t == Limit || t == StopLimit }
func (t OrderType) NeedsStop() bool  { return t == Stop || t == StopLimit }

func (t TimeInForce) Valid() bool {
	switch t {
	case Day, GTC, IOC, FOK:
		return true
	}
	return false
}

// Live reports whether an order in this status can still fill or be canceled.
func (s OrderStatus) Live() bool {
	return s == New || s == Working || s == PartiallyFilled
}

// OrderRequest is a proposed order before it passes validation and risk.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        int64
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	TIF        TimeInForce
}

func NewMarketOrder(symbol string, side Side, qty int64) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: side, Type: Market, Qty: qty, TIF: Day}
}

func NewLimitOrder(symbol string, side Side, qty int64, limit decimal.Decimal) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: side, Type: Limit, Qty: qty,
		LimitPrice: decimal.NewNullDecimal(limit), TIF: Day}
}

func NewStopOrder(symbol string, side Side, qty int64, stop decimal.Decimal) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: side, Type: Stop, Qty: qty,
		StopPrice: decimal.NewNullDecimal(stop), TIF: Day}
}

func NewStopLimitOrder(symbol string, side Side, qty int64, stop, limit decimal.Decimal) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: side, Type: StopLimit, Qty: qty,
		StopPrice: decimal.NewNullDecimal(stop), LimitPrice: decimal.NewNullDecimal(limit), TIF: Day}
}

// WithTIF returns a copy of the request with the given time in force.
func (r OrderRequest) WithTIF(tif TimeInForce) OrderRequest {
	r.TIF = tif
	return r
}

// Validate checks the shape of the request. It never looks at account state.
func (r OrderRequest) Validate() error {
	sym := strings.TrimSpace(r.Symbol)
	if sym == "" || len(sym) > MaxSymbolLen {
		return invalidOrder("symbol must be 1-%d characters", MaxSymbolLen)
	}
	if !r.Side.Valid() {
		return invalidOrder("invalid side: %q", r.Side)
	}
	if !r.Type.Valid() {
		return invalidOrder("invalid order type: %q", r.Type)
	}
	if r.TIF != "" && !r.TIF.Valid() {
		return invalidOrder("invalid time in force: %q", r.TIF)
	}
	if r.Qty <= 0 {
		return invalidOrder("qty must be > 0")
	}
	if r.Type.NeedsLimit() && !r.LimitPrice.Valid {
		return invalidOrder("limit_price required for %s orders", r.Type)
	}
	if r.Type.NeedsStop() && !r.StopPrice.Valid {
		return invalidOrder("stop_price required for %s orders", r.Type)
	}
	if r.LimitPrice.Valid && !r.LimitPrice.Decimal.IsPositive() {
		return invalidOrder("limit_price must be > 0")
	}
	if r.StopPrice.Valid && !r.StopPrice.Decimal.IsPositive() {
		return invalidOrder("stop_price must be > 0")
	}
	return nil
}

// SignedQty is the position delta this order would produce if fully filled.
func (r OrderRequest) SignedQty() int64 { return r.Side.Sign() * r.Qty }

type Order struct {
	ID           string
	AccountID    string
	Symbol       string
	Side         Side
	Type         OrderType
	Qty          int64
	FilledQty    int64
	RemainingQty int64
	LimitPrice   decimal.NullDecimal
	StopPrice    decimal.NullDecimal
	AvgFillPrice decimal.NullDecimal
	TIF          TimeInForce
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (o *Order) PartiallyFilled() bool {
	return o.FilledQty > 0 && o.FilledQty < o.Qty
}

// Request returns the request the order was created from.
func (o *Order) Request() OrderRequest {
	return OrderRequest{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Type:       o.Type,
		Qty:        o.Qty,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		TIF:        o.TIF,
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %d %s @ %s", o.ID, o.Side, o.Qty, o.Symbol, o.Type)
}

// Package dto holds the JSON shapes shared by the HTTP and gRPC transports.
package dto

import (
	"strings"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

type SubmitOrderRequest struct {
	Symbol      string           `json:"symbol" binding:"required"`
	Side        string           `json:"side" binding:"required"`
	Type        string           `json:"type" binding:"required"`
	Qty         int64            `json:"qty"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce string           `json:"time_in_force,omitempty"`
}

// ToDomain maps the request; side, type and tif are upper-cased, the rest is
// left to domain validation.
func (r SubmitOrderRequest) ToDomain() domain.OrderRequest {
	req := domain.OrderRequest{
		Symbol: r.Symbol,
		Side:   domain.Side(upper(r.Side)),
		Type:   domain.OrderType(upper(r.Type)),
		Qty:    r.Qty,
		TIF:    domain.TimeInForce(upper(r.TimeInForce)),
	}
	if r.LimitPrice != nil {
		req.LimitPrice = decimal.NewNullDecimal(*r.LimitPrice)
	}
	if r.StopPrice != nil {
		req.StopPrice = decimal.NewNullDecimal(*r.StopPrice)
	}
	if req.TIF == "" {
		req.TIF = domain.Day
	}
	return req
}

type Order struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Type         string           `json:"type"`
	Qty          int64            `json:"qty"`
	FilledQty    int64            `json:"filled_qty"`
	RemainingQty int64            `json:"remaining_qty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice    *decimal.Decimal `json:"stop_price,omitempty"`
	AvgFillPrice *decimal.Decimal `json:"avg_fill_price,omitempty"`
	TimeInForce  string           `json:"time_in_force"`
	Status       string           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Qty        int64           `json:"qty"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           int64           `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastUpdated   time.Time       `json:"last_updated"`
}

type Account struct {
	AccountID      string          `json:"account_id"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Leverage       decimal.Decimal `json:"leverage"`
	MarginUsed     decimal.Decimal `json:"margin_used"`
	Timestamp      time.Time       `json:"timestamp"`
}

type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type RiskCheck struct {
	Passed            bool            `json:"passed"`
	Violations        []Violation     `json:"violations"`
	CurrentLeverage   decimal.Decimal `json:"current_leverage"`
	ResultingLeverage decimal.Decimal `json:"resulting_leverage"`
	Timestamp         time.Time       `json:"timestamp"`
}

type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

func (b Bar) ToDomain() domain.Bar {
	return domain.Bar{
		Timestamp: b.Timestamp.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

type ProcessBarResponse struct {
	Symbol string `json:"symbol"`
	Fills  []Fill `json:"fills"`
}

type BroadcastBarResponse struct {
	Symbol string            `json:"symbol"`
	Fills  map[string][]Fill `json:"fills"`
}

type CancelOrderResponse struct {
	Order     Order `json:"order"`
	Cancelled bool  `json:"cancelled"`
}

type PruneResponse struct {
	Pruned []string `json:"pruned"`
}

type ErrorResponse struct {
	Error      string      `json:"error"`
	Violations []Violation `json:"violations,omitempty"`
}

func FromOrder(o domain.Order) Order {
	return Order{
		ID:           o.ID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Qty:          o.Qty,
		FilledQty:    o.FilledQty,
		RemainingQty: o.RemainingQty,
		LimitPrice:   nullable(o.LimitPrice),
		StopPrice:    nullable(o.StopPrice),
		AvgFillPrice: nullable(o.AvgFillPrice),
		TimeInForce:  string(o.TIF),
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func FromOrders(in []domain.Order) []Order {
	out := make([]Order, len(in))
	for i, o := range in {
		out[i] = FromOrder(o)
	}
	return out
}

func FromFill(f domain.Fill) Fill {
	return Fill{
		ID:         f.ID,
		OrderID:    f.OrderID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Price:      f.Price,
		Qty:        f.Qty,
		Commission: f.Commission,
		Slippage:   f.Slippage,
		Timestamp:  f.Timestamp,
	}
}

func FromFills(in []domain.Fill) []Fill {
	out := make([]Fill, len(in))
	for i, f := range in {
		out[i] = FromFill(f)
	}
	return out
}

func FromPositions(in []domain.Position) []Position {
	out := make([]Position, len(in))
	for i, p := range in {
		out[i] = Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgPrice:      p.AvgPrice,
			CostBasis:     p.CostBasis,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			LastUpdated:   p.LastUpdated,
		}
	}
	return out
}

func FromAccount(a domain.Account) Account {
	return Account{
		AccountID:      a.AccountID,
		Cash:           a.Cash,
		Equity:         a.Equity,
		BuyingPower:    a.BuyingPower,
		PositionsValue: a.PositionsValue,
		UnrealizedPnL:  a.UnrealizedPnL,
		RealizedPnL:    a.RealizedPnL,
		Leverage:       a.Leverage,
		MarginUsed:     a.MarginUsed,
		Timestamp:      a.Timestamp,
	}
}

func FromViolations(in []domain.Violation) []Violation {
	out := make([]Violation, len(in))
	for i, v := range in {
		out[i] = Violation{Rule: string(v.Rule), Message: v.Message}
	}
	return out
}

func FromRiskCheck(r domain.RiskCheckResult) RiskCheck {
	return RiskCheck{
		Passed:            r.Passed,
		Violations:        FromViolations(r.Violations),
		CurrentLeverage:   r.CurrentLeverage,
		ResultingLeverage: r.ResultingLeverage,
		Timestamp:         r.Timestamp,
	}
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

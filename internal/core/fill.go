package core

import (
	"github.com/google/uuid"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// FillSimulator turns an order and the current bar into at most one fill.
// Market orders fill at the open with volume-scaled slippage; limit orders
// fill at the limit when the bar trades through it, capped by a share of the
// bar's volume.
type FillSimulator struct {
	TickSize           decimal.Decimal
	SlippageK          decimal.Decimal
	ParticipationRate  decimal.Decimal
	CommissionPerShare decimal.Decimal

	NewID func() string
}

// StopTriggered reports whether a stop order still waiting for its trigger
// fires on bar. Buy stops trigger on the high, sell stops on the low.
func (s FillSimulator) StopTriggered(o *domain.Order, bar domain.Bar) bool {
	if !o.Type.NeedsStop() || o.Status != domain.New || !o.StopPrice.Valid {
		return false
	}
	if o.Side == domain.Buy {
		return bar.High.GreaterThanOrEqual(o.StopPrice.Decimal)
	}
	return bar.Low.LessThanOrEqual(o.StopPrice.Decimal)
}

// AttemptFill returns the fill the order gets on bar, if any. Orders still
// waiting for a stop trigger never fill.
func (s FillSimulator) AttemptFill(o *domain.Order, bar domain.Bar) (domain.Fill, bool) {
	if o.RemainingQty <= 0 || o.Status == domain.New || !o.Status.Live() {
		return domain.Fill{}, false
	}
	switch o.Type {
	case domain.Market, domain.Stop:
		return s.fillMarket(o, bar), true
	case domain.Limit, domain.StopLimit:
		return s.fillLimit(o, bar)
	}
	return domain.Fill{}, false
}

func (s FillSimulator) fillMarket(o *domain.Order, bar domain.Bar) domain.Fill {
	base := bar.Open
	remaining := decimal.NewFromInt(o.RemainingQty)

	ratio := s.ParticipationRate
	if bar.Volume > 0 {
		ratio = decimal.Min(remaining.Div(decimal.NewFromInt(bar.Volume)), s.ParticipationRate)
	}
	slippage := decimal.Max(s.TickSize, s.SlippageK.Mul(ratio).Mul(base))

	var price decimal.Decimal
	if o.Side == domain.Buy {
		price = s.ceilTick(base.Add(slippage))
	} else {
		price = s.floorTick(base.Sub(slippage))
		if !price.IsPositive() {
			price = s.TickSize
		}
	}

	return s.newFill(o, bar, price, o.RemainingQty, slippage.Mul(remaining))
}

func (s FillSimulator) fillLimit(o *domain.Order, bar domain.Bar) (domain.Fill, bool) {
	if !o.LimitPrice.Valid {
		return domain.Fill{}, false
	}
	limit := o.LimitPrice.Decimal
	if !bar.Contains(limit) {
		return domain.Fill{}, false
	}

	maxFillable := decimal.NewFromInt(bar.Volume).Mul(s.ParticipationRate).Floor().IntPart()
	qty := min(o.RemainingQty, maxFillable)
	if qty <= 0 {
		return domain.Fill{}, false
	}

	price := limit
	slippage := decimal.Zero
	if qty < o.RemainingQty {
		// Partial fills pay one tick, kept inside the bar's range.
		if o.Side == domain.Buy {
			price = decimal.Min(s.ceilTick(limit.Add(s.TickSize)), bar.High)
		} else {
			price = decimal.Max(s.floorTick(limit.Sub(s.TickSize)), bar.Low)
		}
		slippage = price.Sub(limit).Abs().Mul(decimal.NewFromInt(qty))
	}
	return s.newFill(o, bar, price, qty, slippage), true
}

func (s FillSimulator) newFill(o *domain.Order, bar domain.Bar, price decimal.Decimal, qty int64, slippage decimal.Decimal) domain.Fill {
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return domain.Fill{
		ID:         newID(),
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Price:      price,
		Qty:        qty,
		Commission: decimal.NewFromInt(qty).Mul(s.CommissionPerShare),
		Slippage:   slippage,
		Timestamp:  bar.Timestamp,
	}
}

func (s FillSimulator) ceilTick(p decimal.Decimal) decimal.Decimal {
	return p.Div(s.TickSize).Ceil().Mul(s.TickSize)
}

func (s FillSimulator) floorTick(p decimal.Decimal) decimal.Decimal {
	return p.Div(s.TickSize).Floor().Mul(s.TickSize)
}

package core

import (
	"sort"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger holds cash, positions and the latest mark per symbol.
type Ledger struct {
	cash             decimal.Decimal
	archivedRealized decimal.Decimal
	positions        map[string]*domain.Position
	marks            map[string]decimal.Decimal
}

func NewLedger(cash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      cash,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]decimal.Decimal),
	}
}

func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// ApplyFill books a fill into exactly one position and the cash balance.
func (l *Ledger) ApplyFill(f domain.Fill) {
	qty := decimal.NewFromInt(f.Qty)
	signed := f.Side.Sign() * f.Qty

	pos, ok := l.positions[f.Symbol]
	switch {
	case !ok:
		pos = &domain.Position{
			Symbol:    f.Symbol,
			Qty:       signed,
			AvgPrice:  f.Price,
			CostBasis: f.Price.Mul(qty),
		}
		l.positions[f.Symbol] = pos

	case pos.Qty == 0:
		pos.Qty = signed
		pos.AvgPrice = f.Price
		pos.CostBasis = f.Price.Mul(qty)

	case (pos.Qty > 0) == (signed > 0):
		old := pos.AbsQty()
		pos.Qty += signed
		total := pos.AvgPrice.Mul(old).Add(f.Price.Mul(qty))
		pos.AvgPrice = total.Div(pos.AbsQty())
		pos.CostBasis = pos.AvgPrice.Mul(pos.AbsQty())

	default:
		oldQty := pos.Qty
		closed := min(abs(oldQty), f.Qty)
		realized := f.Price.Sub(pos.AvgPrice).
			Mul(decimal.NewFromInt(closed)).
			Mul(decimal.NewFromInt(sign(oldQty)))
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.Qty += signed

		switch {
		case pos.Qty == 0:
			pos.AvgPrice = decimal.Zero
			pos.CostBasis = decimal.Zero
		case (pos.Qty > 0) == (oldQty > 0):
			pos.CostBasis = pos.AvgPrice.Mul(pos.AbsQty())
		default:
			pos.AvgPrice = f.Price
			pos.CostBasis = f.Price.Mul(pos.AbsQty())
		}
	}

	pos.Mark(f.Price, f.Timestamp)
	l.cash = l.cash.Add(f.CashDelta())
}

// Mark records the latest price for symbol and revalues its position.
func (l *Ledger) Mark(symbol string, price decimal.Decimal, ts time.Time) {
	l.marks[symbol] = price
	if pos, ok := l.positions[symbol]; ok {
		pos.Mark(price, ts)
	}
}

func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of every position sorted by symbol, flat ones
// included when withFlat is set.
func (l *Ledger) Positions(withFlat bool) []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Qty == 0 && !withFlat {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PruneFlat drops zero-qty positions, folding their realized P&L into the
// archived total so account-level realized P&L is unchanged.
func (l *Ledger) PruneFlat() []string {
	var pruned []string
	for sym, p := range l.positions {
		if p.Qty != 0 {
			continue
		}
		l.archivedRealized = l.archivedRealized.Add(p.RealizedPnL)
		delete(l.positions, sym)
		pruned = append(pruned, sym)
	}
	sort.Strings(pruned)
	return pruned
}

func (l *Ledger) holdings() map[string]int64 {
	out := make(map[string]int64, len(l.positions))
	for sym, p := range l.positions {
		out[sym] = p.Qty
	}
	return out
}

func (l *Ledger) marksCopy() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.marks))
	for sym, p := range l.marks {
		out[sym] = p
	}
	return out
}

// Account derives the account snapshot from cash and positions.
func (l *Ledger) Account(accountID string, maxLeverage decimal.Decimal, ts time.Time) domain.Account {
	positionsValue := decimal.Zero
	unrealized := decimal.Zero
	realized := l.archivedRealized
	for _, p := range l.positions {
		positionsValue = positionsValue.Add(p.MarketValue.Abs())
		unrealized = unrealized.Add(p.UnrealizedPnL)
		realized = realized.Add(p.RealizedPnL)
	}

	equity := l.cash.Add(positionsValue).Add(unrealized)
	leverage := decimal.Zero
	if equity.IsPositive() {
		leverage = positionsValue.Div(equity)
	}

	return domain.Account{
		AccountID:      accountID,
		Cash:           l.cash,
		Equity:         equity,
		BuyingPower:    decimal.Max(decimal.Zero, equity.Mul(maxLeverage).Sub(positionsValue)),
		PositionsValue: positionsValue,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    realized,
		Leverage:       leverage,
		MarginUsed:     decimal.Max(decimal.Zero, positionsValue.Sub(l.cash)),
		Timestamp:      ts,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

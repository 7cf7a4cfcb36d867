package core

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine is the execution engine of one paper account. It owns the order
// registry, fill log, positions and cash, and mutates them only through
// SubmitOrder, ProcessBar, CancelOrder and PruneClosedPositions.
//
// Engine does no locking and no I/O; callers serialize access per account.
type Engine struct {
	cfg    Config
	sim    FillSimulator
	ledger *Ledger
	log    *slog.Logger
	newID  func() string

	orders map[string]*domain.Order
	seq    []string
	// live holds the IDs of NEW, WORKING and PARTIALLY_FILLED orders per
	// symbol in submission order.
	live  map[string][]string
	fills []domain.Fill

	now            time.Time
	dayStart       time.Time
	dayStartEquity decimal.Decimal
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithIDGenerator replaces uuid-based order and fill IDs.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   NewLedger(cfg.InitialCash),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:    uuid.NewString,
		orders: make(map[string]*domain.Order),
		live:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sim = cfg.simulator()
	e.sim.NewID = e.newID
	e.log = e.log.With("account", cfg.AccountID)
	return e, nil
}

// Restore rebuilds an engine from persisted state. Orders are replayed in
// creation order; fills and positions are taken as stored.
func Restore(cfg Config, st domain.LedgerState, opts ...Option) (*Engine, error) {
	cfg.AccountID = st.AccountID
	e, err := NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	e.ledger.cash = st.Cash
	e.ledger.archivedRealized = st.ArchivedRealized
	for _, p := range st.Positions {
		pos := p
		e.ledger.positions[pos.Symbol] = &pos
	}
	for sym, price := range st.Marks {
		e.ledger.marks[sym] = price
	}

	orders := append([]domain.Order(nil), st.Orders...)
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	for i := range orders {
		o := orders[i]
		if o.FilledQty+o.RemainingQty != o.Qty || o.RemainingQty < 0 {
			return nil, fmt.Errorf("restore order %s: filled %d + remaining %d != qty %d",
				o.ID, o.FilledQty, o.RemainingQty, o.Qty)
		}
		e.index(&o)
	}
	e.fills = append(e.fills, st.Fills...)
	e.now = st.UpdatedAt
	e.dayStart = st.DayStart
	e.dayStartEquity = st.DayStartEquity
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// SubmitOrder validates req, runs the risk policy and, when it passes,
// registers the order. A rejected order is never created: the returned
// error is a *domain.ValidationError or a *domain.RejectionError and no state
// changes.
func (e *Engine) SubmitOrder(req domain.OrderRequest, ts time.Time) (*domain.Order, error) {
	req = normalize(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	check := e.checkRisk(req, ts)
	if !check.Passed {
		e.log.Warn("order rejected", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
			"violations", check.Messages())
		return nil, &domain.RejectionError{Check: check}
	}

	e.advance(ts)
	o := &domain.Order{
		ID:           e.newID(),
		AccountID:    e.cfg.AccountID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Qty:          req.Qty,
		RemainingQty: req.Qty,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TIF:          req.TIF,
		Status:       domain.Working,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if o.Type.NeedsStop() {
		o.Status = domain.New
	}
	e.index(o)

	e.log.Info("order submitted", "order_id", o.ID, "side", o.Side, "qty", o.Qty,
		"symbol", o.Symbol, "type", o.Type, "status", o.Status)
	out := *o
	return &out, nil
}

// CheckRisk is a dry run of the risk policy. It does not touch any state.
func (e *Engine) CheckRisk(req domain.OrderRequest, ts time.Time) (domain.RiskCheckResult, error) {
	req = normalize(req)
	if err := req.Validate(); err != nil {
		return domain.RiskCheckResult{}, err
	}
	return e.checkRisk(req, ts), nil
}

func (e *Engine) checkRisk(req domain.OrderRequest, ts time.Time) domain.RiskCheckResult {
	acct := e.Account()
	rc := RiskContext{
		Account:        acct,
		Holdings:       e.ledger.holdings(),
		Marks:          e.ledger.marks,
		DayStartEquity: e.dayStartEquityAt(ts, acct.Equity),
	}
	return CheckRisk(req, rc, e.cfg.Limits, ts)
}

// ProcessBar runs one bar for symbol: it updates the mark, triggers stops,
// attempts fills for every live order on the symbol in submission order,
// books the fills and finally revalues the position at the bar close.
// Replaying a bar fills again; callers feed each bar once.
func (e *Engine) ProcessBar(symbol string, bar domain.Bar) ([]domain.Fill, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrInvalidBar)
	}
	if err := bar.Validate(); err != nil {
		return nil, err
	}

	e.advance(bar.Timestamp)
	e.ledger.marks[symbol] = bar.Close

	var fills []domain.Fill
	for _, id := range e.live[symbol] {
		o := e.orders[id]
		if e.sim.StopTriggered(o, bar) {
			o.Status = domain.Working
			o.UpdatedAt = bar.Timestamp
			e.log.Info("stop order triggered", "order_id", o.ID)
		}
		if o.Status == domain.New {
			continue
		}
		fill, ok := e.sim.AttemptFill(o, bar)
		if !ok {
			continue
		}
		e.book(o, fill)
		fills = append(fills, fill)
	}

	if len(fills) > 0 {
		e.compact(symbol)
	}
	e.ledger.Mark(symbol, bar.Close, bar.Timestamp)
	return fills, nil
}

func (e *Engine) book(o *domain.Order, f domain.Fill) {
	prevFilled := decimal.NewFromInt(o.FilledQty)
	o.FilledQty += f.Qty
	o.RemainingQty -= f.Qty

	prevAvg := decimal.Zero
	if o.AvgFillPrice.Valid {
		prevAvg = o.AvgFillPrice.Decimal
	}
	avg := prevAvg.Mul(prevFilled).Add(f.Notional()).Div(decimal.NewFromInt(o.FilledQty))
	o.AvgFillPrice = decimal.NewNullDecimal(avg)

	if o.RemainingQty == 0 {
		o.Status = domain.Filled
	} else {
		o.Status = domain.PartiallyFilled
	}
	o.UpdatedAt = f.Timestamp

	e.ledger.ApplyFill(f)
	e.fills = append(e.fills, f)

	e.log.Info("fill", "order_id", o.ID, "symbol", f.Symbol, "side", f.Side,
		"qty", f.Qty, "remaining", o.RemainingQty, "price", f.Price.String(),
		"slippage", f.Slippage.String())
	if pos, ok := e.ledger.Position(f.Symbol); ok && pos.Flat() {
		e.log.Info("position closed", "symbol", f.Symbol, "realized_pnl", pos.RealizedPnL.StringFixed(2))
	}
}

// CancelOrder cancels a NEW, WORKING or PARTIALLY_FILLED order. It returns
// false for unknown orders and orders that are already done.
func (e *Engine) CancelOrder(id string) bool {
	o, ok := e.orders[id]
	if !ok || !o.Status.Live() {
		return false
	}
	o.Status = domain.Canceled
	o.UpdatedAt = e.now
	e.compact(o.Symbol)
	e.log.Info("order canceled", "order_id", id)
	return true
}

// UpdateMark moves the mark of symbol without running any order logic.
func (e *Engine) UpdateMark(symbol string, price decimal.Decimal, ts time.Time) error {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" || !price.IsPositive() {
		return fmt.Errorf("%w: mark for %q must be > 0", domain.ErrInvalidBar, symbol)
	}
	e.advance(ts)
	e.ledger.Mark(symbol, price, ts)
	return nil
}

// PruneClosedPositions drops flat positions and returns their symbols.
func (e *Engine) PruneClosedPositions() []string {
	pruned := e.ledger.PruneFlat()
	if len(pruned) > 0 {
		e.log.Info("pruned closed positions", "symbols", pruned)
	}
	return pruned
}

func (e *Engine) Account() domain.Account {
	return e.ledger.Account(e.cfg.AccountID, e.cfg.Limits.MaxLeverage, e.now)
}

// Positions returns open positions only; flat ones stay in the ledger.
func (e *Engine) Positions() []domain.Position {
	return e.ledger.Positions(false)
}

func (e *Engine) Position(symbol string) (domain.Position, bool) {
	return e.ledger.Position(domain.NormalizeSymbol(symbol))
}

func (e *Engine) Orders(activeOnly bool) []domain.Order {
	out := make([]domain.Order, 0, len(e.seq))
	for _, id := range e.seq {
		o := e.orders[id]
		if activeOnly && !o.Status.Live() {
			continue
		}
		out = append(out, *o)
	}
	return out
}

func (e *Engine) Order(id string) (domain.Order, bool) {
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Fills returns the fill log, filtered by symbol when one is given.
func (e *Engine) Fills(symbol string) []domain.Fill {
	symbol = domain.NormalizeSymbol(symbol)
	out := make([]domain.Fill, 0, len(e.fills))
	for _, f := range e.fills {
		if symbol != "" && f.Symbol != symbol {
			continue
		}
		out = append(out, f)
	}
	return out
}

// State captures everything needed to Restore this engine.
func (e *Engine) State() domain.LedgerState {
	return domain.LedgerState{
		AccountID:        e.cfg.AccountID,
		Cash:             e.ledger.cash,
		ArchivedRealized: e.ledger.archivedRealized,
		DayStart:         e.dayStart,
		DayStartEquity:   e.dayStartEquity,
		Orders:           e.Orders(false),
		Fills:            e.Fills(""),
		Positions:        e.ledger.Positions(true),
		Marks:            e.ledger.marksCopy(),
		UpdatedAt:        e.now,
	}
}

// AccountState is State without orders, fills and positions.
func (e *Engine) AccountState() domain.LedgerState {
	return domain.LedgerState{
		AccountID:        e.cfg.AccountID,
		Cash:             e.ledger.cash,
		ArchivedRealized: e.ledger.archivedRealized,
		DayStart:         e.dayStart,
		DayStartEquity:   e.dayStartEquity,
		Marks:            e.ledger.marksCopy(),
		UpdatedAt:        e.now,
	}
}

func (e *Engine) index(o *domain.Order) {
	e.orders[o.ID] = o
	e.seq = append(e.seq, o.ID)
	if o.Status.Live() {
		e.live[o.Symbol] = append(e.live[o.Symbol], o.ID)
	}
}

// compact drops orders that are no longer live from the symbol's index.
func (e *Engine) compact(symbol string) {
	ids := e.live[symbol][:0]
	for _, id := range e.live[symbol] {
		if e.orders[id].Status.Live() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		delete(e.live, symbol)
		return
	}
	e.live[symbol] = ids
}

// advance moves the engine clock and re-anchors the daily loss baseline on
// the first event of each UTC day.
func (e *Engine) advance(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if e.dayStart.IsZero() || !sameDay(e.dayStart, ts) {
		e.dayStart = startOfDay(ts)
		e.dayStartEquity = e.Account().Equity
	}
	e.now = ts
}

func (e *Engine) dayStartEquityAt(ts time.Time, equity decimal.Decimal) decimal.Decimal {
	if e.dayStart.IsZero() || ts.IsZero() || !sameDay(e.dayStart, ts) {
		return equity
	}
	return e.dayStartEquity
}

func normalize(req domain.OrderRequest) domain.OrderRequest {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if req.TIF == "" {
		req.TIF = domain.Day
	}
	return req
}

func startOfDay(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return startOfDay(a).Equal(startOfDay(b))
}

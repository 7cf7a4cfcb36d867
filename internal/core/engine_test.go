package core

import (
	"errors"
	"testing"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickSize = decimal.Zero
	_, err := NewEngine(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMarketBuyFillsAtNextOpen(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)

	o, err := e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 100), at(1))
	require.NoError(t, err)
	assert.Equal(t, domain.Working, o.Status)

	fills, err := e.ProcessBar("XYZ", mkBar(at(2), "50.00", "51.00", "49.50", "50.50", 1_000_000))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	f := fills[0]
	assert.Equal(t, int64(100), f.Qty)
	assertDecimal(t, "50.01", f.Price)
	assertDecimal(t, "0.1", f.Commission)
	assertDecimal(t, "1", f.Slippage)
	assertDecimal(t, "94998.90", e.Account().Cash)

	pos, ok := e.Position("XYZ")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Qty)
	assertDecimal(t, "50.01", pos.AvgPrice)
	assertDecimal(t, "50.50", pos.CurrentPrice)
	assertDecimal(t, "5050", pos.MarketValue)
	assertDecimal(t, "49", pos.UnrealizedPnL)

	got, ok := e.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, domain.Filled, got.Status)
	assert.Equal(t, int64(0), got.RemainingQty)
	assertDecimal(t, "50.01", got.AvgFillPrice.Decimal)
}

func TestLimitSellOpensShortAtExactLimit(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Limits.MaxPositionSizePct = d("0.5") })

	o, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Sell, 500, d("52.00")), at(0))
	require.NoError(t, err)
	assert.Equal(t, domain.Working, o.Status)

	fills, err := e.ProcessBar("XYZ", mkBar(at(1), "52.00", "52.50", "51.50", "52.00", 10_000))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(500), fills[0].Qty)
	assertDecimal(t, "52.00", fills[0].Price)
	assert.True(t, fills[0].Slippage.IsZero())

	pos, ok := e.Position("XYZ")
	require.True(t, ok)
	assert.Equal(t, int64(-500), pos.Qty)
	assertDecimal(t, "125999.5", e.Account().Cash)
}

func TestBuyStopWaitsForTriggerThenFillsSameBar(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)

	o, err := e.SubmitOrder(domain.NewStopOrder("XYZ", domain.Buy, 100, d("55.00")), at(1))
	require.NoError(t, err)
	assert.Equal(t, domain.New, o.Status)

	for i, high := range []string{"51.00", "53.00", "54.99"} {
		fills, err := e.ProcessBar("XYZ", mkBar(at(2+i), "50.00", high, "49.00", "50.00", 100_000))
		require.NoError(t, err)
		assert.Empty(t, fills)
		got, _ := e.Order(o.ID)
		assert.Equal(t, domain.New, got.Status)
	}

	fills, err := e.ProcessBar("XYZ", mkBar(at(10), "55.50", "56.00", "55.00", "55.80", 100_000))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assertDecimal(t, "55.51", fills[0].Price)
	got, _ := e.Order(o.ID)
	assert.Equal(t, domain.Filled, got.Status)
}

func TestOrderOverNotionalLimitIsRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)
	before := e.State()

	o, err := e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 2000), at(1))
	assert.Nil(t, o)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
	assert.Contains(t, err.Error(), "Order notional $100000.00 exceeds limit $50000.00")

	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.True(t, rej.Check.Violated(domain.RuleMaxOrderNotional))
	assert.False(t, rej.Check.Passed)

	assert.Empty(t, e.Orders(false))
	assert.Equal(t, before.Cash, e.State().Cash)
}

func TestSubmitWithoutPriceIsRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubmitOrder(domain.NewMarketOrder("ABC", domain.Buy, 1), at(0))
	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Len(t, rej.Check.Violations, 1)
	assert.Equal(t, domain.RuleNoPriceData, rej.Check.Violations[0].Rule)
}

func TestMalformedOrderRejectedBeforeRisk(t *testing.T) {
	e := newTestEngine(t)
	req := domain.OrderRequest{Symbol: "XYZ", Side: domain.Buy, Type: domain.Limit, Qty: 10}
	_, err := e.SubmitOrder(req, at(0))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.NotErrorIs(t, err, domain.ErrRiskRejected)
}

func TestLimitOrderFillsAcrossBars(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Limits.MaxPositionSizePct = d("0.5") })
	o, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 500, d("50.00")), at(0))
	require.NoError(t, err)

	bar := func(ts int) domain.Bar { return mkBar(at(ts), "50.20", "50.40", "49.90", "50.10", 2_000) }

	fills, err := e.ProcessBar("XYZ", bar(1))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(200), fills[0].Qty)
	assertDecimal(t, "50.01", fills[0].Price)
	assertDecimal(t, "2", fills[0].Slippage)
	got, _ := e.Order(o.ID)
	assert.Equal(t, domain.PartiallyFilled, got.Status)
	assertQtyInvariant(t, e)

	fills, err = e.ProcessBar("XYZ", bar(2))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(200), fills[0].Qty)
	assertQtyInvariant(t, e)

	fills, err = e.ProcessBar("XYZ", bar(3))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(100), fills[0].Qty)
	assertDecimal(t, "50.00", fills[0].Price)
	assert.True(t, fills[0].Slippage.IsZero())

	got, _ = e.Order(o.ID)
	assert.Equal(t, domain.Filled, got.Status)
	assertDecimal(t, "50.008", got.AvgFillPrice.Decimal)
	assertQtyInvariant(t, e)

	fills, err = e.ProcessBar("XYZ", bar(4))
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestLimitOutsideRangeStaysWorking(t *testing.T) {
	e := newTestEngine(t)
	o, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("48.00")), at(0))
	require.NoError(t, err)

	fills, err := e.ProcessBar("XYZ", mkBar(at(1), "50.00", "51.00", "49.50", "50.50", 100_000))
	require.NoError(t, err)
	assert.Empty(t, fills)
	got, _ := e.Order(o.ID)
	assert.Equal(t, domain.Working, got.Status)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)

	working, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("40.00")), at(1))
	require.NoError(t, err)
	market, err := e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 10), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(2), "50.00"))
	require.NoError(t, err)

	assert.True(t, e.CancelOrder(working.ID))
	assert.False(t, e.CancelOrder(working.ID), "already canceled")
	assert.False(t, e.CancelOrder(market.ID), "already filled")
	assert.False(t, e.CancelOrder("missing"))

	got, _ := e.Order(working.ID)
	assert.Equal(t, domain.Canceled, got.Status)
	assert.Len(t, e.Orders(true), 0)
	assert.Len(t, e.Orders(false), 2)

	fills, err := e.ProcessBar("XYZ", mkBar(at(3), "40.00", "40.00", "39.00", "39.50", 100_000))
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestProcessBarRejectsInvalidBar(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", mkBar(at(0), "50", "49", "51", "50", 10))
	assert.ErrorIs(t, err, domain.ErrInvalidBar)
	_, known := e.State().Marks["XYZ"]
	assert.False(t, known)
}

func TestPositionsExcludeFlatButKeepRealized(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)

	_, err = e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 100), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(2), "50.00"))
	require.NoError(t, err)

	_, err = e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Sell, 100), at(3))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(4), "60.00"))
	require.NoError(t, err)

	assert.Empty(t, e.Positions())
	pos, ok := e.Position("XYZ")
	require.True(t, ok)
	assert.True(t, pos.Flat())
	// bought at 50.01, sold at 59.99
	assertDecimal(t, "998", pos.RealizedPnL)
	assertDecimal(t, "998", e.Account().RealizedPnL)

	assert.Equal(t, []string{"XYZ"}, e.PruneClosedPositions())
	_, ok = e.Position("XYZ")
	assert.False(t, ok)
	assertDecimal(t, "998", e.Account().RealizedPnL)
}

func TestEquityMatchesLedger(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Limits.MaxPositionSizePct = d("0.3") })
	for _, sym := range []string{"AAA", "BBB"} {
		_, err := e.ProcessBar(sym, flatBar(at(0), "20.00"))
		require.NoError(t, err)
	}
	_, err := e.SubmitOrder(domain.NewMarketOrder("AAA", domain.Buy, 300), at(1))
	require.NoError(t, err)
	_, err = e.SubmitOrder(domain.NewMarketOrder("BBB", domain.Sell, 200), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("AAA", mkBar(at(2), "20.00", "21.00", "19.00", "20.70", 50_000))
	require.NoError(t, err)
	_, err = e.ProcessBar("BBB", mkBar(at(2), "20.00", "21.00", "19.00", "19.40", 50_000))
	require.NoError(t, err)

	acct := e.Account()
	want := acct.Cash
	for _, p := range e.State().Positions {
		want = want.Add(p.MarketValue).Add(p.UnrealizedPnL)
	}
	assert.True(t, want.Equal(acct.Equity), "equity %s != recomputed %s", acct.Equity, want)
	assert.True(t, acct.Leverage.Equal(acct.PositionsValue.Div(acct.Equity)))
}

func TestDailyLossBlocksNewOrders(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)
	_, err = e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 150), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(2), "50.00"))
	require.NoError(t, err)

	_, err = e.ProcessBar("XYZ", flatBar(at(3), "10.00"))
	require.NoError(t, err)

	check, err := e.CheckRisk(domain.NewMarketOrder("XYZ", domain.Buy, 1), at(4))
	require.NoError(t, err)
	assert.False(t, check.Passed)
	assert.True(t, check.Violated(domain.RuleMaxDailyLoss))

	// a new day re-anchors the baseline
	check, err = e.CheckRisk(domain.NewMarketOrder("XYZ", domain.Buy, 1), at(24*60))
	require.NoError(t, err)
	assert.False(t, check.Violated(domain.RuleMaxDailyLoss))
}

func TestDailyLossStillAllowsFlattening(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.Limits.MaxPositionSizePct = d("1")
		c.Limits.MaxOrderNotional = d("1000000")
	})
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)
	_, err = e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 1000), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(2), "50.00"))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(3), "47.00"))
	require.NoError(t, err)

	check, err := e.CheckRisk(domain.NewMarketOrder("XYZ", domain.Buy, 1), at(4))
	require.NoError(t, err)
	require.True(t, check.Violated(domain.RuleMaxDailyLoss))

	o, err := e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Sell, 1000), at(4))
	require.NoError(t, err)
	require.NotNil(t, o)

	fills, err := e.ProcessBar("XYZ", flatBar(at(5), "47.00"))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Empty(t, e.Positions())
}

func TestLiveIndexDropsFinishedOrders(t *testing.T) {
	e := newTestEngine(t)
	filled, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("50")), at(0))
	require.NoError(t, err)
	resting, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("40")), at(0))
	require.NoError(t, err)
	canceled, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("39")), at(0))
	require.NoError(t, err)
	assert.Equal(t, []string{filled.ID, resting.ID, canceled.ID}, e.live["XYZ"])

	_, err = e.ProcessBar("XYZ", flatBar(at(1), "50"))
	require.NoError(t, err)
	assert.Equal(t, []string{resting.ID, canceled.ID}, e.live["XYZ"])

	require.True(t, e.CancelOrder(canceled.ID))
	assert.Equal(t, []string{resting.ID}, e.live["XYZ"])

	fills, err := e.ProcessBar("XYZ", flatBar(at(2), "40"))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, resting.ID, fills[0].OrderID)
	assert.NotContains(t, e.live, "XYZ")
	assert.Len(t, e.Orders(false), 3)

	r, err := Restore(e.Config(), e.State())
	require.NoError(t, err)
	assert.Empty(t, r.live)
}

func TestStateRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Limits.MaxPositionSizePct = d("0.5") })
	_, err := e.ProcessBar("XYZ", flatBar(at(0), "50.00"))
	require.NoError(t, err)
	_, err = e.SubmitOrder(domain.NewMarketOrder("XYZ", domain.Buy, 100), at(1))
	require.NoError(t, err)
	working, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Sell, 100, d("55.00")), at(1))
	require.NoError(t, err)
	_, err = e.ProcessBar("XYZ", flatBar(at(2), "51.00"))
	require.NoError(t, err)

	r, err := Restore(e.Config(), e.State())
	require.NoError(t, err)
	want, got := e.Account(), r.Account()
	assertDecimal(t, want.Cash.String(), got.Cash)
	assertDecimal(t, want.Equity.String(), got.Equity)
	assertDecimal(t, want.UnrealizedPnL.String(), got.UnrealizedPnL)
	assert.Equal(t, e.Orders(false), r.Orders(false))
	assert.Equal(t, e.Fills(""), r.Fills(""))

	fills, err := r.ProcessBar("XYZ", mkBar(at(3), "54.00", "56.00", "53.00", "55.50", 100_000))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, working.ID, fills[0].OrderID)
}

func TestQueriesReturnCopies(t *testing.T) {
	e := newTestEngine(t)
	o, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("40.00")), at(0))
	require.NoError(t, err)
	o.Status = domain.Canceled

	orders := e.Orders(false)
	orders[0].RemainingQty = 0

	got, _ := e.Order(o.ID)
	assert.Equal(t, domain.Working, got.Status)
	assert.Equal(t, int64(10), got.RemainingQty)
}

func TestUpdateMarkRevaluesPosition(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubmitOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("50")), at(0))
	require.NoError(t, err)
	fills, err := e.ProcessBar("XYZ", flatBar(at(1), "50"))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	require.NoError(t, e.UpdateMark(" xyz ", d("55"), at(2)))
	pos, ok := e.Position("XYZ")
	require.True(t, ok)
	assertDecimal(t, "55", pos.CurrentPrice)
	assertDecimal(t, "550", pos.MarketValue)
	assertDecimal(t, "50", pos.UnrealizedPnL)
	assert.Len(t, e.Fills(""), 1)

	err = e.UpdateMark("XYZ", decimal.Zero, at(3))
	assert.ErrorIs(t, err, domain.ErrInvalidBar)
	pos, _ = e.Position("XYZ")
	assertDecimal(t, "55", pos.CurrentPrice)
}

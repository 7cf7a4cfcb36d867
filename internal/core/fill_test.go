package core

import (
	"testing"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSimulator() FillSimulator {
	s := DefaultConfig().simulator()
	s.NewID = seqIDs("fill")
	return s
}

func workingOrder(req domain.OrderRequest) *domain.Order {
	status := domain.Working
	if req.Type.NeedsStop() {
		status = domain.New
	}
	return &domain.Order{
		ID:           "ord-1",
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Qty:          req.Qty,
		RemainingQty: req.Qty,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		Status:       status,
	}
}

func TestMarketSlippageScalesWithParticipation(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewMarketOrder("XYZ", domain.Buy, 5_000))
	f, ok := s.AttemptFill(o, mkBar(at(0), "100.00", "101.00", "99.00", "100.50", 100_000))
	require.True(t, ok)
	// 5% participation: 0.01 * 0.05 * 100 = 0.05 per share
	assertDecimal(t, "100.05", f.Price)
	assertDecimal(t, "250", f.Slippage)
	assertDecimal(t, "5", f.Commission)
	assert.Equal(t, "ord-1", f.OrderID)
	assert.Equal(t, "fill-1", f.ID)
}

func TestMarketSellPricedBelowOpen(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewMarketOrder("XYZ", domain.Sell, 100))
	f, ok := s.AttemptFill(o, mkBar(at(0), "50.00", "51.00", "49.00", "50.00", 1_000_000))
	require.True(t, ok)
	assertDecimal(t, "49.99", f.Price)
	assert.True(t, f.Price.LessThan(d("50.00")))
}

func TestMarketSellNeverBelowOneTick(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewMarketOrder("XYZ", domain.Sell, 100))
	f, ok := s.AttemptFill(o, mkBar(at(0), "0.01", "0.01", "0.01", "0.01", 0))
	require.True(t, ok)
	assertDecimal(t, "0.01", f.Price)
}

func TestMarketFillOnZeroVolumeUsesParticipationCap(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewMarketOrder("XYZ", domain.Buy, 10))
	f, ok := s.AttemptFill(o, mkBar(at(0), "200.00", "200.00", "200.00", "200.00", 0))
	require.True(t, ok)
	assert.Equal(t, int64(10), f.Qty)
	assertDecimal(t, "200.20", f.Price)
}

func TestLimitNeedsVolume(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewLimitOrder("XYZ", domain.Buy, 10, d("50")))
	_, ok := s.AttemptFill(o, mkBar(at(0), "50", "51", "49", "50", 0))
	assert.False(t, ok)

	_, ok = s.AttemptFill(o, mkBar(at(0), "50", "51", "49", "50", 9))
	assert.False(t, ok, "10% of 9 rounds down to zero")
}

func TestPartialLimitSellStaysInRange(t *testing.T) {
	s := testSimulator()
	o := workingOrder(domain.NewLimitOrder("XYZ", domain.Sell, 1_000, d("49.00")))
	bar := mkBar(at(0), "49.50", "50.00", "49.00", "49.20", 1_000)
	f, ok := s.AttemptFill(o, bar)
	require.True(t, ok)
	assert.Equal(t, int64(100), f.Qty)
	assertDecimal(t, "49.00", f.Price)
	assert.True(t, bar.Contains(f.Price))
	assert.True(t, f.Slippage.IsZero())
}

func TestStopTrigger(t *testing.T) {
	s := testSimulator()
	buy := workingOrder(domain.NewStopOrder("XYZ", domain.Buy, 10, d("55")))
	sell := workingOrder(domain.NewStopOrder("XYZ", domain.Sell, 10, d("45")))

	assert.False(t, s.StopTriggered(buy, mkBar(at(0), "50", "54.99", "49", "50", 100)))
	assert.True(t, s.StopTriggered(buy, mkBar(at(0), "50", "55", "49", "50", 100)))
	assert.False(t, s.StopTriggered(sell, mkBar(at(0), "50", "51", "45.01", "50", 100)))
	assert.True(t, s.StopTriggered(sell, mkBar(at(0), "50", "51", "45", "50", 100)))

	_, ok := s.AttemptFill(buy, mkBar(at(0), "56", "57", "55", "56", 100))
	assert.False(t, ok, "untriggered stop must not fill")
}

func TestStopLimitFillsAsLimitAfterTrigger(t *testing.T) {
	e := newTestEngine(t)
	o, err := e.SubmitOrder(domain.NewStopLimitOrder("XYZ", domain.Sell, 100, d("45"), d("44.50")), at(0))
	require.NoError(t, err)
	assert.Equal(t, domain.New, o.Status)

	fills, err := e.ProcessBar("XYZ", mkBar(at(1), "46.00", "46.50", "44.80", "45.00", 100_000))
	require.NoError(t, err)
	assert.Empty(t, fills, "limit 44.50 is below the bar's low")
	got, _ := e.Order(o.ID)
	assert.Equal(t, domain.Working, got.Status)

	fills, err = e.ProcessBar("XYZ", mkBar(at(2), "44.80", "45.00", "44.00", "44.20", 100_000))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assertDecimal(t, "44.50", fills[0].Price)
}

func TestTickRounding(t *testing.T) {
	s := testSimulator()
	assert.True(t, s.ceilTick(d("10.001")).Equal(d("10.01")))
	assert.True(t, s.floorTick(d("10.009")).Equal(d("10.00")))
	assert.True(t, s.ceilTick(decimal.NewFromInt(7)).Equal(d("7")))
}

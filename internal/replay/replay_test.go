package replay

import (
	"context"
	"testing"
	"time"

	"github.com/olyamironova/paper-engine/internal/adapter/in_memory"
	"github.com/olyamironova/paper-engine/internal/adapter/parquetstore"
	"github.com/olyamironova/paper-engine/internal/core"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

const script = `
account: backtest
orders:
  - {at: 0, side: buy, type: limit, qty: 10, limit: 50}
  - {at: 0, side: buy, type: market, qty: 5}
  - {at: 2, side: sell, type: market, qty: 10}
  - {at: 9, side: buy, type: market, qty: 1}
`

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(script))
	require.NoError(t, err)
	assert.Equal(t, "backtest", s.Account)
	require.Len(t, s.Orders, 4)
	req := s.Orders[0].request("XYZ")
	assert.Equal(t, domain.Buy, req.Side)
	assert.Equal(t, domain.Limit, req.Type)
	assert.Equal(t, domain.Day, req.TIF)
	assert.True(t, req.LimitPrice.Decimal.Equal(decimal.NewFromInt(50)))
	assert.NoError(t, req.Validate())

	s, err = ParseScript([]byte("orders: []"))
	require.NoError(t, err)
	assert.Equal(t, "replay", s.Account)

	_, err = ParseScript([]byte("orders: [{at: -1}]"))
	assert.Error(t, err)
}

func TestRunReplaysStoredBars(t *testing.T) {
	ctx := context.Background()
	store := parquetstore.NewBarStore(t.TempDir())
	var bars []domain.Bar
	for i := 0; i < 3; i++ {
		p := decimal.NewFromInt(50)
		bars = append(bars, domain.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      p, High: p, Low: p, Close: p, Volume: 1_000_000,
		})
	}
	require.NoError(t, store.WriteBars(ctx, "XYZ", bars))

	clock := &Clock{}
	svc, err := service.NewAccounts(core.DefaultConfig(), in_memory.NewMemoryRepo(), nil, nil,
		service.WithClock(clock.Now))
	require.NoError(t, err)
	s, err := ParseScript([]byte(script))
	require.NoError(t, err)

	res, err := NewRunner(svc, store, nil).WithClock(clock).Run(ctx, "xyz", t0, t0.Add(time.Hour), s)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Bars)
	assert.Len(t, res.Orders, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, res.Rejected[0].At)
	assert.ErrorIs(t, res.Rejected[0].Err, domain.ErrRiskRejected)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, domain.Buy, res.Fills[0].Side)
	assert.True(t, res.Fills[0].Price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, domain.Sell, res.Fills[1].Side)
	assert.True(t, res.Fills[1].Price.LessThan(decimal.NewFromInt(50)))

	assert.Equal(t, "backtest", res.Account.AccountID)
	assert.True(t, res.Account.Cash.LessThan(decimal.NewFromInt(100000)))
	for _, p := range res.Positions {
		assert.Equal(t, int64(0), p.Qty)
	}
	// submissions are stamped with the bar they precede
	assert.True(t, res.Orders[0].CreatedAt.Equal(t0))
	assert.True(t, res.Orders[1].CreatedAt.Equal(t0.Add(2*time.Minute)))
}

func TestRunWithoutBars(t *testing.T) {
	svc, err := service.NewAccounts(core.DefaultConfig(), in_memory.NewMemoryRepo(), nil, nil)
	require.NoError(t, err)
	_, err = NewRunner(svc, parquetstore.NewBarStore(t.TempDir()), nil).
		Run(context.Background(), "XYZ", t0, t0.Add(time.Hour), &Script{Account: "a"})
	assert.Error(t, err)
}

// Package porttest holds behaviour checks shared by every port.Repository
// and port.Cache implementation.
package porttest

import (
	"context"
	"testing"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleState(accountID string) (domain.LedgerState, domain.Order, domain.Order, domain.Fill, domain.Position) {
	filled := domain.Order{
		ID: accountID + "-o1", AccountID: accountID, Symbol: "XYZ", Side: domain.Buy, Type: domain.Market,
		Qty: 100, FilledQty: 100, AvgFillPrice: decimal.NewNullDecimal(dec("50.01")),
		TIF: domain.Day, Status: domain.Filled, CreatedAt: base, UpdatedAt: base.Add(time.Minute),
	}
	working := domain.Order{
		ID: accountID + "-o2", AccountID: accountID, Symbol: "XYZ", Side: domain.Sell, Type: domain.StopLimit,
		Qty: 100, RemainingQty: 100, LimitPrice: decimal.NewNullDecimal(dec("44.5")),
		StopPrice: decimal.NewNullDecimal(dec("45")), TIF: domain.GTC, Status: domain.New,
		CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second),
	}
	fill := domain.Fill{
		ID: accountID + "-f1", OrderID: filled.ID, Symbol: "XYZ", Side: domain.Buy, Price: dec("50.01"),
		Qty: 100, Commission: dec("0.1"), Slippage: dec("1"), Timestamp: base.Add(time.Minute),
	}
	pos := domain.Position{
		Symbol: "XYZ", Qty: 100, AvgPrice: dec("50.01"), CostBasis: dec("5001"), CurrentPrice: dec("50.5"),
		MarketValue: dec("5050"), UnrealizedPnL: dec("49"), RealizedPnL: decimal.Zero, LastUpdated: base.Add(time.Minute),
	}
	st := domain.LedgerState{
		AccountID: accountID, Cash: dec("94998.9"), ArchivedRealized: dec("12.5"),
		DayStart: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), DayStartEquity: dec("100000"),
		Marks: map[string]decimal.Decimal{"XYZ": dec("50.5")}, UpdatedAt: base.Add(time.Minute),
	}
	return st, filled, working, fill, pos
}

func commit(t *testing.T, repo port.Repository, fn func(ctx context.Context, tx port.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	fn(ctx, tx)
	require.NoError(t, tx.Commit(ctx))
}

func requireDecimal(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

// RunRepository exercises a fresh, empty repository.
func RunRepository(t *testing.T, repo port.Repository) {
	ctx := context.Background()

	t.Run("missing account", func(t *testing.T) {
		_, err := repo.LoadAccount(ctx, "nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		st, filled, working, fill, pos := sampleState("acct-a")
		commit(t, repo, func(ctx context.Context, tx port.Tx) {
			require.NoError(t, tx.SaveAccount(ctx, &st))
			require.NoError(t, tx.SaveOrder(ctx, &filled))
			require.NoError(t, tx.SaveOrder(ctx, &working))
			require.NoError(t, tx.SaveFill(ctx, st.AccountID, &fill))
			require.NoError(t, tx.SavePosition(ctx, st.AccountID, &pos))
		})

		got, err := repo.LoadAccount(ctx, "acct-a")
		require.NoError(t, err)
		requireDecimal(t, st.Cash, got.Cash)
		requireDecimal(t, st.ArchivedRealized, got.ArchivedRealized)
		requireDecimal(t, st.DayStartEquity, got.DayStartEquity)
		assert.True(t, st.DayStart.Equal(got.DayStart))
		assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))
		require.Contains(t, got.Marks, "XYZ")
		requireDecimal(t, dec("50.5"), got.Marks["XYZ"])

		require.Len(t, got.Orders, 2)
		assert.Equal(t, filled.ID, got.Orders[0].ID)
		assert.Equal(t, domain.Filled, got.Orders[0].Status)
		assert.Equal(t, int64(100), got.Orders[0].FilledQty)
		require.True(t, got.Orders[0].AvgFillPrice.Valid)
		requireDecimal(t, dec("50.01"), got.Orders[0].AvgFillPrice.Decimal)
		assert.False(t, got.Orders[0].LimitPrice.Valid)

		w := got.Orders[1]
		assert.Equal(t, working.ID, w.ID)
		assert.Equal(t, domain.StopLimit, w.Type)
		assert.Equal(t, domain.GTC, w.TIF)
		requireDecimal(t, dec("44.5"), w.LimitPrice.Decimal)
		requireDecimal(t, dec("45"), w.StopPrice.Decimal)
		assert.False(t, w.AvgFillPrice.Valid)

		require.Len(t, got.Fills, 1)
		assert.Equal(t, fill.ID, got.Fills[0].ID)
		requireDecimal(t, fill.Commission, got.Fills[0].Commission)
		assert.True(t, fill.Timestamp.Equal(got.Fills[0].Timestamp))

		require.Len(t, got.Positions, 1)
		assert.Equal(t, int64(100), got.Positions[0].Qty)
		requireDecimal(t, pos.UnrealizedPnL, got.Positions[0].UnrealizedPnL)
	})

	t.Run("upsert and delete", func(t *testing.T) {
		st, _, working, fill, pos := sampleState("acct-a")
		working.Status = domain.Canceled
		st.Cash = dec("1000")
		commit(t, repo, func(ctx context.Context, tx port.Tx) {
			require.NoError(t, tx.SaveAccount(ctx, &st))
			require.NoError(t, tx.SaveOrder(ctx, &working))
			require.NoError(t, tx.SaveFill(ctx, st.AccountID, &fill))
			require.NoError(t, tx.DeletePosition(ctx, st.AccountID, pos.Symbol))
		})

		got, err := repo.LoadAccount(ctx, "acct-a")
		require.NoError(t, err)
		requireDecimal(t, dec("1000"), got.Cash)
		require.Len(t, got.Orders, 2)
		assert.Equal(t, domain.Canceled, got.Orders[1].Status)
		assert.Len(t, got.Fills, 1, "fills are written once")
		assert.Empty(t, got.Positions)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		st, _, _, _, _ := sampleState("acct-b")
		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.SaveAccount(ctx, &st))
		require.NoError(t, tx.Rollback(ctx))

		_, err = repo.LoadAccount(ctx, "acct-b")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list accounts", func(t *testing.T) {
		ids, err := repo.ListAccounts(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "acct-a")
		assert.NotContains(t, ids, "acct-b")
	})
}

// RunCache exercises a fresh, empty cache.
func RunCache(t *testing.T, c port.Cache) {
	ctx := context.Background()

	miss, err := c.GetAccount(ctx, "acct-c")
	require.NoError(t, err)
	assert.Nil(t, miss)

	a := domain.Account{AccountID: "acct-c", Cash: dec("94998.9"), Equity: dec("100097.9"),
		Leverage: dec("0.05045"), Timestamp: base}
	require.NoError(t, c.SetAccount(ctx, &a))

	got, err := c.GetAccount(ctx, "acct-c")
	require.NoError(t, err)
	require.NotNil(t, got)
	requireDecimal(t, a.Equity, got.Equity)
	requireDecimal(t, a.Leverage, got.Leverage)
	assert.True(t, a.Timestamp.Equal(got.Timestamp))

	require.NoError(t, c.Invalidate(ctx, "acct-c"))
	miss, err = c.GetAccount(ctx, "acct-c")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

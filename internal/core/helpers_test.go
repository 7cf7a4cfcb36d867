package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func mkBar(ts time.Time, open, high, low, close string, volume int64) domain.Bar {
	return domain.Bar{Timestamp: ts, Open: d(open), High: d(high), Low: d(low), Close: d(close), Volume: volume}
}

func flatBar(ts time.Time, price string) domain.Bar {
	return mkBar(ts, price, price, price, price, 1_000_000)
}

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg, WithIDGenerator(seqIDs("id")))
	require.NoError(t, err)
	return e
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func assertQtyInvariant(t *testing.T, e *Engine) {
	t.Helper()
	for _, o := range e.Orders(false) {
		assert.Equal(t, o.Qty, o.FilledQty+o.RemainingQty, "order %s", o.ID)
		assert.GreaterOrEqual(t, o.RemainingQty, int64(0), "order %s", o.ID)
	}
}

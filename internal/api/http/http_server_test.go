package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/paper-engine/internal/adapter/in_memory"
	"github.com/olyamironova/paper-engine/internal/api/dto"
	"github.com/olyamironova/paper-engine/internal/core"
	"github.com/olyamironova/paper-engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := service.NewAccounts(core.DefaultConfig(), in_memory.NewMemoryRepo(), in_memory.NewCache(), nil,
		service.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	return NewHTTPServer(svc, nil, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, client string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if client != "" {
		req.Header.Set("X-Client-ID", client)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func flat(minute int, price string) gin.H {
	return gin.H{
		"timestamp": t0.Add(time.Duration(minute) * time.Minute),
		"open":      price, "high": price, "low": price, "close": price,
		"volume": 1_000_000,
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIDRequired(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/api/paper/account", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderLifecycle(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/paper/bars/xyz", "alice", flat(0, "50"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[dto.ProcessBarResponse](t, w).Fills)

	w = do(t, h, http.MethodPost, "/api/paper/orders", "alice",
		gin.H{"symbol": "xyz", "side": "buy", "type": "market", "qty": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[dto.Order](t, w)
	assert.Equal(t, "XYZ", order.Symbol)
	assert.Equal(t, "WORKING", order.Status)
	assert.Equal(t, "DAY", order.TimeInForce)

	w = do(t, h, http.MethodPost, "/api/paper/bars/XYZ", "alice", flat(1, "50"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fills := decode[dto.ProcessBarResponse](t, w).Fills
	require.Len(t, fills, 1)
	assert.Equal(t, order.ID, fills[0].OrderID)
	assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("50.01")), fills[0].Price.String())

	w = do(t, h, http.MethodGet, "/api/paper/orders/"+order.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FILLED", decode[dto.Order](t, w).Status)

	w = do(t, h, http.MethodGet, "/api/paper/positions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	positions := decode[[]dto.Position](t, w)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Qty)

	w = do(t, h, http.MethodGet, "/api/paper/account", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct := decode[dto.Account](t, w)
	assert.True(t, acct.Cash.Equal(decimal.RequireFromString("94998.9")), acct.Cash.String())

	w = do(t, h, http.MethodGet, "/api/paper/fills?symbol=XYZ", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]dto.Fill](t, w), 1)

	// another client sees its own empty account
	w = do(t, h, http.MethodGet, "/api/paper/orders", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]dto.Order](t, w))
}

func TestCancelOrder(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/paper/orders", "carol",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 10, "limit_price": "40"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[dto.Order](t, w)
	require.NotNil(t, order.LimitPrice)
	assert.True(t, order.LimitPrice.Equal(decimal.NewFromInt(40)))

	w = do(t, h, http.MethodGet, "/api/paper/orders?active_only=true", "carol", nil)
	assert.Len(t, decode[[]dto.Order](t, w), 1)

	w = do(t, h, http.MethodDelete, "/api/paper/orders/"+order.ID, "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[dto.CancelOrderResponse](t, w)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "CANCELED", res.Order.Status)

	w = do(t, h, http.MethodDelete, "/api/paper/orders/"+order.ID, "carol", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodDelete, "/api/paper/orders/nope", "carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/paper/orders?active_only=true", "carol", nil)
	assert.Empty(t, decode[[]dto.Order](t, w))

	w = do(t, h, http.MethodGet, "/api/paper/orders?active_only=maybe", "carol", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitErrors(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/paper/orders", "dave",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 0, "limit_price": "40"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/paper/orders", "dave",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/paper/orders", "dave",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 10_000, "limit_price": "40"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	rej := decode[dto.ErrorResponse](t, w)
	require.NotEmpty(t, rej.Violations)
	rules := make([]string, len(rej.Violations))
	for i, v := range rej.Violations {
		rules[i] = v.Rule
	}
	assert.Contains(t, rules, "max_order_notional")

	w = do(t, h, http.MethodGet, "/api/paper/orders", "dave", nil)
	assert.Empty(t, decode[[]dto.Order](t, w))
}

func TestRiskCheck(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/paper/risk-check", "erin",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "MARKET", "qty": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[dto.RiskCheck](t, w)
	assert.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "no_price_data", res.Violations[0].Rule)

	w = do(t, h, http.MethodPost, "/api/paper/risk-check", "erin",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 10, "limit_price": "50"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.RiskCheck](t, w).Passed)
}

func TestInvalidBar(t *testing.T) {
	h := newTestServer(t)
	bar := flat(0, "50")
	bar["low"] = "51"
	w := do(t, h, http.MethodPost, "/api/paper/bars/XYZ", "fay", bar)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBroadcastBarAndPrune(t *testing.T) {
	h := newTestServer(t)

	for _, client := range []string{"g1", "g2"} {
		w := do(t, h, http.MethodPost, "/api/paper/orders", client,
			gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 10, "limit_price": "50"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := do(t, h, http.MethodPost, "/api/paper/bars/XYZ?all=true", "g1", flat(1, "50"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[dto.BroadcastBarResponse](t, w)
	assert.Len(t, res.Fills["g1"], 1)
	assert.Len(t, res.Fills["g2"], 1)

	w = do(t, h, http.MethodPost, "/api/paper/orders", "g1",
		gin.H{"symbol": "XYZ", "side": "SELL", "type": "LIMIT", "qty": 10, "limit_price": "50"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, h, http.MethodPost, "/api/paper/bars/XYZ", "g1", flat(2, "50"))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/paper/positions/prune", "g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"XYZ"}, decode[dto.PruneResponse](t, w).Pruned)

	w = do(t, h, http.MethodPost, "/api/paper/positions/prune", "g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.PruneResponse](t, w).Pruned)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/paper/orders", "hal",
		gin.H{"symbol": "XYZ", "side": "BUY", "type": "LIMIT", "qty": 1, "limit_price": "10"})

	w := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "paper_orders_submitted_total")
}

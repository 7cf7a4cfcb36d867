// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_orders_submitted_total",
			Help: "Orders accepted by the risk checks",
		},
		[]string{"symbol", "side", "type"},
	)

	ordersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_orders_rejected_total",
			Help: "Orders rejected, by violated rule",
		},
		[]string{"symbol", "side", "rule"},
	)

	ordersCanceled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paper_orders_canceled_total",
			Help: "Orders canceled",
		},
	)

	fillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_fills_total",
			Help: "Simulated fills",
		},
		[]string{"symbol", "side"},
	)

	filledShares = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_filled_shares_total",
			Help: "Shares filled",
		},
		[]string{"symbol", "side"},
	)

	slippageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_slippage_dollars_total",
			Help: "Slippage paid in dollars",
		},
		[]string{"symbol"},
	)

	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_bars_processed_total",
			Help: "Bars fed to account engines",
		},
		[]string{"symbol"},
	)

	barDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paper_bar_duration_seconds",
			Help:    "Time to process one bar for one account, persistence included",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	accountEquity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paper_account_equity",
			Help: "Account equity",
		},
		[]string{"account"},
	)

	accountLeverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paper_account_leverage",
			Help: "Gross positions value over equity",
		},
		[]string{"account"},
	)

	accountsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paper_accounts_loaded",
			Help: "Account engines held in memory",
		},
	)
)

func RecordSubmitted(o *domain.Order) {
	ordersSubmitted.WithLabelValues(o.Symbol, string(o.Side), string(o.Type)).Inc()
}

// RecordRejected counts one rejection per violated rule.
func RecordRejected(req domain.OrderRequest, check domain.RiskCheckResult) {
	for _, v := range check.Violations {
		ordersRejected.WithLabelValues(req.Symbol, string(req.Side), string(v.Rule)).Inc()
	}
}

func RecordCanceled() {
	ordersCanceled.Inc()
}

func RecordFills(fills []domain.Fill) {
	for _, f := range fills {
		fillsTotal.WithLabelValues(f.Symbol, string(f.Side)).Inc()
		filledShares.WithLabelValues(f.Symbol, string(f.Side)).Add(float64(f.Qty))
		slippageTotal.WithLabelValues(f.Symbol).Add(f.Slippage.InexactFloat64())
	}
}

func RecordBar(symbol string, took time.Duration) {
	barsProcessed.WithLabelValues(symbol).Inc()
	barDuration.Observe(took.Seconds())
}

// RecordAccount sets the per-account gauges. There is one series per account
// engine held in memory, so the label set is bounded by the service's account
// registry; ForgetAccount removes an account's series when its engine is
// dropped.
func RecordAccount(a domain.Account) {
	accountEquity.WithLabelValues(a.AccountID).Set(a.Equity.InexactFloat64())
	accountLeverage.WithLabelValues(a.AccountID).Set(a.Leverage.InexactFloat64())
}

func ForgetAccount(accountID string) {
	accountEquity.DeleteLabelValues(accountID)
	accountLeverage.DeleteLabelValues(accountID)
}

func SetAccountsLoaded(n int) {
	accountsLoaded.Set(float64(n))
}

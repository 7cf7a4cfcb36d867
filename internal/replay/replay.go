// Package replay drives one paper account through stored bars, submitting
// scripted orders along the way.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ScriptOrder is submitted right before the bar with index At is processed.
// Market orders need At >= 1 so that a mark exists.
type ScriptOrder struct {
	At    int     `yaml:"at"`
	Side  string  `yaml:"side"`
	Type  string  `yaml:"type"`
	Qty   int64   `yaml:"qty"`
	Limit float64 `yaml:"limit"`
	Stop  float64 `yaml:"stop"`
	TIF   string  `yaml:"tif"`
}

type Script struct {
	Account string        `yaml:"account"`
	Orders  []ScriptOrder `yaml:"orders"`
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("replay: parse script: %w", err)
	}
	if s.Account == "" {
		s.Account = "replay"
	}
	for i, o := range s.Orders {
		if o.At < 0 {
			return nil, fmt.Errorf("replay: order %d: negative bar index", i)
		}
	}
	return &s, nil
}

func (o ScriptOrder) request(symbol string) domain.OrderRequest {
	req := domain.OrderRequest{
		Symbol: symbol,
		Side:   domain.Side(upper(o.Side)),
		Type:   domain.OrderType(upper(o.Type)),
		Qty:    o.Qty,
		TIF:    domain.TimeInForce(upper(o.TIF)),
	}
	if req.TIF == "" {
		req.TIF = domain.Day
	}
	if o.Limit > 0 {
		req.LimitPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.Limit))
	}
	if o.Stop > 0 {
		req.StopPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.Stop))
	}
	return req
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Service is what the runner needs from the account registry.
type Service interface {
	SubmitOrder(ctx context.Context, accountID string, req domain.OrderRequest) (*domain.Order, error)
	ProcessBar(ctx context.Context, accountID, symbol string, bar domain.Bar) ([]domain.Fill, error)
	Account(ctx context.Context, accountID string) (domain.Account, error)
	Positions(ctx context.Context, accountID string) ([]domain.Position, error)
}

type Rejection struct {
	At    int
	Order ScriptOrder
	Err   error
}

type Result struct {
	Bars      int
	Orders    []domain.Order
	Rejected  []Rejection
	Fills     []domain.Fill
	Account   domain.Account
	Positions []domain.Position
}

// Clock is a settable time source for the service. The runner moves it to
// each bar's timestamp before submitting that bar's orders.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type Runner struct {
	svc   Service
	bars  port.BarSource
	log   *slog.Logger
	clock *Clock
}

func NewRunner(svc Service, bars port.BarSource, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{svc: svc, bars: bars, log: log}
}

// WithClock makes the runner drive clock, which should be the service's time
// source.
func (r *Runner) WithClock(c *Clock) *Runner {
	r.clock = c
	return r
}

// Run feeds every bar of symbol in [start, end] exactly once. Orders the
// engine refuses are collected in Result.Rejected; storage and bar errors
// abort the run.
func (r *Runner) Run(ctx context.Context, symbol string, start, end time.Time, script *Script) (*Result, error) {
	symbol = domain.NormalizeSymbol(symbol)
	bars, err := r.bars.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("replay: load bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("replay: no bars for %s between %s and %s", symbol,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	byBar := make(map[int][]ScriptOrder)
	for _, o := range script.Orders {
		if o.At >= len(bars) {
			r.log.Warn("scripted order is past the last bar", "at", o.At, "bars", len(bars))
			continue
		}
		byBar[o.At] = append(byBar[o.At], o)
	}

	res := &Result{}
	for i, bar := range bars {
		if r.clock != nil {
			r.clock.Set(bar.Timestamp)
		}
		for _, so := range byBar[i] {
			o, err := r.svc.SubmitOrder(ctx, script.Account, so.request(symbol))
			var rej *domain.RejectionError
			var invalid *domain.ValidationError
			switch {
			case errors.As(err, &rej), errors.As(err, &invalid):
				r.log.Info("scripted order refused", "at", i, "err", err)
				res.Rejected = append(res.Rejected, Rejection{At: i, Order: so, Err: err})
				continue
			case err != nil:
				return nil, err
			}
			res.Orders = append(res.Orders, *o)
		}

		fills, err := r.svc.ProcessBar(ctx, script.Account, symbol, bar)
		if err != nil {
			return nil, fmt.Errorf("replay: bar %d (%s): %w", i, bar.Timestamp.Format(time.RFC3339), err)
		}
		res.Fills = append(res.Fills, fills...)
		res.Bars++
	}

	if res.Account, err = r.svc.Account(ctx, script.Account); err != nil {
		return nil, err
	}
	if res.Positions, err = r.svc.Positions(ctx, script.Account); err != nil {
		return nil, err
	}
	return res, nil
}

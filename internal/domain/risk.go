package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskLimits struct {
	MaxLeverage        decimal.Decimal
	MaxPositionSizePct decimal.Decimal
	MaxOrderNotional   decimal.Decimal
	MaxSymbols         int
	MaxDailyLossPct    decimal.Decimal
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxLeverage:        decimal.NewFromInt(2),
		MaxPositionSizePct: decimal.RequireFromString("0.10"),
		MaxOrderNotional:   decimal.NewFromInt(50000),
		MaxSymbols:         20,
		MaxDailyLossPct:    decimal.RequireFromString("0.05"),
	}
}

func (l RiskLimits) Validate() error {
	if !l.MaxLeverage.IsPositive() {
		return invalidConfig("max_leverage must be > 0")
	}
	one := decimal.NewFromInt(1)
	if !l.MaxPositionSizePct.IsPositive() || l.MaxPositionSizePct.GreaterThan(one) {
		return invalidConfig("max_position_size_pct must be in (0, 1]")
	}
	if !l.MaxOrderNotional.IsPositive() {
		return invalidConfig("max_order_notional must be > 0")
	}
	if l.MaxSymbols <= 0 {
		return invalidConfig("max_symbols must be > 0")
	}
	if !l.MaxDailyLossPct.IsPositive() || l.MaxDailyLossPct.GreaterThan(one) {
		return invalidConfig("max_daily_loss_pct must be in (0, 1]")
	}
	return nil
}

type RiskRule string

const (
	RuleNoPriceData      RiskRule = "no_price_data"
	RuleMaxOrderNotional RiskRule = "max_order_notional"
	RuleMaxPositionSize  RiskRule = "max_position_size"
	RuleMaxSymbols       RiskRule = "max_symbols"
	RuleBuyingPower      RiskRule = "buying_power"
	RuleMaxLeverage      RiskRule = "max_leverage"
	RuleMaxDailyLoss     RiskRule = "max_daily_loss"
)

type Violation struct {
	Rule    RiskRule
	Message string
}

type RiskCheckResult struct {
	Passed            bool
	Order             OrderRequest
	Violations        []Violation
	CurrentLeverage   decimal.Decimal
	ResultingLeverage decimal.Decimal
	Timestamp         time.Time
}

func (r RiskCheckResult) Messages() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Message
	}
	return out
}

// Violated reports whether the given rule is among the violations.
func (r RiskCheckResult) Violated(rule RiskRule) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

package core

import (
	"fmt"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// RiskContext is the slice of account state the risk policy reads.
type RiskContext struct {
	Account        domain.Account
	Holdings       map[string]int64
	Marks          map[string]decimal.Decimal
	DayStartEquity decimal.Decimal
}

func (rc RiskContext) heldSymbols() int {
	n := 0
	for _, qty := range rc.Holdings {
		if qty != 0 {
			n++
		}
	}
	return n
}

// referencePrice is the limit price when the order has one, otherwise the
// latest mark for the symbol. Zero means unknown.
func referencePrice(req domain.OrderRequest, marks map[string]decimal.Decimal) decimal.Decimal {
	if req.LimitPrice.Valid {
		return req.LimitPrice.Decimal
	}
	return marks[req.Symbol]
}

// CheckRisk evaluates req against limits. Every rule is evaluated and all
// violations are collected, except a missing reference price which fails
// immediately. It never mutates rc.
func CheckRisk(req domain.OrderRequest, rc RiskContext, limits domain.RiskLimits, ts time.Time) domain.RiskCheckResult {
	current := rc.Account.Leverage
	res := domain.RiskCheckResult{
		Order:             req,
		CurrentLeverage:   current,
		ResultingLeverage: current,
		Timestamp:         ts,
	}

	price := referencePrice(req, rc.Marks)
	if !price.IsPositive() {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:    domain.RuleNoPriceData,
			Message: fmt.Sprintf("No price data for %s", req.Symbol),
		})
		return res
	}

	add := func(rule domain.RiskRule, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	notional := price.Mul(decimal.NewFromInt(req.Qty))
	if notional.GreaterThan(limits.MaxOrderNotional) {
		add(domain.RuleMaxOrderNotional, "Order notional $%s exceeds limit $%s",
			notional.StringFixed(2), limits.MaxOrderNotional.StringFixed(2))
	}

	equity := rc.Account.Equity
	maxPositionValue := equity.Mul(limits.MaxPositionSizePct)
	currentQty := rc.Holdings[req.Symbol]
	resultingValue := decimal.NewFromInt(currentQty + req.SignedQty()).Mul(price).Abs()
	if resultingValue.GreaterThan(maxPositionValue) {
		add(domain.RuleMaxPositionSize, "Resulting position $%s exceeds %s%% limit",
			resultingValue.StringFixed(2), limits.MaxPositionSizePct.Shift(2).String())
	}

	if currentQty == 0 && rc.heldSymbols() >= limits.MaxSymbols {
		add(domain.RuleMaxSymbols, "Max symbols limit (%d) reached", limits.MaxSymbols)
	}

	if req.Side == domain.Buy && notional.GreaterThan(rc.Account.BuyingPower) {
		add(domain.RuleBuyingPower, "Insufficient buying power $%s for order $%s",
			rc.Account.BuyingPower.StringFixed(2), notional.StringFixed(2))
	}

	resultingPositions := rc.Account.PositionsValue.Add(notional)
	if req.Side == domain.Sell {
		resultingPositions = rc.Account.PositionsValue.Sub(notional)
	}
	resulting := decimal.Zero
	if equity.IsPositive() {
		resulting = resultingPositions.Div(equity)
	}
	res.ResultingLeverage = resulting
	if resulting.GreaterThan(limits.MaxLeverage) {
		add(domain.RuleMaxLeverage, "Resulting leverage %sx exceeds limit %sx",
			resulting.StringFixed(2), limits.MaxLeverage.StringFixed(2))
	}

	// Orders that only reduce or close the position stay allowed after the
	// drawdown limit is hit.
	resultingQty := currentQty + req.SignedQty()
	reduces := currentQty != 0 && abs(resultingQty) < abs(currentQty) &&
		(resultingQty == 0 || (resultingQty > 0) == (currentQty > 0))
	if !reduces && rc.DayStartEquity.IsPositive() {
		loss := rc.DayStartEquity.Sub(equity).Div(rc.DayStartEquity)
		if loss.GreaterThanOrEqual(limits.MaxDailyLossPct) {
			add(domain.RuleMaxDailyLoss, "Daily loss %s%% reached limit %s%%",
				loss.Shift(2).StringFixed(2), limits.MaxDailyLossPct.Shift(2).String())
		}
	}

	res.Passed = len(res.Violations) == 0
	return res
}

package core

import (
	"fmt"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// Config is the construction-time surface of one account's engine.
type Config struct {
	AccountID          string
	InitialCash        decimal.Decimal
	Limits             domain.RiskLimits
	TickSize           decimal.Decimal
	SlippageK          decimal.Decimal
	ParticipationRate  decimal.Decimal
	CommissionPerShare decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		AccountID:          "paper_default",
		InitialCash:        decimal.NewFromInt(100000),
		Limits:             domain.DefaultRiskLimits(),
		TickSize:           decimal.RequireFromString("0.01"),
		SlippageK:          decimal.RequireFromString("0.01"),
		ParticipationRate:  decimal.RequireFromString("0.10"),
		CommissionPerShare: decimal.RequireFromString("0.001"),
	}
}

func (c Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("%w: account id is empty", domain.ErrInvalidConfig)
	}
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("%w: initial cash must be >= 0", domain.ErrInvalidConfig)
	}
	if !c.TickSize.IsPositive() {
		return fmt.Errorf("%w: tick size must be > 0", domain.ErrInvalidConfig)
	}
	if c.SlippageK.IsNegative() {
		return fmt.Errorf("%w: slippage coefficient must be >= 0", domain.ErrInvalidConfig)
	}
	if !c.ParticipationRate.IsPositive() || c.ParticipationRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: participation rate must be in (0, 1]", domain.ErrInvalidConfig)
	}
	if c.CommissionPerShare.IsNegative() {
		return fmt.Errorf("%w: commission must be >= 0", domain.ErrInvalidConfig)
	}
	return c.Limits.Validate()
}

// WithAccount returns a copy of the config bound to another account.
func (c Config) WithAccount(id string) Config {
	c.AccountID = id
	return c
}

func (c Config) simulator() FillSimulator {
	return FillSimulator{
		TickSize:           c.TickSize,
		SlippageK:          c.SlippageK,
		ParticipationRate:  c.ParticipationRate,
		CommissionPerShare: c.CommissionPerShare,
	}
}

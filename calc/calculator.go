package calc

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// Result is an amount plus the diagnostics produced computing it.
type Result struct {
	Amount      decimal.Decimal
	Diagnostics generic.Diagnostics
}

// Calculator computes concept amounts. Config resolves tax rules.
type Calculator struct {
	Config catalog.ConfigSource
	Logger *slog.Logger
}

// NewCalculator creates a calculator reading tax rules from cfg.
func NewCalculator(cfg catalog.ConfigSource, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{Config: cfg, Logger: logger}
}

// Calculate returns the amount for one assigned concept against the context.
// The result is always rounded; problems become warnings and a zero amount.
func (c *Calculator) Calculate(ctx context.Context, cc *Context, ac catalog.AssignedConcept) Result {
	var r Result
	amount := c.amount(ctx, cc, ac, &r.Diagnostics)
	r.Amount = generic.RoundMoney(amount)
	return r
}

func (c *Calculator) amount(ctx context.Context, cc *Context, ac catalog.AssignedConcept, ds *generic.Diagnostics) decimal.Decimal {
	code := ac.Concept.Code

	switch ac.Concept.Kind {
	case catalog.KindFixed:
		amt := ac.Amount()
		if amt == nil {
			return decimal.Zero
		}
		return clampConfigured(*amt, code, "amount", ds)

	case catalog.KindPercentOfBase:
		return generic.Percent(cc.PeriodSalary, configuredPercent(ac, code, ds, false))

	case catalog.KindPercentOfGross:
		return generic.Percent(cc.Totals.Gross, configuredPercent(ac, code, ds, false))

	case catalog.KindHours:
		hours := novelty(cc, code, ds)
		if hours.IsZero() {
			return decimal.Zero
		}
		hoursPerDay := cc.Params.HoursPerDay
		if !hoursPerDay.IsPositive() {
			hoursPerDay = catalog.DefaultParameters().HoursPerDay
		}
		hourly := c.dailyRate(cc).Div(hoursPerDay)
		return generic.Percent(hourly.Mul(hours), configuredPercent(ac, code, ds, true))

	case catalog.KindDays:
		days := novelty(cc, code, ds)
		if days.IsZero() {
			return decimal.Zero
		}
		return generic.Percent(c.dailyRate(cc).Mul(days), configuredPercent(ac, code, ds, true))

	case catalog.KindFormula:
		if ac.Concept.Formula == nil {
			ds.Warnf(code, "formula concept has no schema, using 0")
			return decimal.Zero
		}
		return c.evaluate(cc, ac, ac.Concept.Formula, ds)

	case catalog.KindTaxRule:
		if c.Config == nil {
			ds.Warnf(code, "tax rule %q not found, using 0", ac.Concept.TaxRuleRef)
			return decimal.Zero
		}
		rule, err := c.Config.TaxRule(ctx, ac.Concept.TaxRuleRef, code, cc.CalculationDate)
		if err != nil {
			ds.Warnf(code, "tax rule %q not found for %s, using 0", ac.Concept.TaxRuleRef, cc.CalculationDate.Format("2006-01-02"))
			return decimal.Zero
		}
		return c.evaluate(cc, ac, rule.Schema, ds)
	}

	ds.Warnf(code, "unsupported calculation kind %s, using 0", ac.Concept.Kind)
	return decimal.Zero
}

// evaluate runs a schema. Computed negatives pass through unclamped.
func (c *Calculator) evaluate(cc *Context, ac catalog.AssignedConcept, schema *formula.Schema, ds *generic.Diagnostics) decimal.Decimal {
	env := cc.Env()
	for k, v := range ac.Assignment.Inputs {
		env[k] = v
	}
	v, err := formula.Evaluate(schema, env)
	if err != nil {
		c.Logger.Debug("formula evaluation failed", "concept", ac.Concept.Code, "error", err)
		ds.Warnf(ac.Concept.Code, "formula evaluation failed (%v), using 0", err)
		return decimal.Zero
	}
	return v
}

func (c *Calculator) dailyRate(cc *Context) decimal.Decimal {
	days := cc.Params.DaysPerMonth
	if days <= 0 {
		days = catalog.DefaultParameters().DaysPerMonth
	}
	return cc.BaseSalary.Div(decimal.NewFromInt(int64(days)))
}

// configuredPercent returns the effective percentage, clamped at zero.
// Quantity-based kinds default to 100 when none is configured.
func configuredPercent(ac catalog.AssignedConcept, code string, ds *generic.Diagnostics, defaultFull bool) decimal.Decimal {
	pct := ac.Percentage()
	if pct == nil {
		if defaultFull {
			return generic.Hundred
		}
		return decimal.Zero
	}
	return clampConfigured(*pct, code, "percentage", ds)
}

func clampConfigured(v decimal.Decimal, code, what string, ds *generic.Diagnostics) decimal.Decimal {
	if v.IsNegative() {
		ds.Warnf(code, "negative configured %s %s clamped to 0", what, v)
		return decimal.Zero
	}
	return v
}

// novelty reads the reported quantity for a concept code.
func novelty(cc *Context, code string, ds *generic.Diagnostics) decimal.Decimal {
	q, ok := cc.Variables[code]
	if !ok {
		return decimal.Zero
	}
	if q.IsNegative() {
		ds.Warnf(code, "negative novelty quantity %s ignored, using 0", q)
		return decimal.Zero
	}
	return q
}

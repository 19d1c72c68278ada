// Package accrual computes how many days an AccrualPolicy grants an
// employee for a given period. Each policy.Method selects a distinct
// schedule shape — flat, prorated, tenure-tiered, or rule-evaluated — the
// same split a time-off accrual schedule makes between deterministic and
// non-deterministic accrual sources.
package accrual

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrcore/hrcore/internal/leave/repository"
	"github.com/hrcore/hrcore/internal/workflow/expr"
)

func unmarshalTiers(raw []byte, tiers *[]repository.AccrualTier) error {
	return json.Unmarshal(raw, tiers)
}

var twelve = decimal.NewFromInt(12)

// Grant is one period's worth of accrued days, ready to become an
// AccrualTransaction.
type Grant struct {
	EffectiveDate time.Time
	Days          decimal.Decimal
	Reason        string
}

// Engine evaluates AccrualPolicy schedules against an employee's tenure and
// context to produce Grants for a period.
type Engine struct{}

// NewEngine creates a new accrual engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate returns the Grants a policy produces between from and to
// (inclusive), given the employee's hire date and, for rule_based policies,
// an expression context (weekly_hours, employment_type, etc.).
func (e *Engine) Evaluate(policy *repository.AccrualPolicy, hireDate time.Time, exprContext map[string]interface{}, from, to time.Time) ([]Grant, error) {
	switch policy.Method {
	case "fixed":
		return e.fixed(policy, from, to), nil
	case "prorated":
		return e.prorated(policy, hireDate, from, to), nil
	case "tiered":
		return e.tiered(policy, hireDate, from, to)
	case "rule_based":
		return e.ruleBased(policy, exprContext, from, to)
	default:
		return nil, fmt.Errorf("accrual: unknown method %q", policy.Method)
	}
}

// fixed grants AmountPerPeriod at each period boundary in [from, to],
// unmodified by tenure or proration.
func (e *Engine) fixed(policy *repository.AccrualPolicy, from, to time.Time) []Grant {
	var grants []Grant
	for _, at := range periodsInRange(policy.Frequency, from, to) {
		grants = append(grants, Grant{EffectiveDate: at, Days: policy.AmountPerPeriod, Reason: "fixed accrual"})
	}
	return applyAnnualCap(policy, grants)
}

// prorated scales the first period an employee is eligible for down to the
// fraction of that period they were actually employed, so a mid-month hire
// doesn't receive a full month's grant on day one.
func (e *Engine) prorated(policy *repository.AccrualPolicy, hireDate, from, to time.Time) []Grant {
	var grants []Grant
	for _, at := range periodsInRange(policy.Frequency, from, to) {
		amount := policy.AmountPerPeriod
		periodStart := periodStartFor(policy.Frequency, at)
		if hireDate.After(periodStart) {
			daysInPeriod := decimal.NewFromInt(int64(daysBetween(periodStart, periodEndFor(policy.Frequency, at)) + 1))
			daysEmployed := decimal.NewFromInt(int64(daysBetween(hireDate, periodEndFor(policy.Frequency, at)) + 1))
			if daysInPeriod.IsPositive() {
				amount = amount.Mul(daysEmployed).Div(daysInPeriod)
			}
		}
		grants = append(grants, Grant{EffectiveDate: at, Days: amount, Reason: "prorated accrual"})
	}
	return applyAnnualCap(policy, grants)
}

// tiered looks up the AccrualTier whose AfterMonths threshold the employee's
// tenure has crossed by each period boundary and grants that tier's
// per-period share of its AnnualDays-equivalent AmountPerPeriod.
func (e *Engine) tiered(policy *repository.AccrualPolicy, hireDate, from, to time.Time) ([]Grant, error) {
	var tiers []repository.AccrualTier
	if len(policy.Tiers) > 0 {
		if err := unmarshalTiers(policy.Tiers, &tiers); err != nil {
			return nil, fmt.Errorf("accrual: invalid tiers: %w", err)
		}
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("accrual: tiered policy %s has no tiers", policy.ID)
	}

	var grants []Grant
	for _, at := range periodsInRange(policy.Frequency, from, to) {
		tenureMonths := monthsBetween(hireDate, at)

		var applicable *repository.AccrualTier
		for i := range tiers {
			if tenureMonths >= tiers[i].AfterMonths {
				applicable = &tiers[i]
			}
		}
		if applicable == nil {
			continue
		}

		grants = append(grants, Grant{EffectiveDate: at, Days: applicable.AmountPerPeriod, Reason: "tenure-tiered accrual"})
	}
	return applyAnnualCap(policy, grants), nil
}

// ruleBased evaluates policy.RuleExpression once per period against
// exprContext, expecting it to resolve to the number of days granted for
// that period (e.g. a formula over hours_worked or department).
func (e *Engine) ruleBased(policy *repository.AccrualPolicy, exprContext map[string]interface{}, from, to time.Time) ([]Grant, error) {
	if policy.RuleExpression == nil || *policy.RuleExpression == "" {
		return nil, fmt.Errorf("accrual: rule_based policy %s has no rule_expression", policy.ID)
	}

	var grants []Grant
	for _, at := range periodsInRange(policy.Frequency, from, to) {
		result, err := expr.EvalNumber(*policy.RuleExpression, exprContext)
		if err != nil {
			return nil, fmt.Errorf("accrual: evaluating rule for policy %s: %w", policy.ID, err)
		}
		grants = append(grants, Grant{EffectiveDate: at, Days: result, Reason: "rule-based accrual"})
	}
	return applyAnnualCap(policy, grants), nil
}

// applyAnnualCap trims Grants so their running total within a calendar year
// never exceeds policy.AnnualCap, dropping the excess from whichever grant
// would cross the cap.
func applyAnnualCap(policy *repository.AccrualPolicy, grants []Grant) []Grant {
	if policy.AnnualCap == nil {
		return grants
	}

	runningByYear := map[int]decimal.Decimal{}
	capped := make([]Grant, 0, len(grants))
	for _, g := range grants {
		year := g.EffectiveDate.Year()
		running := runningByYear[year]
		remaining := policy.AnnualCap.Sub(running)
		if !remaining.IsPositive() {
			continue
		}
		if g.Days.GreaterThan(remaining) {
			g.Days = remaining
		}
		runningByYear[year] = running.Add(g.Days)
		capped = append(capped, g)
	}
	return capped
}

// CarryForward computes how much of an unused balance survives into the
// next year under policy's carry-forward cap, and the date it expires if
// CarryForwardExpiryMonths is set.
func CarryForward(policy *repository.AccrualPolicy, unused decimal.Decimal, yearEnd time.Time) (amount decimal.Decimal, expiresAt *time.Time) {
	amount = unused
	if policy.CarryForwardCap != nil && amount.GreaterThan(*policy.CarryForwardCap) {
		amount = *policy.CarryForwardCap
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if policy.CarryForwardExpiryMonths != nil && *policy.CarryForwardExpiryMonths > 0 {
		t := yearEnd.AddDate(0, *policy.CarryForwardExpiryMonths, 0)
		expiresAt = &t
	}
	return amount, expiresAt
}

func periodStartFor(frequency string, at time.Time) time.Time {
	switch frequency {
	case "yearly":
		return time.Date(at.Year(), time.January, 1, 0, 0, 0, 0, at.Location())
	case "biweekly":
		return at.AddDate(0, 0, -13)
	default: // monthly
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	}
}

func periodEndFor(frequency string, at time.Time) time.Time {
	switch frequency {
	case "yearly":
		return time.Date(at.Year(), time.December, 31, 0, 0, 0, 0, at.Location())
	case "biweekly":
		return at
	default: // monthly
		return periodStartFor(frequency, at).AddDate(0, 1, -1)
	}
}

// periodsInRange returns the accrual instants for frequency that fall
// within [from, to], one per period boundary (month-start for monthly,
// year-start for yearly, every 14 days for biweekly).
func periodsInRange(frequency string, from, to time.Time) []time.Time {
	var periods []time.Time
	switch frequency {
	case "yearly":
		for y := from.Year(); y <= to.Year(); y++ {
			at := time.Date(y, time.January, 1, 0, 0, 0, 0, from.Location())
			if !at.Before(from) && !at.After(to) {
				periods = append(periods, at)
			}
		}
	case "biweekly":
		current := from
		for !current.After(to) {
			periods = append(periods, current)
			current = current.AddDate(0, 0, 14)
		}
	default: // monthly
		current := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
		end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, to.Location())
		for !current.After(end) {
			if !current.Before(from) && !current.After(to) {
				periods = append(periods, current)
			}
			current = current.AddDate(0, 1, 0)
		}
	}
	return periods
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func monthsBetween(hireDate, at time.Time) int {
	months := (at.Year()-hireDate.Year())*12 + int(at.Month()-hireDate.Month())
	if at.Day() < hireDate.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

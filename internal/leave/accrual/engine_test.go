package accrual

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrcore/hrcore/internal/leave/repository"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEngine_FixedMonthly(t *testing.T) {
	policy := &repository.AccrualPolicy{
		ID:              "p1",
		Method:          "fixed",
		Frequency:       "monthly",
		AmountPerPeriod: decimal.NewFromFloat(1.67),
	}
	hireDate := date(2020, time.January, 1)

	grants, err := NewEngine().Evaluate(policy, hireDate, nil, date(2026, time.January, 1), date(2026, time.December, 31))
	require.NoError(t, err)
	assert.Len(t, grants, 12)
	for _, g := range grants {
		assert.True(t, decimal.NewFromFloat(1.67).Equal(g.Days))
	}
}

func TestEngine_FixedMonthly_AnnualCap(t *testing.T) {
	cap := decimal.NewFromInt(10)
	policy := &repository.AccrualPolicy{
		ID:              "p1",
		Method:          "fixed",
		Frequency:       "monthly",
		AmountPerPeriod: decimal.NewFromInt(2),
		AnnualCap:       &cap,
	}
	hireDate := date(2020, time.January, 1)

	grants, err := NewEngine().Evaluate(policy, hireDate, nil, date(2026, time.January, 1), date(2026, time.December, 31))
	require.NoError(t, err)

	total := decimal.Zero
	for _, g := range grants {
		total = total.Add(g.Days)
	}
	assert.True(t, total.Equal(cap), "total %s should equal cap %s", total, cap)
}

func TestEngine_Prorated_MidMonthHire(t *testing.T) {
	policy := &repository.AccrualPolicy{
		ID:              "p1",
		Method:          "prorated",
		Frequency:       "monthly",
		AmountPerPeriod: decimal.NewFromInt(2),
	}
	hireDate := date(2026, time.June, 16)

	grants, err := NewEngine().Evaluate(policy, hireDate, nil, date(2026, time.June, 1), date(2026, time.June, 30))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Days.LessThan(policy.AmountPerPeriod), "prorated grant %s should be less than full %s", grants[0].Days, policy.AmountPerPeriod)
}

func TestEngine_Tiered(t *testing.T) {
	tiersJSON := `[{"after_months":0,"amount_per_period":"1.25"},{"after_months":36,"amount_per_period":"1.67"},{"after_months":60,"amount_per_period":"2.08"}]`
	policy := &repository.AccrualPolicy{
		ID:        "p1",
		Method:    "tiered",
		Frequency: "monthly",
		Tiers:     []byte(tiersJSON),
	}
	hireDate := date(2020, time.January, 1)

	grants, err := NewEngine().Evaluate(policy, hireDate, nil, date(2026, time.January, 1), date(2026, time.January, 31))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	// by Jan 2026 the employee has 6 years tenure, well past the 60-month tier
	assert.True(t, decimal.RequireFromString("2.08").Equal(grants[0].Days))
}

func TestEngine_RuleBased(t *testing.T) {
	rule := "hours_worked / 40"
	policy := &repository.AccrualPolicy{
		ID:             "p1",
		Method:         "rule_based",
		Frequency:      "monthly",
		RuleExpression: &rule,
	}
	ctx := map[string]interface{}{"hours_worked": decimal.NewFromInt(160)}

	grants, err := NewEngine().Evaluate(policy, date(2020, 1, 1), ctx, date(2026, time.March, 1), date(2026, time.March, 31))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, decimal.NewFromInt(4).Equal(grants[0].Days))
}

func TestCarryForward_CapAndExpiry(t *testing.T) {
	cfCap := decimal.NewFromInt(5)
	expiryMonths := 3
	policy := &repository.AccrualPolicy{
		CarryForwardCap:          &cfCap,
		CarryForwardExpiryMonths: &expiryMonths,
	}

	amount, expiresAt := CarryForward(policy, decimal.NewFromInt(8), date(2026, time.December, 31))
	assert.True(t, amount.Equal(cfCap))
	require.NotNil(t, expiresAt)
	assert.Equal(t, date(2027, time.March, 31), *expiresAt)
}

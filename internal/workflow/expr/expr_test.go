package expr

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBool_Comparisons(t *testing.T) {
	ctx := map[string]interface{}{
		"amount":      decimal.NewFromInt(1500),
		"department":  "engineering",
		"is_manager":  true,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`amount > 1000`, true},
		{`amount > 2000`, false},
		{`amount >= 1500`, true},
		{`department == "engineering"`, true},
		{`department != "sales"`, true},
		{`is_manager and amount > 1000`, true},
		{`not is_manager`, false},
		{`(amount > 1000) or (department == "sales")`, true},
		{`amount > 1000 and department == "sales"`, false},
	}

	for _, c := range cases {
		got, err := EvalBool(c.expr, ctx)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}
}

func TestEvalNumber_Arithmetic(t *testing.T) {
	ctx := map[string]interface{}{
		"hours_worked": decimal.NewFromInt(160),
	}

	got, err := EvalNumber(`hours_worked / 40`, ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(got))

	got, err = EvalNumber(`(hours_worked - 40) * 0.05`, ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(6).Equal(got))
}

func TestEval_UnknownIdentifier(t *testing.T) {
	_, err := EvalBool(`missing > 1`, map[string]interface{}{})
	require.Error(t, err)
}

func TestEval_DivisionByZero(t *testing.T) {
	_, err := EvalNumber(`1 / 0`, map[string]interface{}{})
	require.Error(t, err)
}

func TestEval_TypeMismatch(t *testing.T) {
	_, err := EvalBool(`"a" > 1`, map[string]interface{}{})
	require.Error(t, err)
}

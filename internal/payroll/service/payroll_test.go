package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHashInputs_StableUnderReordering(t *testing.T) {
	a := []EmployeeInput{
		{EmployeeID: "emp-1", Gross: decimal.NewFromInt(1000), Net: decimal.NewFromInt(900)},
		{EmployeeID: "emp-2", Gross: decimal.NewFromInt(2000), Net: decimal.NewFromInt(1800)},
	}
	b := []EmployeeInput{a[1], a[0]}

	h1, err := hashInputs(a)
	assert.NoError(t, err)
	h2, err := hashInputs(b)
	assert.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashInputs_ChangesWithAmount(t *testing.T) {
	a := []EmployeeInput{{EmployeeID: "emp-1", Gross: decimal.NewFromInt(1000)}}
	b := []EmployeeInput{{EmployeeID: "emp-1", Gross: decimal.NewFromInt(1001)}}

	h1, _ := hashInputs(a)
	h2, _ := hashInputs(b)
	assert.NotEqual(t, h1, h2)
}

package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeDiscountPercentage(t *testing.T) {
	code := &PromoCode{Type: DiscountTypePercentage, Value: decimal.NewFromInt(20)}
	result := ComputeDiscount(decimal.NewFromInt(100), code)
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(20)), "got %s", result.DiscountAmount)
	assert.True(t, result.FinalAmount.Equal(decimal.NewFromInt(80)), "got %s", result.FinalAmount)
}

func TestComputeDiscountPercentageRounding(t *testing.T) {
	code := &PromoCode{Type: DiscountTypePercentage, Value: decimal.NewFromInt(15)}
	result := ComputeDiscount(decimal.RequireFromString("19.99"), code)
	// 19.99 * 0.15 = 2.9985, rounds half-up to 3.00
	assert.True(t, result.DiscountAmount.Equal(decimal.RequireFromString("3.00")), "got %s", result.DiscountAmount)
	assert.True(t, result.FinalAmount.Equal(decimal.RequireFromString("16.99")), "got %s", result.FinalAmount)
}

func TestComputeDiscountFixedNeverNegative(t *testing.T) {
	code := &PromoCode{Type: DiscountTypeFixed, Value: decimal.NewFromInt(10)}
	result := ComputeDiscount(decimal.NewFromInt(5), code)
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(5)), "fixed discount clamps to the amount")
	assert.True(t, result.FinalAmount.IsZero())
}

func TestComputeDiscountFixedBelowAmount(t *testing.T) {
	code := &PromoCode{Type: DiscountTypeFixed, Value: decimal.NewFromInt(10)}
	result := ComputeDiscount(decimal.NewFromInt(50), code)
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.FinalAmount.Equal(decimal.NewFromInt(40)))
}

func TestMatchesCodeIgnoresCase(t *testing.T) {
	code := &PromoCode{Code: "BIENVENUE20"}
	assert.True(t, code.MatchesCode("bienvenue20"))
	assert.True(t, code.MatchesCode("  Bienvenue20 "))
	assert.False(t, code.MatchesCode("BIENVENUE21"))
}

func TestAppliesToPlan(t *testing.T) {
	code := &PromoCode{ApplicablePlans: []string{"premium", "pro"}}
	assert.True(t, code.AppliesToPlan("premium"))
	assert.False(t, code.AppliesToPlan("basic"))

	code.ApplicablePlans = []string{PlanAll}
	assert.True(t, code.AppliesToPlan("basic"))
}

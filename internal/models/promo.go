package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// DiscountType is the kind of discount a promo code grants.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// PlanAll is the sentinel plan identifier meaning a code applies to every plan.
const PlanAll = "all"

// PromoCode is a promotional code gating discounted subscription pricing.
type PromoCode struct {
	ID              string          `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	Description     string          `db:"description" json:"description"`
	Type            DiscountType    `db:"type" json:"type"`
	Value           decimal.Decimal `db:"value" json:"value"`
	ValidFrom       time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil      time.Time       `db:"valid_until" json:"valid_until"`
	MaxUses         int             `db:"max_uses" json:"max_uses"`
	CurrentUses     int             `db:"current_uses" json:"current_uses"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	ApplicablePlans pq.StringArray  `db:"applicable_plans" json:"applicable_plans"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// MatchesCode reports whether the supplied code matches, ignoring case.
func (p *PromoCode) MatchesCode(code string) bool {
	return strings.EqualFold(p.Code, strings.TrimSpace(code))
}

// AppliesToPlan reports whether the code may discount the given plan.
func (p *PromoCode) AppliesToPlan(planID string) bool {
	for _, plan := range p.ApplicablePlans {
		if plan == PlanAll || plan == planID {
			return true
		}
	}
	return false
}

// PromoCodeUsage is one entry of the append-only redemption ledger. Rows are
// created exactly once per successful redemption and never mutated.
type PromoCodeUsage struct {
	ID             string          `db:"id" json:"id"`
	PromoCodeID    string          `db:"promo_code_id" json:"promo_code_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	UsedAt         time.Time       `db:"used_at" json:"used_at"`
	OriginalAmount decimal.Decimal `db:"original_amount" json:"original_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount    decimal.Decimal `db:"final_amount" json:"final_amount"`
}

// Discount is the priced outcome of applying a promo code.
type Discount struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

var oneHundred = decimal.NewFromInt(100)

// ComputeDiscount prices a promo code against an amount. Percentage values
// round half-up to two decimal places; fixed discounts never exceed the
// original amount, so the final amount never goes below zero.
func ComputeDiscount(originalAmount decimal.Decimal, code *PromoCode) Discount {
	var discount decimal.Decimal
	switch code.Type {
	case DiscountTypePercentage:
		discount = originalAmount.Mul(code.Value).Div(oneHundred).Round(2)
	case DiscountTypeFixed:
		discount = code.Value
		if discount.GreaterThan(originalAmount) {
			discount = originalAmount
		}
	}

	final := originalAmount.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	return Discount{DiscountAmount: discount, FinalAmount: final}
}

// CreatePromoRequest is the payload for registering a promo code.
type CreatePromoRequest struct {
	Code            string          `json:"code" validate:"required,max=64"`
	Description     string          `json:"description"`
	Type            DiscountType    `json:"type" validate:"required,oneof=percentage fixed"`
	Value           decimal.Decimal `json:"value" validate:"required"`
	ValidFrom       time.Time       `json:"valid_from" validate:"required"`
	ValidUntil      time.Time       `json:"valid_until" validate:"required"`
	MaxUses         int             `json:"max_uses" validate:"min=0"`
	ApplicablePlans []string        `json:"applicable_plans" validate:"required,min=1"`
}

// UpdatePromoRequest is the payload for editing a promo code.
type UpdatePromoRequest struct {
	Description     *string          `json:"description,omitempty"`
	Type            *DiscountType    `json:"type,omitempty" validate:"omitempty,oneof=percentage fixed"`
	Value           *decimal.Decimal `json:"value,omitempty"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ValidUntil      *time.Time       `json:"valid_until,omitempty"`
	MaxUses         *int             `json:"max_uses,omitempty" validate:"omitempty,min=0"`
	IsActive        *bool            `json:"is_active,omitempty"`
	ApplicablePlans []string         `json:"applicable_plans,omitempty"`
}

// ValidatePromoRequest asks whether a code can be applied to a plan.
type ValidatePromoRequest struct {
	Code   string `json:"code" validate:"required"`
	PlanID string `json:"plan_id" validate:"required"`
}

// PromoPreview is the priced answer to a validation request.
type PromoPreview struct {
	Promo    PromoCode       `json:"promo"`
	Pricing  Discount        `json:"pricing"`
	Original decimal.Decimal `json:"original_amount"`
}

// PromoFilter captures filtering criteria for listing promo codes.
type PromoFilter struct {
	ActiveOnly bool
	Page       int
	PageSize   int
}

// UsageFilter captures filtering criteria for the redemption ledger.
type UsageFilter struct {
	PromoCodeID string
	UserID      string
	Page        int
	PageSize    int
}

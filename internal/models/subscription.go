package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus tracks the billing state of a pro subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Plan is a subscription tier professionals purchase to reply to requests.
type Plan struct {
	ID           string          `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description"`
	MonthlyPrice decimal.Decimal `db:"monthly_price" json:"monthly_price"`
	Active       bool            `db:"active" json:"active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Subscription is a purchased plan period, with the pricing breakdown of any
// promo code applied at purchase time.
type Subscription struct {
	ID             string             `db:"id" json:"id"`
	UserID         string             `db:"user_id" json:"user_id"`
	PlanID         string             `db:"plan_id" json:"plan_id"`
	PromoCodeID    *string            `db:"promo_code_id" json:"promo_code_id,omitempty"`
	OriginalAmount decimal.Decimal    `db:"original_amount" json:"original_amount"`
	DiscountAmount decimal.Decimal    `db:"discount_amount" json:"discount_amount"`
	FinalAmount    decimal.Decimal    `db:"final_amount" json:"final_amount"`
	Status         SubscriptionStatus `db:"status" json:"status"`
	StartsAt       time.Time          `db:"starts_at" json:"starts_at"`
	ExpiresAt      time.Time          `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

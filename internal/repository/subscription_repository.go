package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/depanneo/depanneo-api/internal/models"
)

// SubscriptionRepository provides persistence for plans and purchased
// subscriptions.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository creates the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ListPlans returns plans, optionally restricted to active ones.
func (r *SubscriptionRepository) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := `SELECT id, name, description, monthly_price, active, created_at FROM plans`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY monthly_price ASC`

	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// FindPlanByID returns a plan by identifier.
func (r *SubscriptionRepository) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	const query = `SELECT id, name, description, monthly_price, active, created_at FROM plans WHERE id = $1 LIMIT 1`
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return &plan, nil
}

// Create inserts a purchased subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.create(ctx, r.db, sub)
}

// CreateTx inserts a subscription within an existing transaction. Promo
// purchases use it to join the redeem transaction.
func (r *SubscriptionRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, sub *models.Subscription) error {
	return r.create(ctx, tx, sub)
}

func (r *SubscriptionRepository) create(ctx context.Context, ext sqlx.ExtContext, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO subscriptions (id, user_id, plan_id, promo_code_id, original_amount, discount_amount, final_amount, status, starts_at, expires_at, created_at)
VALUES (:id, :user_id, :plan_id, :promo_code_id, :original_amount, :discount_amount, :final_amount, :status, :starts_at, :expires_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, sub); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// FindActiveByUser returns the user's current active subscription, if any.
func (r *SubscriptionRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	const query = `SELECT id, user_id, plan_id, promo_code_id, original_amount, discount_amount, final_amount, status, starts_at, expires_at, created_at
FROM subscriptions WHERE user_id = $1 AND status = $2 AND expires_at > $3 ORDER BY expires_at DESC LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, userID, models.SubscriptionStatusActive, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active subscription: %w", err)
	}
	return &sub, nil
}

// ListByUser returns the user's subscription history, newest first.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	const query = `SELECT id, user_id, plan_id, promo_code_id, original_amount, discount_amount, final_amount, status, starts_at, expires_at, created_at
FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	var subs []models.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ExpireOverdue flips active subscriptions past their expiry and returns the
// number of rows changed.
func (r *SubscriptionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE subscriptions SET status = $1 WHERE status = $2 AND expires_at <= $3`
	result, err := r.db.ExecContext(ctx, query, models.SubscriptionStatusExpired, models.SubscriptionStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired subscriptions rows affected: %w", err)
	}
	return affected, nil
}

// CountActive returns the number of currently active subscriptions.
func (r *SubscriptionRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM subscriptions WHERE status = $1 AND expires_at > $2`
	var total int
	if err := r.db.GetContext(ctx, &total, query, models.SubscriptionStatusActive, now); err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return total, nil
}

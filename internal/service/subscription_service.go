package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type subscriptionRepository interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
	Create(ctx context.Context, sub *models.Subscription) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, sub *models.Subscription) error
	FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]models.Subscription, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type promoRedeemer interface {
	Redeem(ctx context.Context, userID, planID, code string, originalAmount decimal.Decimal, then func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error) (*models.PromoCodeUsage, error)
}

// PurchaseRequest is the payload for buying a plan.
type PurchaseRequest struct {
	PlanID    string `json:"plan_id" validate:"required"`
	PromoCode string `json:"promo_code"`
}

// SubscriptionService implements plan purchase and subscription lifecycle.
type SubscriptionService struct {
	repo      subscriptionRepository
	promos    promoRedeemer
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	period    time.Duration
	now       func() time.Time
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(repo subscriptionRepository, promos promoRedeemer, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubscriptionService{
		repo:      repo,
		promos:    promos,
		audit:     audit,
		validator: validate,
		logger:    logger,
		period:    30 * 24 * time.Hour,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Tests use it to pin "now".
func (s *SubscriptionService) WithClock(now func() time.Time) *SubscriptionService {
	s.now = now
	return s
}

// Plans returns the purchasable plans.
func (s *SubscriptionService) Plans(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.ListPlans(ctx, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// Purchase buys a plan for a professional, applying a promo code when one is
// supplied. The promo redemption happens before the subscription is written,
// so a rejected code fails the whole purchase.
func (s *SubscriptionService) Purchase(ctx context.Context, userID string, req PurchaseRequest) (*models.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase payload")
	}

	now := s.now().UTC()
	if _, err := s.repo.FindActiveByUser(ctx, userID, now); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an active subscription already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}

	plan, err := s.repo.FindPlanByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan is no longer available")
	}

	sub := &models.Subscription{
		UserID:         userID,
		PlanID:         plan.ID,
		OriginalAmount: plan.MonthlyPrice,
		DiscountAmount: decimal.Zero,
		FinalAmount:    plan.MonthlyPrice,
		Status:         models.SubscriptionStatusActive,
		StartsAt:       now,
		ExpiresAt:      now.Add(s.period),
	}

	if req.PromoCode != "" {
		// The subscription insert joins the redeem transaction: if it fails,
		// the ledger entry and counter increment roll back and the user's
		// single-use slot stays available.
		_, err := s.promos.Redeem(ctx, userID, plan.ID, req.PromoCode, plan.MonthlyPrice, func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error {
			sub.PromoCodeID = &usage.PromoCodeID
			sub.DiscountAmount = usage.DiscountAmount
			sub.FinalAmount = usage.FinalAmount
			return s.repo.CreateTx(ctx, tx, sub)
		})
		if err != nil {
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
		}
	} else if err := s.repo.Create(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     models.AuditActionPlanPurchase,
			Resource:   "subscriptions",
			ResourceID: &sub.ID,
		}); err != nil {
			s.logger.Warn("failed to record purchase audit log", zap.Error(err))
		}
	}

	return sub, nil
}

// Current returns the caller's active subscription.
func (s *SubscriptionService) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.FindActiveByUser(ctx, userID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active subscription")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return sub, nil
}

// History returns the caller's subscription history, newest first.
func (s *SubscriptionService) History(ctx context.Context, userID string) ([]models.Subscription, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscriptions")
	}
	return subs, nil
}

// ExpireOverdue flips lapsed subscriptions to expired. The retention sweeper
// calls it on its schedule.
func (s *SubscriptionService) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire subscriptions")
	}
	if expired > 0 {
		s.logger.Info("expired lapsed subscriptions", zap.Int64("count", expired))
	}
	return expired, nil
}

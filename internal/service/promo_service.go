package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type promoRepository interface {
	FindByCode(ctx context.Context, code string) (*models.PromoCode, error)
	FindByID(ctx context.Context, id string) (*models.PromoCode, error)
	List(ctx context.Context, filter models.PromoFilter) ([]models.PromoCode, int, error)
	Create(ctx context.Context, promo *models.PromoCode) error
	Update(ctx context.Context, promo *models.PromoCode) error
	HasUserUsed(ctx context.Context, promoCodeID, userID string) (bool, error)
	Redeem(ctx context.Context, usage *models.PromoCodeUsage, then func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error) error
	ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, int, error)
}

type planReader interface {
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

type promoCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

const promoCatalogCacheKey = "promos:catalog:active"

// PromoService implements promo code validation, pricing and redemption.
type PromoService struct {
	repo      promoRepository
	plans     planReader
	cache     promoCache
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewPromoService constructs a PromoService. Cache and audit sinks are
// optional.
func NewPromoService(repo promoRepository, plans planReader, cache promoCache, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *PromoService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &PromoService{
		repo:      repo,
		plans:     plans,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Tests use it to pin "now".
func (s *PromoService) WithClock(now func() time.Time) *PromoService {
	s.now = now
	return s
}

// WithMetrics attaches the Prometheus counters.
func (s *PromoService) WithMetrics(metrics *MetricsService) *PromoService {
	s.metrics = metrics
	return s
}

// Validate runs the eligibility checks for a code against a user and plan.
// Checks are ordered and short-circuit: existence and active flag, validity
// window start, validity window end, global usage cap, plan eligibility, then
// per-user single use. The first failure is the one reported.
func (s *PromoService) Validate(ctx context.Context, code, userID, planID string) (*models.PromoCode, error) {
	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCode
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promo code")
	}
	if !promo.IsActive {
		return nil, appErrors.ErrInvalidCode
	}

	now := s.now().UTC()
	if now.Before(promo.ValidFrom) {
		return nil, appErrors.ErrNotYetValid
	}
	if now.After(promo.ValidUntil) {
		return nil, appErrors.ErrExpired
	}
	if promo.MaxUses > 0 && promo.CurrentUses >= promo.MaxUses {
		return nil, appErrors.ErrUsageLimitReached
	}
	if !promo.AppliesToPlan(planID) {
		return nil, appErrors.ErrPlanNotEligible
	}

	used, err := s.repo.HasUserUsed(ctx, promo.ID, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prior usage")
	}
	if used {
		return nil, appErrors.ErrAlreadyUsed
	}

	return promo, nil
}

// Preview validates a code and prices it against the plan's monthly price
// without consuming a use.
func (s *PromoService) Preview(ctx context.Context, userID string, req models.ValidatePromoRequest) (*models.PromoPreview, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation payload")
	}

	promo, err := s.Validate(ctx, req.Code, userID, req.PlanID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.FindPlanByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}

	pricing := models.ComputeDiscount(plan.MonthlyPrice, promo)
	return &models.PromoPreview{Promo: *promo, Pricing: pricing, Original: plan.MonthlyPrice}, nil
}

// Redeem validates the code and consumes one use, appending the ledger entry
// and bumping the counter atomically. A non-nil "then" callback runs inside
// the redeem transaction so dependent writes commit or roll back with the
// usage. It returns the ledger entry.
func (s *PromoService) Redeem(ctx context.Context, userID, planID, code string, originalAmount decimal.Decimal, then func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error) (*models.PromoCodeUsage, error) {
	promo, err := s.Validate(ctx, code, userID, planID)
	if err != nil {
		return nil, err
	}

	pricing := models.ComputeDiscount(originalAmount, promo)
	usage := &models.PromoCodeUsage{
		PromoCodeID:    promo.ID,
		UserID:         userID,
		UsedAt:         s.now().UTC(),
		OriginalAmount: originalAmount,
		DiscountAmount: pricing.DiscountAmount,
		FinalAmount:    pricing.FinalAmount,
	}
	if err := s.repo.Redeem(ctx, usage, then); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem promo code")
	}

	s.metrics.RecordRedemption()
	s.invalidateCatalog(ctx)
	s.recordAudit(ctx, userID, models.AuditActionPromoRedeem, promo.ID)
	return usage, nil
}

// Catalog returns active promo codes, served from cache when warm.
func (s *PromoService) Catalog(ctx context.Context) ([]models.PromoCode, error) {
	if s.cache != nil {
		var cached []models.PromoCode
		if err := s.cache.Get(ctx, promoCatalogCacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("promo catalog cache read failed", zap.Error(err))
		}
	}

	promos, _, err := s.repo.List(ctx, models.PromoFilter{ActiveOnly: true, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promo codes")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, promoCatalogCacheKey, promos, s.cacheTTL); err != nil {
			s.logger.Warn("promo catalog cache write failed", zap.Error(err))
		}
	}
	return promos, nil
}

// List returns promo codes for administration.
func (s *PromoService) List(ctx context.Context, filter models.PromoFilter) ([]models.PromoCode, *models.Pagination, error) {
	promos, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promo codes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return promos, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one promo code.
func (s *PromoService) Get(ctx context.Context, id string) (*models.PromoCode, error) {
	promo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "promo code not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promo code")
	}
	return promo, nil
}

// Create registers a new promo code.
func (s *PromoService) Create(ctx context.Context, actorID string, req models.CreatePromoRequest) (*models.PromoCode, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promo payload")
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "valid_until must be after valid_from")
	}
	if req.Type == models.DiscountTypePercentage && req.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "percentage value cannot exceed 100")
	}
	if req.Value.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "value cannot be negative")
	}

	if _, err := s.repo.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "promo code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check promo code")
	}

	promo := &models.PromoCode{
		Code:            req.Code,
		Description:     req.Description,
		Type:            req.Type,
		Value:           req.Value,
		ValidFrom:       req.ValidFrom.UTC(),
		ValidUntil:      req.ValidUntil.UTC(),
		MaxUses:         req.MaxUses,
		IsActive:        true,
		ApplicablePlans: pq.StringArray(req.ApplicablePlans),
	}
	if err := s.repo.Create(ctx, promo); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create promo code")
	}

	s.invalidateCatalog(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionPromoCreate, promo.ID)
	return promo, nil
}

// Update edits a promo code. The usage counter is untouched.
func (s *PromoService) Update(ctx context.Context, actorID, id string, req models.UpdatePromoRequest) (*models.PromoCode, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promo payload")
	}

	promo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "promo code not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promo code")
	}

	if req.Description != nil {
		promo.Description = *req.Description
	}
	if req.Type != nil {
		promo.Type = *req.Type
	}
	if req.Value != nil {
		if req.Value.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "value cannot be negative")
		}
		promo.Value = *req.Value
	}
	if req.ValidFrom != nil {
		promo.ValidFrom = req.ValidFrom.UTC()
	}
	if req.ValidUntil != nil {
		promo.ValidUntil = req.ValidUntil.UTC()
	}
	if !promo.ValidUntil.After(promo.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "valid_until must be after valid_from")
	}
	if req.MaxUses != nil {
		promo.MaxUses = *req.MaxUses
	}
	if req.IsActive != nil {
		promo.IsActive = *req.IsActive
	}
	if req.ApplicablePlans != nil {
		promo.ApplicablePlans = pq.StringArray(req.ApplicablePlans)
	}

	if err := s.repo.Update(ctx, promo); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update promo code")
	}

	s.invalidateCatalog(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionPromoUpdate, promo.ID)
	return promo, nil
}

// ListUsages returns redemption ledger entries.
func (s *PromoService) ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, *models.Pagination, error) {
	usages, total, err := s.repo.ListUsages(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promo usages")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return usages, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *PromoService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "promos:catalog:*"); err != nil {
		s.logger.Warn("promo catalog cache invalidation failed", zap.Error(err))
	}
}

func (s *PromoService) recordAudit(ctx context.Context, actorID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "promo_codes",
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record promo audit log", zap.Error(err))
	}
}

package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type promoRepoStub struct {
	promos   map[string]*models.PromoCode
	used     map[string]bool
	redeemed []*models.PromoCodeUsage
	err      error
}

func (s *promoRepoStub) key(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (s *promoRepoStub) FindByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	if s.err != nil {
		return nil, s.err
	}
	if promo, ok := s.promos[s.key(code)]; ok {
		copied := *promo
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *promoRepoStub) FindByID(ctx context.Context, id string) (*models.PromoCode, error) {
	for _, promo := range s.promos {
		if promo.ID == id {
			copied := *promo
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *promoRepoStub) List(ctx context.Context, filter models.PromoFilter) ([]models.PromoCode, int, error) {
	var result []models.PromoCode
	for _, promo := range s.promos {
		if filter.ActiveOnly && !promo.IsActive {
			continue
		}
		result = append(result, *promo)
	}
	return result, len(result), nil
}

func (s *promoRepoStub) Create(ctx context.Context, promo *models.PromoCode) error {
	if s.promos == nil {
		s.promos = make(map[string]*models.PromoCode)
	}
	if promo.ID == "" {
		promo.ID = "generated"
	}
	s.promos[s.key(promo.Code)] = promo
	return nil
}

func (s *promoRepoStub) Update(ctx context.Context, promo *models.PromoCode) error {
	s.promos[s.key(promo.Code)] = promo
	return nil
}

func (s *promoRepoStub) HasUserUsed(ctx context.Context, promoCodeID, userID string) (bool, error) {
	return s.used[promoCodeID+":"+userID], nil
}

func (s *promoRepoStub) Redeem(ctx context.Context, usage *models.PromoCodeUsage, then func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error) error {
	if then != nil {
		if err := then(nil, usage); err != nil {
			return err
		}
	}
	if s.used == nil {
		s.used = make(map[string]bool)
	}
	s.used[usage.PromoCodeID+":"+usage.UserID] = true
	for _, promo := range s.promos {
		if promo.ID == usage.PromoCodeID {
			promo.CurrentUses++
		}
	}
	s.redeemed = append(s.redeemed, usage)
	return nil
}

func (s *promoRepoStub) ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, int, error) {
	var result []models.PromoCodeUsage
	for _, usage := range s.redeemed {
		result = append(result, *usage)
	}
	return result, len(result), nil
}

type planReaderStub struct {
	plans map[string]*models.Plan
}

func (s *planReaderStub) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := s.plans[id]; ok {
		copied := *plan
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type auditLoggerStub struct {
	logs []*models.AuditLog
}

func (a *auditLoggerStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validPromo() *models.PromoCode {
	return &models.PromoCode{
		ID:              "promo-1",
		Code:            "BIENVENUE20",
		Type:            models.DiscountTypePercentage,
		Value:           decimal.NewFromInt(20),
		ValidFrom:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:      time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxUses:         100,
		CurrentUses:     0,
		IsActive:        true,
		ApplicablePlans: pq.StringArray{models.PlanAll},
	}
}

func newPromoServiceForTest(repo *promoRepoStub, plans *planReaderStub, now time.Time) *PromoService {
	return NewPromoService(repo, plans, nil, nil, nil, nil, 0).WithClock(fixedClock(now))
}

func TestValidateUnknownCode(t *testing.T) {
	repo := &promoRepoStub{}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "NOPE", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCode)
}

func TestValidateInactiveCodeReportsInvalid(t *testing.T) {
	promo := validPromo()
	promo.IsActive = false
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": promo}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCode)
}

func TestValidateBeforeWindow(t *testing.T) {
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": validPromo()}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrNotYetValid)
}

func TestValidateAfterWindow(t *testing.T) {
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": validPromo()}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrExpired)
}

func TestValidateUsageCap(t *testing.T) {
	promo := validPromo()
	promo.CurrentUses = promo.MaxUses
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": promo}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrUsageLimitReached)
}

func TestValidatePlanEligibility(t *testing.T) {
	promo := validPromo()
	promo.ApplicablePlans = pq.StringArray{"plan-premium"}
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": promo}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-basic")
	assert.ErrorIs(t, err, appErrors.ErrPlanNotEligible)
}

func TestValidateSingleUsePerUser(t *testing.T) {
	promo := validPromo()
	repo := &promoRepoStub{
		promos: map[string]*models.PromoCode{"bienvenue20": promo},
		used:   map[string]bool{"promo-1:u1": true},
	}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyUsed)

	_, err = svc.Validate(context.Background(), "BIENVENUE20", "u2", "plan-pro")
	assert.NoError(t, err)
}

func TestValidateCheckOrderExpiredBeatsPlanMismatch(t *testing.T) {
	promo := validPromo()
	promo.ApplicablePlans = pq.StringArray{"plan-premium"}
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": promo}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-basic")
	assert.ErrorIs(t, err, appErrors.ErrExpired)
}

func TestValidateCheckOrderCapBeatsAlreadyUsed(t *testing.T) {
	promo := validPromo()
	promo.CurrentUses = promo.MaxUses
	repo := &promoRepoStub{
		promos: map[string]*models.PromoCode{"bienvenue20": promo},
		used:   map[string]bool{"promo-1:u1": true},
	}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Validate(context.Background(), "BIENVENUE20", "u1", "plan-pro")
	assert.ErrorIs(t, err, appErrors.ErrUsageLimitReached)
}

func TestPreviewPricesAgainstPlan(t *testing.T) {
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": validPromo()}}
	plans := &planReaderStub{plans: map[string]*models.Plan{
		"plan-pro": {ID: "plan-pro", Name: "Pro", MonthlyPrice: decimal.NewFromFloat(49.90), Active: true},
	}}
	svc := newPromoServiceForTest(repo, plans, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	preview, err := svc.Preview(context.Background(), "u1", models.ValidatePromoRequest{Code: "BIENVENUE20", PlanID: "plan-pro"})
	require.NoError(t, err)
	assert.True(t, preview.Pricing.DiscountAmount.Equal(decimal.NewFromFloat(9.98)), "got %s", preview.Pricing.DiscountAmount)
	assert.True(t, preview.Pricing.FinalAmount.Equal(decimal.NewFromFloat(39.92)), "got %s", preview.Pricing.FinalAmount)
}

func TestRedeemAppendsLedgerThenBlocksSecondUse(t *testing.T) {
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": validPromo()}}
	audit := &auditLoggerStub{}
	svc := NewPromoService(repo, nil, nil, audit, nil, nil, 0).
		WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	usage, err := svc.Redeem(context.Background(), "u1", "plan-pro", "bienvenue20", decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	assert.True(t, usage.DiscountAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, usage.FinalAmount.Equal(decimal.NewFromInt(80)))
	require.Len(t, repo.redeemed, 1)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionPromoRedeem, audit.logs[0].Action)

	_, err = svc.Redeem(context.Background(), "u1", "plan-pro", "BIENVENUE20", decimal.NewFromInt(100), nil)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyUsed)
	assert.Len(t, repo.redeemed, 1)
}

func TestCreateRejectsPercentageOverHundred(t *testing.T) {
	repo := &promoRepoStub{}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Create(context.Background(), "admin", models.CreatePromoRequest{
		Code:            "TOOMUCH",
		Type:            models.DiscountTypePercentage,
		Value:           decimal.NewFromInt(150),
		ValidFrom:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:      time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		ApplicablePlans: []string{models.PlanAll},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	repo := &promoRepoStub{promos: map[string]*models.PromoCode{"bienvenue20": validPromo()}}
	svc := newPromoServiceForTest(repo, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.Create(context.Background(), "admin", models.CreatePromoRequest{
		Code:            "bienvenue20",
		Type:            models.DiscountTypeFixed,
		Value:           decimal.NewFromInt(5),
		ValidFrom:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:      time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		ApplicablePlans: []string{models.PlanAll},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/depanneo/depanneo-api/internal/models"
	apperrors "github.com/depanneo/depanneo-api/pkg/errors"
)

// PromoRepository provides persistence for promo codes and the redemption
// ledger.
type PromoRepository struct {
	db *sqlx.DB
}

// NewPromoRepository creates the repository.
func NewPromoRepository(db *sqlx.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

const promoColumns = "id, code, description, type, value, valid_from, valid_until, max_uses, current_uses, is_active, applicable_plans, created_at, updated_at"

// FindByCode returns a promo code by its case-insensitive code.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	query := fmt.Sprintf("SELECT %s FROM promo_codes WHERE LOWER(code) = LOWER($1) LIMIT 1", promoColumns)
	var promo models.PromoCode
	if err := r.db.GetContext(ctx, &promo, query, strings.TrimSpace(code)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find promo by code: %w", err)
	}
	return &promo, nil
}

// FindByID returns a promo code by identifier.
func (r *PromoRepository) FindByID(ctx context.Context, id string) (*models.PromoCode, error) {
	query := fmt.Sprintf("SELECT %s FROM promo_codes WHERE id = $1 LIMIT 1", promoColumns)
	var promo models.PromoCode
	if err := r.db.GetContext(ctx, &promo, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find promo by id: %w", err)
	}
	return &promo, nil
}

// List returns promo codes matching the filter with a total count.
func (r *PromoRepository) List(ctx context.Context, filter models.PromoFilter) ([]models.PromoCode, int, error) {
	baseQuery := `FROM promo_codes WHERE 1=1`
	var args []interface{}

	if filter.ActiveOnly {
		baseQuery += " AND is_active = TRUE"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", promoColumns, baseQuery, pageSize, offset)

	var promos []models.PromoCode
	if err := r.db.SelectContext(ctx, &promos, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list promo codes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count promo codes: %w", err)
	}

	return promos, total, nil
}

// Create inserts a new promo code.
func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) error {
	if promo.ID == "" {
		promo.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = now
	}
	promo.UpdatedAt = now

	const query = `INSERT INTO promo_codes (id, code, description, type, value, valid_from, valid_until, max_uses, current_uses, is_active, applicable_plans, created_at, updated_at)
VALUES (:id, :code, :description, :type, :value, :valid_from, :valid_until, :max_uses, :current_uses, :is_active, :applicable_plans, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, promo); err != nil {
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a promo code. The usage counter is
// deliberately excluded, it only moves through Redeem.
func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) error {
	promo.UpdatedAt = time.Now().UTC()
	const query = `UPDATE promo_codes SET description = :description, type = :type, value = :value, valid_from = :valid_from, valid_until = :valid_until, max_uses = :max_uses, is_active = :is_active, applicable_plans = :applicable_plans, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, promo); err != nil {
		return fmt.Errorf("update promo code: %w", err)
	}
	return nil
}

// HasUserUsed reports whether the user already has a ledger entry for the
// promo code.
func (r *PromoRepository) HasUserUsed(ctx context.Context, promoCodeID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2)`
	var used bool
	if err := r.db.GetContext(ctx, &used, query, promoCodeID, userID); err != nil {
		return false, fmt.Errorf("check promo usage: %w", err)
	}
	return used, nil
}

// Redeem appends a ledger entry and increments the usage counter in a single
// transaction. The promo row is locked first and the single-use and cap rules
// are re-checked under the lock, so concurrent redemptions of the last slot
// cannot both succeed. An optional "then" callback runs inside the same
// transaction after both writes; if it errors the whole redemption rolls back.
func (r *PromoRepository) Redeem(ctx context.Context, usage *models.PromoCodeUsage, then func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin redeem: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state struct {
		CurrentUses int `db:"current_uses"`
		MaxUses     int `db:"max_uses"`
	}
	const lockQuery = `SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &state, lockQuery, usage.PromoCodeID); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.ErrInvalidCode
		}
		return fmt.Errorf("lock promo code: %w", err)
	}
	if state.MaxUses > 0 && state.CurrentUses >= state.MaxUses {
		return apperrors.ErrUsageLimitReached
	}

	var used bool
	const usedQuery = `SELECT EXISTS (SELECT 1 FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2)`
	if err := tx.GetContext(ctx, &used, usedQuery, usage.PromoCodeID, usage.UserID); err != nil {
		return fmt.Errorf("recheck promo usage: %w", err)
	}
	if used {
		return apperrors.ErrAlreadyUsed
	}

	const insertQuery = `INSERT INTO promo_code_usages (id, promo_code_id, user_id, used_at, original_amount, discount_amount, final_amount)
VALUES (:id, :promo_code_id, :user_id, :used_at, :original_amount, :discount_amount, :final_amount)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, usage); err != nil {
		return fmt.Errorf("insert promo usage: %w", err)
	}

	const bumpQuery = `UPDATE promo_codes SET current_uses = current_uses + 1, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bumpQuery, usage.PromoCodeID, usage.UsedAt); err != nil {
		return fmt.Errorf("increment promo uses: %w", err)
	}

	// Dependent writes join the redeem transaction so a failure leaves the
	// ledger and counter untouched.
	if then != nil {
		if err := then(tx, usage); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redeem: %w", err)
	}
	return nil
}

// ListUsages returns ledger entries matching the filter with a total count,
// newest first.
func (r *PromoRepository) ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, int, error) {
	baseQuery := `FROM promo_code_usages WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.PromoCodeID != "" {
		conditions = append(conditions, fmt.Sprintf("promo_code_id = $%d", len(args)+1))
		args = append(args, filter.PromoCodeID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, promo_code_id, user_id, used_at, original_amount, discount_amount, final_amount %s ORDER BY used_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var usages []models.PromoCodeUsage
	if err := r.db.SelectContext(ctx, &usages, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list promo usages: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count promo usages: %w", err)
	}

	return usages, total, nil
}

// UsageTotals aggregates the redemption ledger for reporting.
func (r *PromoRepository) UsageTotals(ctx context.Context) (int, decimal.Decimal, error) {
	const query = `SELECT COUNT(*) AS redemptions, COALESCE(SUM(discount_amount), 0) AS discounted FROM promo_code_usages`
	var row struct {
		Redemptions int             `db:"redemptions"`
		Discounted  decimal.Decimal `db:"discounted"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return 0, decimal.Zero, fmt.Errorf("promo usage totals: %w", err)
	}
	return row.Redemptions, row.Discounted, nil
}

package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depanneo/depanneo-api/internal/models"
	apperrors "github.com/depanneo/depanneo-api/pkg/errors"
)

func newPromoRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindByCodeCaseInsensitive(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "description", "type", "value", "valid_from", "valid_until", "max_uses", "current_uses", "is_active", "applicable_plans", "created_at", "updated_at"}).
		AddRow("p1", "BIENVENUE20", "welcome", string(models.DiscountTypePercentage), "20", now, now.Add(24*time.Hour), 100, 0, true, pq.StringArray{models.PlanAll}, now, now)
	mock.ExpectQuery("SELECT .+ FROM promo_codes WHERE LOWER\\(code\\) = LOWER\\(\\$1\\)").
		WithArgs("bienvenue20").
		WillReturnRows(rows)

	promo, err := repo.FindByCode(context.Background(), " bienvenue20 ")
	require.NoError(t, err)
	assert.Equal(t, "BIENVENUE20", promo.Code)
	assert.True(t, promo.Value.Equal(decimal.NewFromInt(20)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCommitsLedgerAndCounter(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	mock.ExpectBegin()
	lockRows := sqlmock.NewRows([]string{"current_uses", "max_uses"}).AddRow(3, 100)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(lockRows)
	usedRows := sqlmock.NewRows([]string{"exists"}).AddRow(false)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "u1").
		WillReturnRows(usedRows)
	mock.ExpectExec("INSERT INTO promo_code_usages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET current_uses = current_uses + 1, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	usage := &models.PromoCodeUsage{
		PromoCodeID:    "p1",
		UserID:         "u1",
		OriginalAmount: decimal.NewFromInt(100),
		DiscountAmount: decimal.NewFromInt(20),
		FinalAmount:    decimal.NewFromInt(80),
	}
	err := repo.Redeem(context.Background(), usage, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, usage.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRunsDependentWriteInSameTx(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	mock.ExpectBegin()
	lockRows := sqlmock.NewRows([]string{"current_uses", "max_uses"}).AddRow(3, 100)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(lockRows)
	usedRows := sqlmock.NewRows([]string{"exists"}).AddRow(false)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "u1").
		WillReturnRows(usedRows)
	mock.ExpectExec("INSERT INTO promo_code_usages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET current_uses = current_uses + 1, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO subscriptions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Redeem(context.Background(), &models.PromoCodeUsage{PromoCodeID: "p1", UserID: "u1"}, func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error {
		_, execErr := tx.ExecContext(context.Background(), "INSERT INTO subscriptions (id) VALUES ($1)", "sub-1")
		return execErr
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRollsBackWhenDependentWriteFails(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	mock.ExpectBegin()
	lockRows := sqlmock.NewRows([]string{"current_uses", "max_uses"}).AddRow(3, 100)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(lockRows)
	usedRows := sqlmock.NewRows([]string{"exists"}).AddRow(false)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "u1").
		WillReturnRows(usedRows)
	mock.ExpectExec("INSERT INTO promo_code_usages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET current_uses = current_uses + 1, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	failure := errors.New("subscription insert failed")
	err := repo.Redeem(context.Background(), &models.PromoCodeUsage{PromoCodeID: "p1", UserID: "u1"}, func(tx *sqlx.Tx, usage *models.PromoCodeUsage) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRollsBackWhenAlreadyUsed(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	mock.ExpectBegin()
	lockRows := sqlmock.NewRows([]string{"current_uses", "max_uses"}).AddRow(3, 100)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(lockRows)
	usedRows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "u1").
		WillReturnRows(usedRows)
	mock.ExpectRollback()

	err := repo.Redeem(context.Background(), &models.PromoCodeUsage{PromoCodeID: "p1", UserID: "u1"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRollsBackWhenCapReached(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	mock.ExpectBegin()
	lockRows := sqlmock.NewRows([]string{"current_uses", "max_uses"}).AddRow(100, 100)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_uses, max_uses FROM promo_codes WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(lockRows)
	mock.ExpectRollback()

	err := repo.Redeem(context.Background(), &models.PromoCodeUsage{PromoCodeID: "p1", UserID: "u1"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrUsageLimitReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasUserUsed(t *testing.T) {
	db, mock, cleanup := newPromoRepoMock(t)
	defer cleanup()
	repo := NewPromoRepository(db)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "u1").
		WillReturnRows(rows)

	used, err := repo.HasUserUsed(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.True(t, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

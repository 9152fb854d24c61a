package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/depanneo/depanneo-api/internal/middleware"
	"github.com/depanneo/depanneo-api/internal/models"
	"github.com/depanneo/depanneo-api/internal/service"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type fakePromoSrv struct {
	catalog     []models.PromoCode
	catalogErr  error
	preview     *models.PromoPreview
	previewErr  error
	lastPreview struct {
		userID string
		req    models.ValidatePromoRequest
	}
	created   *models.PromoCode
	createErr error
}

func (f *fakePromoSrv) Catalog(context.Context) ([]models.PromoCode, error) {
	return f.catalog, f.catalogErr
}

func (f *fakePromoSrv) Preview(_ context.Context, userID string, req models.ValidatePromoRequest) (*models.PromoPreview, error) {
	f.lastPreview.userID = userID
	f.lastPreview.req = req
	return f.preview, f.previewErr
}

func (f *fakePromoSrv) List(context.Context, models.PromoFilter) ([]models.PromoCode, *models.Pagination, error) {
	return f.catalog, nil, nil
}

func (f *fakePromoSrv) Get(context.Context, string) (*models.PromoCode, error) {
	if len(f.catalog) == 0 {
		return nil, appErrors.ErrNotFound
	}
	return &f.catalog[0], nil
}

func (f *fakePromoSrv) Create(context.Context, string, models.CreatePromoRequest) (*models.PromoCode, error) {
	return f.created, f.createErr
}

func (f *fakePromoSrv) Update(context.Context, string, string, models.UpdatePromoRequest) (*models.PromoCode, error) {
	return f.created, f.createErr
}

func (f *fakePromoSrv) ListUsages(context.Context, models.UsageFilter) ([]models.PromoCodeUsage, *models.Pagination, error) {
	return nil, nil, nil
}

type fakeExporter struct {
	result *service.ExportResult
	err    error
}

func (f *fakeExporter) Ledger(context.Context, service.ExportFormat, string) (*service.ExportResult, error) {
	return f.result, f.err
}

func authedContext(t *testing.T, rec *httptest.ResponseRecorder, claims *models.JWTClaims) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(rec)
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c
}

func TestPromoHandlerValidateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPromoHandler(&fakePromoSrv{}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, nil)
	c.Request = httptest.NewRequest(http.MethodPost, "/promos/validate", bytes.NewBufferString(`{"code":"BIENVENUE20","plan_id":"plan-pro"}`))

	handler.Validate(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPromoHandlerValidateSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakePromoSrv{
		preview: &models.PromoPreview{
			Promo:    models.PromoCode{Code: "BIENVENUE20", Type: models.DiscountTypePercentage},
			Pricing:  models.Discount{DiscountAmount: decimal.RequireFromString("9.98"), FinalAmount: decimal.RequireFromString("39.92")},
			Original: decimal.RequireFromString("49.90"),
		},
	}
	handler := NewPromoHandler(srv, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "user-1", Role: models.RoleConsumer})
	c.Request = httptest.NewRequest(http.MethodPost, "/promos/validate", bytes.NewBufferString(`{"code":"BIENVENUE20","plan_id":"plan-pro"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Validate(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", srv.lastPreview.userID)
	assert.Equal(t, "BIENVENUE20", srv.lastPreview.req.Code)

	var envelope responseEnvelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "39.92", envelope.Data["pricing"].(map[string]interface{})["final_amount"])
}

func TestPromoHandlerValidateSurfacesPromoError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPromoHandler(&fakePromoSrv{previewErr: appErrors.ErrExpired}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "user-1"})
	c.Request = httptest.NewRequest(http.MethodPost, "/promos/validate", bytes.NewBufferString(`{"code":"OLD","plan_id":"plan-pro"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Validate(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var envelope responseEnvelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "EXPIRED", envelope.Error["code"])
}

func TestPromoHandlerValidateRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPromoHandler(&fakePromoSrv{}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "user-1"})
	c.Request = httptest.NewRequest(http.MethodPost, "/promos/validate", bytes.NewBufferString(`{`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Validate(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPromoHandlerCatalog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPromoHandler(&fakePromoSrv{catalog: []models.PromoCode{{Code: "BIENVENUE20"}}}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/promos/catalog", nil)

	handler.Catalog(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPromoHandlerExportLedgerSetsAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPromoHandler(&fakePromoSrv{}, &fakeExporter{
		result: &service.ExportResult{
			Filename:    "promo-ledger-20250601-120000.csv",
			ContentType: "text/csv",
			Data:        []byte("used_at,promo_code_id\n"),
		},
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/promos/export?format=csv", nil)

	handler.ExportLedger(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=promo-ledger-20250601-120000.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestPromoHandlerCreateReturns201(t *testing.T) {
	gin.SetMode(gin.TestMode)
	valid := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	handler := NewPromoHandler(&fakePromoSrv{
		created: &models.PromoCode{ID: "promo-1", Code: "ETE25", ValidFrom: valid},
	}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	body := `{"code":"ETE25","type":"percentage","value":"25","valid_from":"2025-06-01T00:00:00Z","valid_until":"2025-08-31T23:59:59Z","max_uses":50,"applicable_plans":["all"]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/promos", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

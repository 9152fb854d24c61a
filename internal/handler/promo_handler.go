package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/depanneo/depanneo-api/internal/models"
	"github.com/depanneo/depanneo-api/internal/service"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
	"github.com/depanneo/depanneo-api/pkg/response"
)

type promoService interface {
	Catalog(ctx context.Context) ([]models.PromoCode, error)
	Preview(ctx context.Context, userID string, req models.ValidatePromoRequest) (*models.PromoPreview, error)
	List(ctx context.Context, filter models.PromoFilter) ([]models.PromoCode, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.PromoCode, error)
	Create(ctx context.Context, actorID string, req models.CreatePromoRequest) (*models.PromoCode, error)
	Update(ctx context.Context, actorID, id string, req models.UpdatePromoRequest) (*models.PromoCode, error)
	ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, *models.Pagination, error)
}

type ledgerExporter interface {
	Ledger(ctx context.Context, format service.ExportFormat, promoCodeID string) (*service.ExportResult, error)
}

// PromoHandler wires HTTP endpoints to the promo service.
type PromoHandler struct {
	service promoService
	exports ledgerExporter
}

// NewPromoHandler creates a new handler.
func NewPromoHandler(svc promoService, exports ledgerExporter) *PromoHandler {
	return &PromoHandler{service: svc, exports: exports}
}

// Catalog godoc
// @Summary Active promo codes
// @Description List currently active promo codes
// @Tags Promotions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /promos/catalog [get]
func (h *PromoHandler) Catalog(c *gin.Context) {
	promos, err := h.service.Catalog(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, promos, nil)
}

// Validate godoc
// @Summary Validate a promo code
// @Description Check a code against a plan and price the discount without consuming a use
// @Tags Promotions
// @Accept json
// @Produce json
// @Param payload body models.ValidatePromoRequest true "Validation payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /promos/validate [post]
func (h *PromoHandler) Validate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ValidatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation payload"))
		return
	}

	preview, err := h.service.Preview(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, preview, nil)
}

// List godoc
// @Summary List promo codes
// @Description Administer all promo codes
// @Tags Promotions
// @Produce json
// @Param active_only query bool false "Only active codes"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/promos [get]
func (h *PromoHandler) List(c *gin.Context) {
	filter := models.PromoFilter{ActiveOnly: c.Query("active_only") == "true"}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	promos, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, promos, pagination)
}

// Get godoc
// @Summary Get a promo code
// @Tags Promotions
// @Produce json
// @Param id path string true "Promo code ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/promos/{id} [get]
func (h *PromoHandler) Get(c *gin.Context) {
	promo, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, promo, nil)
}

// Create godoc
// @Summary Create a promo code
// @Tags Promotions
// @Accept json
// @Produce json
// @Param payload body models.CreatePromoRequest true "Promo payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/promos [post]
func (h *PromoHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid promo payload"))
		return
	}

	promo, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, promo)
}

// Update godoc
// @Summary Update a promo code
// @Tags Promotions
// @Accept json
// @Produce json
// @Param id path string true "Promo code ID"
// @Param payload body models.UpdatePromoRequest true "Promo payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/promos/{id} [patch]
func (h *PromoHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid promo payload"))
		return
	}

	promo, err := h.service.Update(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, promo, nil)
}

// Usages godoc
// @Summary Redemption ledger
// @Description List redemption ledger entries
// @Tags Promotions
// @Produce json
// @Param promo_code_id query string false "Scope to one code"
// @Param user_id query string false "Scope to one user"
// @Success 200 {object} response.Envelope
// @Router /admin/promos/usages [get]
func (h *PromoHandler) Usages(c *gin.Context) {
	filter := models.UsageFilter{
		PromoCodeID: c.Query("promo_code_id"),
		UserID:      c.Query("user_id"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	usages, pagination, err := h.service.ListUsages(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, usages, pagination)
}

// ExportLedger godoc
// @Summary Export the redemption ledger
// @Description Download the ledger as CSV or PDF
// @Tags Promotions
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Param promo_code_id query string false "Scope to one code"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /admin/promos/export [get]
func (h *PromoHandler) ExportLedger(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	result, err := h.exports.Ledger(c.Request.Context(), format, c.Query("promo_code_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

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
	"github.com/stretchr/testify/assert"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type fakeRequestSrv struct {
	views      []models.RequestView
	listErr    error
	lastFilter models.RequestFilter
	view       *models.RequestView
	responses  []models.RequestResponse
	actionErr  error
	lastAction struct {
		requestID string
		actorID   string
		role      models.UserRole
	}
}

func (f *fakeRequestSrv) List(_ context.Context, filter models.RequestFilter) ([]models.RequestView, *models.Pagination, error) {
	f.lastFilter = filter
	return f.views, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(f.views)}, f.listErr
}

func (f *fakeRequestSrv) Get(context.Context, string) (*models.RequestView, []models.RequestResponse, error) {
	if f.view == nil {
		return nil, nil, appErrors.ErrNotFound
	}
	return f.view, f.responses, nil
}

func (f *fakeRequestSrv) Create(context.Context, string, models.CreateRequestRequest) (*models.RequestView, error) {
	return f.view, f.actionErr
}

func (f *fakeRequestSrv) Respond(_ context.Context, requestID, proID string, _ models.RespondRequest) (*models.RequestResponse, error) {
	f.lastAction.requestID = requestID
	f.lastAction.actorID = proID
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return &models.RequestResponse{RequestID: requestID, ProID: proID}, nil
}

func (f *fakeRequestSrv) Accept(_ context.Context, requestID, proID string) (*models.RequestView, error) {
	f.lastAction.requestID = requestID
	f.lastAction.actorID = proID
	return f.view, f.actionErr
}

func (f *fakeRequestSrv) Complete(_ context.Context, requestID, actorID string, role models.UserRole) (*models.RequestView, error) {
	f.lastAction.requestID = requestID
	f.lastAction.actorID = actorID
	f.lastAction.role = role
	return f.view, f.actionErr
}

func (f *fakeRequestSrv) Cancel(_ context.Context, requestID, actorID string, role models.UserRole) (*models.RequestView, error) {
	f.lastAction.requestID = requestID
	f.lastAction.actorID = actorID
	f.lastAction.role = role
	return f.view, f.actionErr
}

func sampleView(t *testing.T) *models.RequestView {
	t.Helper()
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	view := models.NewRequestView(models.RepairRequest{
		ID:         "req-1",
		ConsumerID: "user-1",
		Title:      "Fuite sous evier",
		Category:   "plomberie",
		City:       "Lyon",
		Status:     models.RequestStatusOpen,
		CreatedAt:  created,
		UpdatedAt:  created,
	}, created.Add(48*time.Hour))
	return &view
}

func TestRequestHandlerListParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeRequestSrv{views: []models.RequestView{*sampleView(t)}}
	handler := NewRequestHandler(srv)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/requests?status=open&city=Lyon&page=2&page_size=10", nil)

	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, srv.lastFilter.Status)
	assert.Equal(t, models.RequestStatusOpen, *srv.lastFilter.Status)
	assert.Equal(t, "Lyon", srv.lastFilter.City)
	assert.Equal(t, 2, srv.lastFilter.Page)
	assert.Equal(t, 10, srv.lastFilter.PageSize)
}

func TestRequestHandlerListScopesMineToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeRequestSrv{}
	handler := NewRequestHandler(srv)

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "user-1", Role: models.RoleConsumer})
	c.Request = httptest.NewRequest(http.MethodGet, "/requests?mine=true", nil)

	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", srv.lastFilter.ConsumerID)
}

func TestRequestHandlerGetWrapsViewAndResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&fakeRequestSrv{
		view:      sampleView(t),
		responses: []models.RequestResponse{{ID: "resp-1", RequestID: "req-1", ProID: "pro-1"}},
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/requests/req-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Get(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	request := envelope.Data["request"].(map[string]interface{})
	assert.Equal(t, "req-1", request["id"])
	assert.Equal(t, "New", request["status_badge"].(map[string]interface{})["label"])
	assert.Len(t, envelope.Data["responses"], 1)
}

func TestRequestHandlerCreateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&fakeRequestSrv{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{"title":"t"}`))

	handler.Create(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestHandlerRespondForwardsCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeRequestSrv{}
	handler := NewRequestHandler(srv)

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "pro-1", Role: models.RolePro})
	c.Request = httptest.NewRequest(http.MethodPost, "/requests/req-1/responses", bytes.NewBufferString(`{"message":"Disponible demain matin"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Respond(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-1", srv.lastAction.requestID)
	assert.Equal(t, "pro-1", srv.lastAction.actorID)
}

func TestRequestHandlerRespondSurfacesSubscriptionGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&fakeRequestSrv{actionErr: appErrors.ErrForbidden})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "pro-1", Role: models.RolePro})
	c.Request = httptest.NewRequest(http.MethodPost, "/requests/req-1/responses", bytes.NewBufferString(`{"message":"dispo"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Respond(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var envelope responseEnvelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "FORBIDDEN", envelope.Error["code"])
}

func TestRequestHandlerCompletePassesRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeRequestSrv{view: sampleView(t)}
	handler := NewRequestHandler(srv)

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	c.Request = httptest.NewRequest(http.MethodPost, "/requests/req-1/complete", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Complete(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleAdmin, srv.lastAction.role)
}

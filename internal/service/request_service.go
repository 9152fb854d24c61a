package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type requestRepository interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.RepairRequest, int, error)
	FindByID(ctx context.Context, id string) (*models.RepairRequest, error)
	Create(ctx context.Context, request *models.RepairRequest) error
	UpdateStatus(ctx context.Context, request *models.RepairRequest) error
	AddResponse(ctx context.Context, response *models.RequestResponse) error
	ListResponses(ctx context.Context, requestID string) ([]models.RequestResponse, error)
}

type subscriptionReader interface {
	FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error)
}

// RequestService implements the repair request lifecycle.
type RequestService struct {
	repo      requestRepository
	subs      subscriptionReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRequestService constructs a RequestService.
func NewRequestService(repo requestRepository, subs subscriptionReader, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RequestService{repo: repo, subs: subs, validator: validate, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests use it to pin "now".
func (s *RequestService) WithClock(now func() time.Time) *RequestService {
	s.now = now
	return s
}

// List returns decorated requests matching the filter.
func (s *RequestService) List(ctx context.Context, filter models.RequestFilter) ([]models.RequestView, *models.Pagination, error) {
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}

	now := s.now().UTC()
	// Requests past their retention window stay hidden between sweep ticks.
	requests = models.CleanupRequests(requests, now)
	views := make([]models.RequestView, 0, len(requests))
	for _, r := range requests {
		views = append(views, models.NewRequestView(r, now))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return views, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one decorated request with its replies.
func (s *RequestService) Get(ctx context.Context, id string) (*models.RequestView, []models.RequestResponse, error) {
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	responses, err := s.repo.ListResponses(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}

	view := models.NewRequestView(*request, s.now().UTC())
	return &view, responses, nil
}

// Create posts a new repair request for the consumer.
func (s *RequestService) Create(ctx context.Context, consumerID string, req models.CreateRequestRequest) (*models.RequestView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	now := s.now().UTC()
	request := &models.RepairRequest{
		ConsumerID:  consumerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		City:        req.City,
		Status:      models.RequestStatusOpen,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	view := models.NewRequestView(*request, now)
	return &view, nil
}

// Respond records a professional's reply. Replying requires an active
// subscription and an open or in-progress request.
func (s *RequestService) Respond(ctx context.Context, requestID, proID string, req models.RespondRequest) (*models.RequestResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}

	now := s.now().UTC()
	if _, err := s.subs.FindActiveByUser(ctx, proID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "an active subscription is required to respond")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}

	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status != models.RequestStatusOpen && request.Status != models.RequestStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request no longer accepts responses")
	}

	response := &models.RequestResponse{
		RequestID: requestID,
		ProID:     proID,
		Message:   req.Message,
		CreatedAt: now,
	}
	if err := s.repo.AddResponse(ctx, response); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record response")
	}
	return response, nil
}

// Accept moves an open request to in progress on behalf of a professional.
func (s *RequestService) Accept(ctx context.Context, requestID, proID string) (*models.RequestView, error) {
	now := s.now().UTC()
	if _, err := s.subs.FindActiveByUser(ctx, proID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "an active subscription is required to accept requests")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}

	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status != models.RequestStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only open requests can be accepted")
	}

	request.Status = models.RequestStatusInProgress
	request.AcceptedBy = &proID
	if err := s.repo.UpdateStatus(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept request")
	}

	view := models.NewRequestView(*request, now)
	return &view, nil
}

// Complete marks a request as done. Only the posting consumer or an admin may
// complete it; the completion timestamp starts the retention clock.
func (s *RequestService) Complete(ctx context.Context, requestID, actorID string, actorRole models.UserRole) (*models.RequestView, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if actorRole != models.RoleAdmin && request.ConsumerID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the request owner can complete it")
	}
	if request.Status == models.RequestStatusCompleted || request.Status == models.RequestStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request is already closed")
	}

	now := s.now().UTC()
	request.Status = models.RequestStatusCompleted
	request.CompletedAt = &now
	if err := s.repo.UpdateStatus(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete request")
	}

	view := models.NewRequestView(*request, now)
	return &view, nil
}

// Cancel withdraws a request before completion.
func (s *RequestService) Cancel(ctx context.Context, requestID, actorID string, actorRole models.UserRole) (*models.RequestView, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if actorRole != models.RoleAdmin && request.ConsumerID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the request owner can cancel it")
	}
	if request.Status != models.RequestStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only open requests can be cancelled")
	}

	request.Status = models.RequestStatusCancelled
	if err := s.repo.UpdateStatus(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel request")
	}

	view := models.NewRequestView(*request, s.now().UTC())
	return &view, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/depanneo/depanneo-api/internal/models"
)

// RequestRepository provides persistence for repair requests and pro replies.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = "id, consumer_id, title, description, category, city, status, accepted_by, responses, created_at, completed_at, updated_at"

// List returns repair requests matching the filter with a total count.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RepairRequest, int, error) {
	baseQuery := `FROM repair_requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(city) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.City))
	}
	if filter.ConsumerID != "" {
		conditions = append(conditions, fmt.Sprintf("consumer_id = $%d", len(args)+1))
		args = append(args, filter.ConsumerID)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"responses":  true,
		"city":       true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", requestColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var requests []models.RepairRequest
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list repair requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count repair requests: %w", err)
	}

	return requests, total, nil
}

// FindByID returns a repair request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.RepairRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM repair_requests WHERE id = $1 LIMIT 1", requestColumns)
	var request models.RepairRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find repair request: %w", err)
	}
	return &request, nil
}

// Create inserts a new repair request.
func (r *RequestRepository) Create(ctx context.Context, request *models.RepairRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO repair_requests (id, consumer_id, title, description, category, city, status, accepted_by, responses, created_at, completed_at, updated_at)
VALUES (:id, :consumer_id, :title, :description, :category, :city, :status, :accepted_by, :responses, :created_at, :completed_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create repair request: %w", err)
	}
	return nil
}

// UpdateStatus transitions the stored status, stamping accepted_by and
// completed_at when the transition sets them.
func (r *RequestRepository) UpdateStatus(ctx context.Context, request *models.RepairRequest) error {
	request.UpdatedAt = time.Now().UTC()
	const query = `UPDATE repair_requests SET status = :status, accepted_by = :accepted_by, completed_at = :completed_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("update repair request status: %w", err)
	}
	return nil
}

// AddResponse appends a pro reply and increments the response counter in one
// transaction.
func (r *RequestRepository) AddResponse(ctx context.Context, response *models.RequestResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add response: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertQuery = `INSERT INTO request_responses (id, request_id, pro_id, message, created_at)
VALUES (:id, :request_id, :pro_id, :message, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, response); err != nil {
		return fmt.Errorf("insert request response: %w", err)
	}

	const bumpQuery = `UPDATE repair_requests SET responses = responses + 1, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bumpQuery, response.RequestID, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment response count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add response: %w", err)
	}
	return nil
}

// ListResponses returns the replies for a request, oldest first.
func (r *RequestRepository) ListResponses(ctx context.Context, requestID string) ([]models.RequestResponse, error) {
	const query = `SELECT id, request_id, pro_id, message, created_at FROM request_responses WHERE request_id = $1 ORDER BY created_at ASC`
	var responses []models.RequestResponse
	if err := r.db.SelectContext(ctx, &responses, query, requestID); err != nil {
		return nil, fmt.Errorf("list request responses: %w", err)
	}
	return responses, nil
}

// DeleteExpired removes completed requests whose completion is older than the
// cutoff and returns how many rows were pruned.
func (r *RequestRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM repair_requests WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2`
	result, err := r.db.ExecContext(ctx, query, models.RequestStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired requests rows affected: %w", err)
	}
	return affected, nil
}

// CountByStatus returns request totals grouped by stored status.
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM repair_requests GROUP BY status`
	rows := []struct {
		Status models.RequestStatus `db:"status"`
		Total  int                  `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	counts := make(map[models.RequestStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// CountCreatedSince returns how many requests were created at or after the
// given instant.
func (r *RequestRepository) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM repair_requests WHERE created_at >= $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, since); err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return total, nil
}

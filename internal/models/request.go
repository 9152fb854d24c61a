package models

import (
	"fmt"
	"time"
)

// RequestStatus is the stored lifecycle state of a repair request. Transitions
// are driven by handlers (a pro accepting, the consumer cancelling, staff
// completing); the derivation helpers below only observe it.
type RequestStatus string

const (
	RequestStatusOpen       RequestStatus = "open"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// DisplayStatus is the presentation state shown to browsing users. It adds the
// recency-driven "new" state on top of the stored status.
type DisplayStatus string

const (
	DisplayStatusNew        DisplayStatus = "new"
	DisplayStatusInProgress DisplayStatus = "in_progress"
	DisplayStatusCompleted  DisplayStatus = "completed"
	DisplayStatusOpen       DisplayStatus = "open"
)

const (
	// NewRequestWindow is how long a request keeps its "new" display state,
	// inclusive at exactly the boundary.
	NewRequestWindow = 7 * 24 * time.Hour
	// CompletedRetention is how long completed requests are kept before the
	// retention sweep removes them.
	CompletedRetention = 15 * 24 * time.Hour
)

// RepairRequest is a consumer's appliance/home repair request.
type RepairRequest struct {
	ID          string        `db:"id" json:"id"`
	ConsumerID  string        `db:"consumer_id" json:"consumer_id"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	Category    string        `db:"category" json:"category"`
	City        string        `db:"city" json:"city"`
	Status      RequestStatus `db:"status" json:"status"`
	AcceptedBy  *string       `db:"accepted_by" json:"accepted_by,omitempty"`
	Responses   int           `db:"responses" json:"responses"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestResponse is a professional's reply to a repair request.
type RequestResponse struct {
	ID        string    `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"request_id"`
	ProID     string    `db:"pro_id" json:"pro_id"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RequestFilter captures filtering criteria for listing repair requests.
type RequestFilter struct {
	Status     *RequestStatus
	Category   string
	City       string
	ConsumerID string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// CreateRequestRequest is the payload for posting a repair request.
type CreateRequestRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category" validate:"required"`
	City        string `json:"city" validate:"required"`
}

// RespondRequest is the payload for a professional replying to a request.
type RespondRequest struct {
	Message string `json:"message" validate:"required"`
}

// RequestView decorates a stored request with its derived presentation state.
type RequestView struct {
	RepairRequest
	Display       DisplayStatus `json:"display_status"`
	StatusBadge   Badge         `json:"status_badge"`
	ResponseBadge Badge         `json:"response_badge"`
}

// NewRequestView derives the presentation fields for a request at the given
// instant.
func NewRequestView(r RepairRequest, now time.Time) RequestView {
	display := r.DisplayStatus(now)
	return RequestView{
		RepairRequest: r,
		Display:       display,
		StatusBadge:   StatusBadge(display),
		ResponseBadge: ResponseBadge(r.Responses),
	}
}

// IsNew reports whether the request was created within the last 7 days,
// relative to the provided instant. The boundary is inclusive.
func (r *RepairRequest) IsNew(now time.Time) bool {
	age := now.Sub(r.CreatedAt)
	return age >= 0 && age <= NewRequestWindow
}

// ShouldBeDeleted reports whether the request has aged out: completed more
// than 15 days ago. Requests in any other status never age out.
func (r *RepairRequest) ShouldBeDeleted(now time.Time) bool {
	if r.Status != RequestStatusCompleted || r.CompletedAt == nil {
		return false
	}
	return now.Sub(*r.CompletedAt) > CompletedRetention
}

// CleanupRequests returns the surviving requests in their original relative
// order. It performs no I/O; callers persist the result.
func CleanupRequests(requests []RepairRequest, now time.Time) []RepairRequest {
	survivors := make([]RepairRequest, 0, len(requests))
	for _, r := range requests {
		if !r.ShouldBeDeleted(now) {
			survivors = append(survivors, r)
		}
	}
	return survivors
}

// DisplayStatus derives the presentation state. Recency wins over lifecycle:
// a completed request under 7 days old still displays as new, surfacing
// "recently posted" to browsing users.
func (r *RepairRequest) DisplayStatus(now time.Time) DisplayStatus {
	if r.IsNew(now) {
		return DisplayStatusNew
	}
	switch r.Status {
	case RequestStatusInProgress:
		return DisplayStatusInProgress
	case RequestStatusCompleted:
		return DisplayStatusCompleted
	default:
		return DisplayStatusOpen
	}
}

// Badge pairs a display label with a frontend style token.
type Badge struct {
	Label      string `json:"label"`
	StyleClass string `json:"style_class"`
}

// StatusBadge maps a display status to its badge.
func StatusBadge(status DisplayStatus) Badge {
	switch status {
	case DisplayStatusNew:
		return Badge{Label: "New", StyleClass: "badge-new"}
	case DisplayStatusInProgress:
		return Badge{Label: "In progress", StyleClass: "badge-progress"}
	case DisplayStatusCompleted:
		return Badge{Label: "Completed", StyleClass: "badge-completed"}
	default:
		return Badge{Label: "Open", StyleClass: "badge-open"}
	}
}

// ResponseBadge buckets a reply count into a badge: none is muted, five or
// more is positive, anything in between is neutral.
func ResponseBadge(count int) Badge {
	switch {
	case count == 0:
		return Badge{Label: "No responses", StyleClass: "badge-muted"}
	case count >= 5:
		return Badge{Label: fmt.Sprintf("%d responses", count), StyleClass: "badge-positive"}
	case count == 1:
		return Badge{Label: "1 response", StyleClass: "badge-neutral"}
	default:
		return Badge{Label: fmt.Sprintf("%d responses", count), StyleClass: "badge-neutral"}
	}
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func requestCreatedAt(createdAt time.Time, status RequestStatus) RepairRequest {
	return RepairRequest{
		ID:        "req-1",
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestIsNewInclusiveBoundary(t *testing.T) {
	r := requestCreatedAt(baseTime.Add(-7*24*time.Hour), RequestStatusOpen)
	assert.True(t, r.IsNew(baseTime), "exactly 7 days old is still new")

	r = requestCreatedAt(baseTime.Add(-7*24*time.Hour-time.Second), RequestStatusOpen)
	assert.False(t, r.IsNew(baseTime), "7 days and 1 second is no longer new")

	r = requestCreatedAt(baseTime, RequestStatusOpen)
	assert.True(t, r.IsNew(baseTime), "created this instant is new")
}

func TestShouldBeDeletedOnlyForCompleted(t *testing.T) {
	completedAt := baseTime.Add(-20 * 24 * time.Hour)

	r := requestCreatedAt(baseTime.Add(-365*24*time.Hour), RequestStatusOpen)
	assert.False(t, r.ShouldBeDeleted(baseTime), "open requests never age out")

	r.Status = RequestStatusInProgress
	assert.False(t, r.ShouldBeDeleted(baseTime))

	r.Status = RequestStatusCancelled
	assert.False(t, r.ShouldBeDeleted(baseTime))

	r.Status = RequestStatusCompleted
	assert.False(t, r.ShouldBeDeleted(baseTime), "completed without completed_at is kept")

	r.CompletedAt = &completedAt
	assert.True(t, r.ShouldBeDeleted(baseTime))
}

func TestShouldBeDeletedRetentionBoundary(t *testing.T) {
	exactly := baseTime.Add(-15 * 24 * time.Hour)
	r := requestCreatedAt(baseTime.Add(-30*24*time.Hour), RequestStatusCompleted)
	r.CompletedAt = &exactly
	assert.False(t, r.ShouldBeDeleted(baseTime), "exactly 15 days is still retained")

	over := baseTime.Add(-15*24*time.Hour - time.Second)
	r.CompletedAt = &over
	assert.True(t, r.ShouldBeDeleted(baseTime))
}

func TestCleanupRequestsPreservesOrder(t *testing.T) {
	agedCompletion := baseTime.Add(-20 * 24 * time.Hour)
	a := requestCreatedAt(baseTime.Add(-25*24*time.Hour), RequestStatusCompleted)
	a.ID = "a"
	a.CompletedAt = &agedCompletion
	b := requestCreatedAt(baseTime.Add(-365*24*time.Hour), RequestStatusOpen)
	b.ID = "b"
	c := requestCreatedAt(baseTime.Add(-1*24*time.Hour), RequestStatusOpen)
	c.ID = "c"

	survivors := CleanupRequests([]RepairRequest{a, b, c}, baseTime)
	require.Len(t, survivors, 2)
	assert.Equal(t, "b", survivors[0].ID)
	assert.Equal(t, "c", survivors[1].ID)
}

func TestDisplayStatusRecencyOverridesLifecycle(t *testing.T) {
	completedAt := baseTime.Add(-12 * time.Hour)
	r := requestCreatedAt(baseTime.Add(-24*time.Hour), RequestStatusCompleted)
	r.CompletedAt = &completedAt
	assert.Equal(t, DisplayStatusNew, r.DisplayStatus(baseTime), "recently posted wins over completed")

	r = requestCreatedAt(baseTime.Add(-30*24*time.Hour), RequestStatusCompleted)
	r.CompletedAt = &completedAt
	assert.Equal(t, DisplayStatusCompleted, r.DisplayStatus(baseTime))
}

func TestDisplayStatusMirrorsStoredStatus(t *testing.T) {
	old := baseTime.Add(-30 * 24 * time.Hour)

	r := requestCreatedAt(old, RequestStatusInProgress)
	assert.Equal(t, DisplayStatusInProgress, r.DisplayStatus(baseTime))

	r = requestCreatedAt(old, RequestStatusOpen)
	assert.Equal(t, DisplayStatusOpen, r.DisplayStatus(baseTime))

	r = requestCreatedAt(old, RequestStatusCancelled)
	assert.Equal(t, DisplayStatusOpen, r.DisplayStatus(baseTime), "cancelled falls back to the open badge")
}

func TestStatusBadgeTable(t *testing.T) {
	assert.Equal(t, Badge{Label: "New", StyleClass: "badge-new"}, StatusBadge(DisplayStatusNew))
	assert.Equal(t, Badge{Label: "In progress", StyleClass: "badge-progress"}, StatusBadge(DisplayStatusInProgress))
	assert.Equal(t, Badge{Label: "Completed", StyleClass: "badge-completed"}, StatusBadge(DisplayStatusCompleted))
	assert.Equal(t, Badge{Label: "Open", StyleClass: "badge-open"}, StatusBadge(DisplayStatusOpen))
}

func TestResponseBadgeBuckets(t *testing.T) {
	assert.Equal(t, "badge-muted", ResponseBadge(0).StyleClass)
	assert.Equal(t, "badge-neutral", ResponseBadge(1).StyleClass)
	assert.Equal(t, "badge-neutral", ResponseBadge(4).StyleClass)
	assert.Equal(t, "badge-positive", ResponseBadge(5).StyleClass)
	assert.Equal(t, "badge-positive", ResponseBadge(12).StyleClass)
}

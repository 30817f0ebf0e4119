package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsHandler_DailyAndSummary(t *testing.T) {
	s := newTestStack(t)
	s.session(t, "store")

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/webhooks/store", messagePayload("919811111111", "m1", "hello")), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/webhooks/store", messagePayload("919822222222", "m2", "hello")), http.StatusOK)

	today := time.Now().UTC().Format(dateLayout)
	w := s.do(t, http.MethodGet, "/api/v1/analytics/daily?from="+today+"&to="+today, nil)
	expectStatus(t, w, http.StatusOK)
	var daily struct {
		From string                  `json:"from"`
		Days []models.DailyAnalytics `json:"days"`
	}
	decode(t, w, &daily)
	assert.Equal(t, today, daily.From)
	require.Len(t, daily.Days, 1)
	assert.Equal(t, 2, daily.Days[0].MessagesReceived)
	assert.Equal(t, 2, daily.Days[0].NewContacts)

	sum := s.do(t, http.MethodGet, "/api/v1/analytics/summary?days=1", nil)
	expectStatus(t, sum, http.StatusOK)
	var summary struct {
		MessagesReceived int `json:"messages_received"`
	}
	decode(t, sum, &summary)
	assert.Equal(t, 2, summary.MessagesReceived)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/analytics/daily", nil), http.StatusOK)
}

func TestAnalyticsHandler_DailyValidation(t *testing.T) {
	s := newTestStack(t)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/analytics/daily?from=yesterday", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/analytics/daily?to=2024-13-01", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/analytics/daily?from=2024-05-10&to=2024-05-01", nil), http.StatusBadRequest)
}

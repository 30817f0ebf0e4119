package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHandler_CRUD(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{"name": "store"})
	expectStatus(t, w, http.StatusCreated)
	var session models.Session
	decode(t, w, &session)
	assert.Equal(t, models.SessionConnecting, session.Status)
	assert.True(t, session.AutoReplyEnabled)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{"name": "store"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"name": "night", "business_hours_enabled": true, "business_hours_start": "25:00", "business_hours_end": "18:00",
	}), http.StatusBadRequest)

	path := fmt.Sprintf("/api/v1/sessions/%d", session.ID)
	upd := s.do(t, http.MethodPut, path, map[string]interface{}{
		"auto_reply_enabled": false, "business_hours_enabled": true, "business_hours_start": "10:00", "business_hours_end": "19:00",
	})
	expectStatus(t, upd, http.StatusOK)
	decode(t, upd, &session)
	assert.False(t, session.AutoReplyEnabled)
	assert.Equal(t, "10:00", session.BusinessHoursStart)

	get := s.do(t, http.MethodGet, path, nil)
	expectStatus(t, get, http.StatusOK)
	decode(t, get, &session)
	assert.True(t, session.BusinessHoursEnabled)

	list := s.do(t, http.MethodGet, "/api/v1/sessions", nil)
	expectStatus(t, list, http.StatusOK)
	var sessions []models.Session
	decode(t, list, &sessions)
	assert.Len(t, sessions, 1)

	// no gateway is wired in the test stack
	expectStatus(t, s.do(t, http.MethodPost, path+"/sync", nil), http.StatusUnprocessableEntity)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/sessions/0", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/sessions/42", nil), http.StatusNotFound)
}

func TestContactHandler_CreateListAndUpdate(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodPost, "/api/v1/contacts", map[string]interface{}{
		"phone": "919876543210@c.us", "name": "Asha", "customer_type": "vip", "tags": []string{"Gold", " gold ", "bridal"},
	})
	expectStatus(t, w, http.StatusCreated)
	var contact models.Contact
	decode(t, w, &contact)
	assert.Equal(t, "919876543210", contact.Phone)
	assert.Equal(t, []string{"bridal", "gold"}, contact.Tags)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/contacts", map[string]interface{}{"phone": "919876543210"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/contacts", map[string]interface{}{"name": "No phone"}), http.StatusBadRequest)
	for i := 0; i < 3; i++ {
		expectStatus(t, s.do(t, http.MethodPost, "/api/v1/contacts", map[string]interface{}{"phone": fmt.Sprintf("91911111111%d", i)}), http.StatusCreated)
	}

	page := s.do(t, http.MethodGet, "/api/v1/contacts?page=1&page_size=2", nil)
	expectStatus(t, page, http.StatusOK)
	var listed struct {
		Data     []models.Contact `json:"data"`
		Total    int64            `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
	}
	decode(t, page, &listed)
	assert.Equal(t, int64(4), listed.Total)
	assert.Len(t, listed.Data, 2)
	assert.Equal(t, 2, listed.PageSize)

	tagged := s.do(t, http.MethodGet, "/api/v1/contacts?tag=gold", nil)
	expectStatus(t, tagged, http.StatusOK)
	decode(t, tagged, &listed)
	require.Len(t, listed.Data, 1)
	assert.Equal(t, contact.ID, listed.Data[0].ID)

	path := fmt.Sprintf("/api/v1/contacts/%d", contact.ID)
	tags := s.do(t, http.MethodPut, path+"/tags", map[string]interface{}{"tags": []string{"Silver"}})
	expectStatus(t, tags, http.StatusOK)
	decode(t, tags, &contact)
	assert.Equal(t, []string{"silver"}, contact.Tags)

	status := s.do(t, http.MethodPut, path+"/status", map[string]interface{}{"status": models.ContactBlocked})
	expectStatus(t, status, http.StatusOK)
	decode(t, status, &contact)
	assert.Equal(t, models.ContactBlocked, contact.Status)

	expectStatus(t, s.do(t, http.MethodPut, path+"/status", map[string]interface{}{"status": "vanished"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/contacts/999", nil), http.StatusNotFound)
}

func TestBotHandler_TriggersAndSeed(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodPost, "/api/v1/bots", map[string]interface{}{"name": "Concierge"})
	expectStatus(t, w, http.StatusCreated)
	var bot models.Bot
	decode(t, w, &bot)

	path := fmt.Sprintf("/api/v1/bots/%d", bot.ID)
	add := s.do(t, http.MethodPost, path+"/triggers", map[string]interface{}{
		"name": "hours", "trigger_type": "keyword", "trigger_value": "timing, open", "response_message": "We open at 10.", "priority": 1,
	})
	expectStatus(t, add, http.StatusCreated)

	expectStatus(t, s.do(t, http.MethodPost, path+"/triggers", map[string]interface{}{
		"name": "broken", "trigger_type": "regex", "trigger_value": "([", "response_message": "x",
	}), http.StatusUnprocessableEntity)
	expectStatus(t, s.do(t, http.MethodPost, path+"/triggers", map[string]interface{}{
		"name": "odd", "trigger_type": "telepathy", "trigger_value": "x", "response_message": "x",
	}), http.StatusBadRequest)

	seed := s.do(t, http.MethodPost, path+"/seed", nil)
	expectStatus(t, seed, http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/bots/999/seed", nil), http.StatusNotFound)

	list := s.do(t, http.MethodGet, "/api/v1/bots", nil)
	expectStatus(t, list, http.StatusOK)
	var bots []models.Bot
	decode(t, list, &bots)
	require.Len(t, bots, 1)
	require.NotEmpty(t, bots[0].Triggers)
	assert.Greater(t, len(bots[0].Triggers), 1)
	for i := 1; i < len(bots[0].Triggers); i++ {
		assert.LessOrEqual(t, bots[0].Triggers[i-1].Priority, bots[0].Triggers[i].Priority)
	}
}

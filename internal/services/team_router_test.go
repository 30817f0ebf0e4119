package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) (*TeamRouter, *gorm.DB, *recordingNotifier) {
	t.Helper()
	db := newTestDB(t)
	n := newRecordingNotifier()
	r := NewTeamRouter(db, quietLogger(), config.DefaultRoutingConfig(), nil, n, NewAnalyticsService(db, quietLogger()))
	return r, db, n
}

func TestTeamRouter_ScoreOrderFlipsWithPriority(t *testing.T) {
	r := NewTeamRouter(nil, quietLogger(), config.DefaultRoutingConfig(), nil, nil, nil)
	a := &models.Agent{Role: models.RoleAgent, SatisfactionScore: 5.0}
	b := &models.Agent{Role: models.RoleManager, SatisfactionScore: 3.0}

	low := &models.Conversation{Priority: models.PriorityLow}
	assert.Greater(t, r.Score(a, 0, low), r.Score(b, 4, low))

	urgent := &models.Conversation{Priority: models.PriorityUrgent}
	assert.Greater(t, r.Score(b, 4, urgent), r.Score(a, 0, urgent))
}

func TestTeamRouter_ScoreBonuses(t *testing.T) {
	r := NewTeamRouter(nil, quietLogger(), config.DefaultRoutingConfig(), nil, nil, nil)
	conv := &models.Conversation{Priority: models.PriorityMedium, Tags: []string{"bridal"}}

	plain := &models.Agent{Role: models.RoleAgent}
	specialist := &models.Agent{Role: models.RoleAgent, Specializations: []string{"bridal"}}
	assert.Greater(t, r.Score(specialist, 0, conv), r.Score(plain, 0, conv))

	slow := &models.Agent{Role: models.RoleAgent, AvgResponseMinutes: 500}
	assert.Greater(t, r.Score(plain, 0, conv), r.Score(slow, 0, conv))

	manager := &models.Agent{Role: models.RoleManager}
	assert.Greater(t, r.Score(manager, 2, conv), r.Score(plain, 2, conv))

	viewer := &models.Agent{Role: models.RoleViewer, SatisfactionScore: 5}
	assert.Less(t, r.Score(viewer, 0, conv), r.Score(plain, 0, conv))
}

func TestTeamRouter_RoutePicksBestByPriority(t *testing.T) {
	r, db, n := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)

	a := createAgent(t, db, "A", models.RoleAgent, true, 5.0)
	b := createAgent(t, db, "B", models.RoleManager, true, 3.0)
	assignActive(t, db, session.ID, b.ID, 4)

	lowConv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityLow)
	res, err := r.Route(ctx, lowConv.ID, models.PriorityLow)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, a.ID, *res.AgentID)

	// free A's slot so both agents are compared on the same load as before
	require.NoError(t, db.Model(&models.Conversation{}).Where("id = ?", lowConv.ID).
		Update("status", models.ConversationResolved).Error)

	urgentConv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityLow)
	res, err = r.Route(ctx, urgentConv.ID, models.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, b.ID, *res.AgentID)

	var stored models.Conversation
	require.NoError(t, db.First(&stored, urgentConv.ID).Error)
	assert.Equal(t, models.ConversationActive, stored.Status)
	assert.Equal(t, models.PriorityUrgent, stored.Priority)
	require.NotNil(t, stored.AssignedAgentID)
	assert.Equal(t, b.ID, *stored.AssignedAgentID)

	events := n.For(b.ID)
	require.Len(t, events, 1)
	assert.Equal(t, EventConversationAssigned, events[0].Type)
}

func TestTeamRouter_AgentAtCapacityNeverSelected(t *testing.T) {
	r, db, n := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)

	full := createAgent(t, db, "Full", models.RoleAdmin, true, 5.0)
	assignActive(t, db, session.ID, full.ID, 5)

	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityUrgent)
	res, err := r.Route(ctx, conv.ID, "")
	assert.ErrorIs(t, err, ErrCapacity)
	assert.False(t, res.Success)
	assert.Equal(t, "no agent available", res.Error)

	var stored models.Conversation
	require.NoError(t, db.First(&stored, conv.ID).Error)
	assert.Nil(t, stored.AssignedAgentID)
	assert.Equal(t, models.ConversationEscalated, stored.Status)
	assert.NotEmpty(t, n.For(0), "handoff broadcast expected")

	spare := createAgent(t, db, "Spare", models.RoleViewer, true, 0)
	res, err = r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, spare.ID, *res.AgentID)
}

func TestTeamRouter_OfflineAndInactiveAgentsIneligible(t *testing.T) {
	r, db, _ := newTestRouter(t)
	session := createSession(t, db, "main", true)
	createAgent(t, db, "Offline", models.RoleAdmin, false, 5)
	suspended := createAgent(t, db, "Suspended", models.RoleAdmin, true, 5)
	require.NoError(t, db.Model(suspended).Update("status", models.AgentSuspended).Error)

	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	_, err := r.Route(context.Background(), conv.ID, "")
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestTeamRouter_AlreadyAssignedIsKept(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	first := createAgent(t, db, "First", models.RoleAgent, true, 1)
	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)

	_, err := r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	createAgent(t, db, "Better", models.RoleAdmin, true, 5)

	res, err := r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyAssigned)
	assert.Equal(t, first.ID, *res.AgentID)
}

func TestTeamRouter_RouteValidation(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)

	_, err := r.Route(ctx, 999, "")
	assert.ErrorIs(t, err, ErrNotFound)

	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	_, err = r.Route(ctx, conv.ID, "critical")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, db.Model(conv).Update("status", models.ConversationResolved).Error)
	_, err = r.Route(ctx, conv.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTeamRouter_ConcurrentRoutesRespectCapacity(t *testing.T) {
	r, db, _ := newTestRouter(t)
	session := createSession(t, db, "main", true)
	agent := createAgent(t, db, "Solo", models.RoleAgent, true, 4)
	require.NoError(t, db.Model(agent).Update("max_concurrent", 1).Error)

	const n = 6
	convs := make([]uint, n)
	for i := range convs {
		convs[i] = createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityHigh).ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		capacity int
	)
	for _, id := range convs {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			res, err := r.Route(context.Background(), id, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Success:
				success++
			case errors.Is(err, ErrCapacity):
				capacity++
			default:
				t.Errorf("route %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, capacity)

	var assigned int64
	db.Model(&models.Conversation{}).Where("assigned_agent_id = ?", agent.ID).Count(&assigned)
	assert.Equal(t, int64(1), assigned)
}

func TestTeamRouter_Transfer(t *testing.T) {
	r, db, n := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	from := createAgent(t, db, "From", models.RoleAdmin, true, 5)
	to := createAgent(t, db, "To", models.RoleAgent, true, 3)

	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	res, err := r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	require.Equal(t, from.ID, *res.AgentID)

	_, err = r.Transfer(ctx, conv.ID, from.ID, "same")
	assert.ErrorIs(t, err, ErrValidation)

	tr, err := r.Transfer(ctx, conv.ID, to.ID, "needs sizing expert")
	require.NoError(t, err)
	assert.True(t, tr.Success)
	require.NotNil(t, tr.FromAgentID)
	assert.Equal(t, from.ID, *tr.FromAgentID)

	var records []models.TransferRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, to.ID, records[0].ToAgentID)
	assert.Equal(t, "needs sizing expert", records[0].Reason)

	var stored models.Conversation
	require.NoError(t, db.First(&stored, conv.ID).Error)
	assert.Equal(t, to.ID, *stored.AssignedAgentID)

	assert.Equal(t, EventConversationTransferred, n.For(to.ID)[0].Type)
	fromEvents := n.For(from.ID)
	assert.Equal(t, EventConversationReleased, fromEvents[len(fromEvents)-1].Type)

	perf, err := r.AgentPerformance(ctx, to.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), perf.TransfersIn)
	perf, err = r.AgentPerformance(ctx, from.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), perf.TransfersOut)
}

func TestTeamRouter_TransferRejectsUnavailableAgent(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	offline := createAgent(t, db, "Offline", models.RoleAgent, false, 3)
	busy := createAgent(t, db, "Busy", models.RoleAgent, true, 3)
	assignActive(t, db, session.ID, busy.ID, 5)
	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)

	res, err := r.Transfer(ctx, conv.ID, offline.ID, "")
	assert.ErrorIs(t, err, ErrCapacity)
	assert.False(t, res.Success)

	_, err = r.Transfer(ctx, conv.ID, busy.ID, "")
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = r.Transfer(ctx, conv.ID, 4242, "")
	assert.ErrorIs(t, err, ErrNotFound)

	var count int64
	db.Model(&models.TransferRecord{}).Count(&count)
	assert.Zero(t, count)
}

func TestTeamRouter_StatusAndResolve(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	busy := createAgent(t, db, "Busy", models.RoleAgent, true, 3)
	require.NoError(t, db.Model(busy).Update("max_concurrent", 1).Error)
	createAgent(t, db, "Idle", models.RoleAgent, true, 3)
	createAgent(t, db, "Away", models.RoleAgent, false, 3)
	assignActive(t, db, session.ID, busy.ID, 1)
	createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalAgents)
	assert.Len(t, status.Busy, 1)
	assert.Len(t, status.Online, 1)
	assert.Len(t, status.Offline, 1)
	assert.Equal(t, int64(1), status.Unassigned)

	var active models.Conversation
	require.NoError(t, db.Where("assigned_agent_id = ?", busy.ID).First(&active).Error)
	resolved, err := r.ResolveConversation(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status.Busy, 0)
	assert.Len(t, status.Online, 2)

	_, err = r.ResolveConversation(ctx, active.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTeamRouter_UpdateAgentStatusAndQueue(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	agent := createAgent(t, db, "Late", models.RoleAgent, false, 3)
	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)

	routed, err := r.RouteWaiting(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, routed)

	updated, err := r.UpdateAgentStatus(ctx, agent.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsOnline)
	assert.NotNil(t, updated.LastSeen)

	routed, err = r.RouteWaiting(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, routed)

	var stored models.Conversation
	require.NoError(t, db.First(&stored, conv.ID).Error)
	assert.Equal(t, agent.ID, *stored.AssignedAgentID)

	_, err = r.UpdateAgentStatus(ctx, 999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTeamRouter_CreateAgent(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	agent, err := r.CreateAgent(ctx, &CreateAgentRequest{Name: "Ravi", Specializations: []string{"bridal"}})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, agent.Role)
	assert.Equal(t, models.AgentActive, agent.Status)
	assert.False(t, agent.IsOnline)
	assert.Equal(t, r.cfg.DefaultCapacity, r.Capacity(agent))

	_, err = r.CreateAgent(ctx, &CreateAgentRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.CreateAgent(ctx, &CreateAgentRequest{Name: "Zed", Role: "wizard"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.CreateAgent(ctx, &CreateAgentRequest{Name: "Zed", MaxConcurrent: -1})
	assert.ErrorIs(t, err, ErrValidation)

	agents, err := r.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, []string{"bridal"}, agents[0].Specializations)
}

func TestTeamRouter_SlowPickupLowersScore(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }
	session := createSession(t, db, "main", true)
	a := createAgent(t, db, "A", models.RoleAgent, true, 4)
	b := createAgent(t, db, "B", models.RoleAgent, true, 4)

	waited := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	require.NoError(t, db.Model(waited).Update("escalated_at", start.Add(-3*time.Hour)).Error)
	res, err := r.Route(ctx, waited.ID, "")
	require.NoError(t, err)
	require.Equal(t, a.ID, *res.AgentID, "equal scores keep id order")

	var stored models.Agent
	require.NoError(t, db.First(&stored, a.ID).Error)
	assert.InDelta(t, 180, stored.AvgResponseMinutes, 0.01)
	assert.Equal(t, 1, stored.ConversationsHandled)

	_, err = r.ResolveConversation(ctx, waited.ID)
	require.NoError(t, err)

	next := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	res, err = r.Route(ctx, next.ID, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, *res.AgentID)

	require.NoError(t, db.First(&stored, b.ID).Error)
	assert.Zero(t, stored.AvgResponseMinutes)
}

func TestTeamRouter_ResolveCreditsHandledMessages(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }
	session := createSession(t, db, "main", true)
	agent := createAgent(t, db, "A", models.RoleAgent, true, 4)
	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)

	addMessage := func(id string, at time.Time) {
		t.Helper()
		require.NoError(t, db.Create(&models.Message{
			MessageID:      id,
			SessionID:      session.ID,
			ContactID:      conv.ContactID,
			ConversationID: &conv.ID,
			Direction:      models.DirectionInbound,
			Content:        "hello",
			CreatedAt:      at,
		}).Error)
	}
	addMessage("before", start.Add(-time.Hour))

	_, err := r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	addMessage("after-1", start.Add(time.Minute))
	addMessage("after-2", start.Add(2*time.Minute))

	_, err = r.ResolveConversation(ctx, conv.ID)
	require.NoError(t, err)

	var stored models.Agent
	require.NoError(t, db.First(&stored, agent.ID).Error)
	assert.Equal(t, 2, stored.MessagesHandled)
}

func TestTeamRouter_RecordSatisfaction(t *testing.T) {
	r, db, _ := newTestRouter(t)
	ctx := context.Background()
	session := createSession(t, db, "main", true)
	createAgent(t, db, "A", models.RoleAgent, true, 3)
	b := createAgent(t, db, "B", models.RoleAgent, true, 3)

	updated, err := r.RecordSatisfaction(ctx, b.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, updated.SatisfactionScore, "the first rating replaces the seeded score")
	updated, err = r.RecordSatisfaction(ctx, b.ID, 4)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, updated.SatisfactionScore, 0.001)
	assert.Equal(t, 2, updated.SatisfactionRatings)

	conv := createConversation(t, db, session.ID, models.ConversationEscalated, models.PriorityMedium)
	res, err := r.Route(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, *res.AgentID)

	_, err = r.RecordSatisfaction(ctx, b.ID, 0)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.RecordSatisfaction(ctx, b.ID, 5.5)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.RecordSatisfaction(ctx, 999, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

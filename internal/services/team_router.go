package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/metrics"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TeamRouter assigns escalated conversations to agents.
type TeamRouter struct {
	db        *gorm.DB
	logger    *logrus.Logger
	cfg       config.RoutingConfig
	locker    Locker
	notifier  Notifier
	analytics *AnalyticsService
	now       func() time.Time
}

// NewTeamRouter creates a router. A nil locker falls back to an in-process KeyedMutex.
func NewTeamRouter(db *gorm.DB, logger *logrus.Logger, cfg config.RoutingConfig, locker Locker, notifier Notifier, analytics *AnalyticsService) *TeamRouter {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 5
	}
	return &TeamRouter{
		db:        db,
		logger:    logger,
		cfg:       cfg,
		locker:    locker,
		notifier:  notifier,
		analytics: analytics,
		now:       time.Now,
	}
}

// RouteResult is the structured outcome of Route.
type RouteResult struct {
	Success         bool    `json:"success"`
	ConversationID  uint    `json:"conversation_id"`
	AgentID         *uint   `json:"agent_id,omitempty"`
	AgentName       string  `json:"agent_name,omitempty"`
	Score           float64 `json:"score,omitempty"`
	AlreadyAssigned bool    `json:"already_assigned,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// TransferResult is the structured outcome of Transfer.
type TransferResult struct {
	Success        bool      `json:"success"`
	ConversationID uint      `json:"conversation_id"`
	FromAgentID    *uint     `json:"from_agent_id,omitempty"`
	ToAgentID      uint      `json:"to_agent_id"`
	TransferredAt  time.Time `json:"transferred_at"`
	Error          string    `json:"error,omitempty"`
}

// AgentLoad is one agent with its live workload.
type AgentLoad struct {
	ID                  uint       `json:"id"`
	Name                string     `json:"name"`
	Role                string     `json:"role"`
	ActiveConversations int        `json:"active_conversations"`
	Capacity            int        `json:"capacity"`
	LastSeen            *time.Time `json:"last_seen"`
}

// TeamStatus groups agents by availability.
type TeamStatus struct {
	Online      []AgentLoad `json:"online"`
	Busy        []AgentLoad `json:"busy"`
	Offline     []AgentLoad `json:"offline"`
	TotalAgents int         `json:"total_agents"`
	Unassigned  int64       `json:"unassigned_escalations"`
}

// AgentPerformance summarizes an agent over a window.
type AgentPerformance struct {
	AgentID               uint      `json:"agent_id"`
	Since                 time.Time `json:"since"`
	ConversationsHandled  int       `json:"conversations_handled"`
	ConversationsResolved int       `json:"conversations_resolved"`
	ActiveConversations   int       `json:"active_conversations"`
	MessagesHandled       int       `json:"messages_handled"`
	TransfersIn           int64     `json:"transfers_in"`
	TransfersOut          int64     `json:"transfers_out"`
	AvgResolutionMinutes  float64   `json:"avg_resolution_minutes"`
	AvgResponseMinutes    float64   `json:"avg_response_minutes"`
	SatisfactionScore     float64   `json:"satisfaction_score"`
}

// Capacity returns the agent's concurrent conversation limit.
func (r *TeamRouter) Capacity(agent *models.Agent) int {
	if agent.MaxConcurrent > 0 {
		return agent.MaxConcurrent
	}
	return r.cfg.DefaultCapacity
}

// Score rates agent for conv given its current active count. Higher wins.
func (r *TeamRouter) Score(agent *models.Agent, active int, conv *models.Conversation) float64 {
	score := r.cfg.RoleWeights[agent.Role]

	sat := agent.SatisfactionScore
	if sat < 0 {
		sat = 0
	}
	if sat > 5 {
		sat = 5
	}
	score += sat / 5 * r.cfg.SatisfactionMaxBonus

	if r.cfg.ResponseTimeDivisor > 0 {
		score += maxFloat(0, r.cfg.ResponseTimeMaxBonus-agent.AvgResponseMinutes/r.cfg.ResponseTimeDivisor)
	}
	score += maxFloat(0, r.cfg.WorkloadMaxBonus-r.cfg.WorkloadPenalty*float64(active))

	switch conv.Priority {
	case models.PriorityUrgent:
		if hasString(r.cfg.UrgentRoles, agent.Role) {
			score += r.cfg.UrgentPriorityBonus
		}
	case models.PriorityHigh:
		if hasString(r.cfg.HighRoles, agent.Role) {
			score += r.cfg.HighPriorityBonus
		}
	}

	if intersects(conv.Tags, agent.Specializations) {
		score += r.cfg.SpecializationBonus
	}
	return score
}

type candidate struct {
	agent  models.Agent
	active int
	score  float64
}

// Route assigns the best eligible agent to the conversation. A non-empty
// priority replaces the conversation's priority first.
func (r *TeamRouter) Route(ctx context.Context, conversationID uint, priority string) (*RouteResult, error) {
	result := &RouteResult{ConversationID: conversationID}
	if priority != "" && !models.ValidPriority(priority) {
		result.Error = "invalid priority"
		return result, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}

	unlock, err := r.locker.Lock(ctx, conversationLockKey(conversationID))
	if err != nil {
		return result, err
	}
	defer unlock()

	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Error = "conversation not found"
			return result, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return result, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.IsOpen() {
		result.Error = "conversation is " + conv.Status
		return result, fmt.Errorf("%w: conversation %d is %s", ErrInvalidState, conv.ID, conv.Status)
	}
	if conv.AssignedAgentID != nil {
		result.Success = true
		result.AlreadyAssigned = true
		result.AgentID = conv.AssignedAgentID
		return result, nil
	}
	if priority != "" && priority != conv.Priority {
		if err := r.db.WithContext(ctx).Model(&conv).UpdateColumn("priority", priority).Error; err != nil {
			return result, fmt.Errorf("update priority: %w", err)
		}
		conv.Priority = priority
	}

	candidates, err := r.rank(ctx, &conv)
	if err != nil {
		return result, err
	}

	for _, c := range candidates {
		assigned, err := r.tryAssign(ctx, &conv, c.agent.ID)
		if err != nil {
			return result, err
		}
		if !assigned {
			continue
		}
		id := c.agent.ID
		result.Success = true
		result.AgentID = &id
		result.AgentName = c.agent.Name
		result.Score = c.score

		r.logger.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"agent_id":        id,
			"score":           c.score,
			"priority":        conv.Priority,
		}).Info("conversation routed")
		metrics.IncConversationRouted()
		r.analytics.record(ctx, StatRoutedConversations, 1)
		r.notify(id, AgentEvent{
			Type:           EventConversationAssigned,
			ConversationID: conv.ID,
			Data:           map[string]interface{}{"priority": conv.Priority, "contact_id": conv.ContactID},
		})
		return result, nil
	}

	metrics.IncRoutingFailure()
	r.logger.WithField("conversation_id", conv.ID).Warn("no agent available")
	r.notify(0, AgentEvent{Type: EventHandoffRequested, ConversationID: conv.ID, Data: map[string]interface{}{"priority": conv.Priority}})
	result.Error = "no agent available"
	return result, ErrCapacity
}

// rank scores every eligible agent, best first. Ties keep id order.
func (r *TeamRouter) rank(ctx context.Context, conv *models.Conversation) ([]candidate, error) {
	var agents []models.Agent
	if err := r.db.WithContext(ctx).
		Where("is_online = ? AND status = ?", true, models.AgentActive).
		Order("id ASC").
		Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, nil
	}
	ids := make([]uint, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	loads, err := r.activeCounts(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(agents))
	for _, a := range agents {
		active := loads[a.ID]
		if active >= r.Capacity(&a) {
			continue
		}
		out = append(out, candidate{agent: a, active: active, score: r.Score(&a, active, conv)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// tryAssign re-checks the agent under its lock and inside a row-locked
// transaction, then assigns. It reports false when the agent is no longer eligible.
func (r *TeamRouter) tryAssign(ctx context.Context, conv *models.Conversation, agentID uint) (bool, error) {
	unlock, err := r.locker.Lock(ctx, agentLockKey(agentID))
	if err != nil {
		return false, err
	}
	defer unlock()

	assigned := false
	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&agent, agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("lock agent: %w", err)
		}
		if !agent.IsOnline || agent.Status != models.AgentActive {
			return nil
		}
		loads, err := r.activeCounts(ctx, tx, []uint{agentID})
		if err != nil {
			return err
		}
		if loads[agentID] >= r.Capacity(&agent) {
			return nil
		}

		res := tx.Model(&models.Conversation{}).
			Where("id = ? AND assigned_agent_id IS NULL AND status IN ?", conv.ID,
				[]string{models.ConversationActive, models.ConversationEscalated}).
			Updates(map[string]interface{}{
				"assigned_agent_id": agentID,
				"status":            models.ConversationActive,
				"assigned_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("assign conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %d changed during routing", ErrInvalidState, conv.ID)
		}
		if err := r.recordPickup(ctx, tx, agentID); err != nil {
			return err
		}
		assigned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if assigned {
		conv.AssignedAgentID = &agentID
		conv.AssignedAt = &now
		conv.Status = models.ConversationActive
	}
	return assigned, nil
}

// pickupSampleSize bounds how many recent assignments feed the response average.
const pickupSampleSize = 50

// recordPickup counts a new conversation for the agent and recomputes its
// average response time from the agent's recent assignments.
func (r *TeamRouter) recordPickup(ctx context.Context, tx *gorm.DB, agentID uint) error {
	avg, err := avgPickupMinutes(ctx, tx, agentID)
	if err != nil {
		return err
	}
	if err := tx.Model(&models.Agent{}).Where("id = ?", agentID).Updates(map[string]interface{}{
		"conversations_handled": gorm.Expr("conversations_handled + 1"),
		"avg_response_minutes":  avg,
	}).Error; err != nil {
		return fmt.Errorf("update agent workload: %w", err)
	}
	return nil
}

// avgPickupMinutes is the mean wait between a conversation asking for a human
// (its escalation, else its first message) and the agent taking it.
func avgPickupMinutes(ctx context.Context, db *gorm.DB, agentID uint) (float64, error) {
	var convs []models.Conversation
	if err := db.WithContext(ctx).Select("id", "first_message_at", "escalated_at", "assigned_at").
		Where("assigned_agent_id = ? AND assigned_at IS NOT NULL", agentID).
		Order("assigned_at DESC").
		Limit(pickupSampleSize).
		Find(&convs).Error; err != nil {
		return 0, fmt.Errorf("load agent assignments: %w", err)
	}
	if len(convs) == 0 {
		return 0, nil
	}
	var total float64
	for _, c := range convs {
		since := c.FirstMessageAt
		if c.EscalatedAt != nil {
			since = *c.EscalatedAt
		}
		total += maxFloat(0, c.AssignedAt.Sub(since).Minutes())
	}
	return total / float64(len(convs)), nil
}

// activeCounts returns the number of active conversations per agent.
func (r *TeamRouter) activeCounts(ctx context.Context, db *gorm.DB, agentIDs []uint) (map[uint]int, error) {
	type row struct {
		AssignedAgentID uint
		Count           int
	}
	var rows []row
	if err := db.WithContext(ctx).Model(&models.Conversation{}).
		Select("assigned_agent_id, COUNT(*) AS count").
		Where("assigned_agent_id IN ? AND status = ?", agentIDs, models.ConversationActive).
		Group("assigned_agent_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count active conversations: %w", err)
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.AssignedAgentID] = r.Count
	}
	return out, nil
}

// Transfer moves an open conversation to newAgentID and records the audit row.
func (r *TeamRouter) Transfer(ctx context.Context, conversationID, newAgentID uint, reason string) (*TransferResult, error) {
	result := &TransferResult{ConversationID: conversationID, ToAgentID: newAgentID}
	if newAgentID == 0 {
		result.Error = "new agent is required"
		return result, fmt.Errorf("%w: new agent is required", ErrValidation)
	}

	unlockConv, err := r.locker.Lock(ctx, conversationLockKey(conversationID))
	if err != nil {
		return result, err
	}
	defer unlockConv()

	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Error = "conversation not found"
			return result, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return result, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.IsOpen() {
		result.Error = "conversation is " + conv.Status
		return result, fmt.Errorf("%w: conversation %d is %s", ErrInvalidState, conv.ID, conv.Status)
	}
	if conv.AssignedAgentID != nil && *conv.AssignedAgentID == newAgentID {
		result.Error = "conversation already assigned to this agent"
		return result, fmt.Errorf("%w: conversation already assigned to agent %d", ErrValidation, newAgentID)
	}
	result.FromAgentID = conv.AssignedAgentID

	keys := []uint{newAgentID}
	if conv.AssignedAgentID != nil {
		keys = append(keys, *conv.AssignedAgentID)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, id := range keys {
		unlock, err := r.locker.Lock(ctx, agentLockKey(id))
		if err != nil {
			return result, err
		}
		defer unlock()
	}

	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&agent, newAgentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: agent %d", ErrNotFound, newAgentID)
			}
			return fmt.Errorf("lock agent: %w", err)
		}
		if !agent.IsOnline || agent.Status != models.AgentActive {
			return fmt.Errorf("%w: agent %d is not available", ErrCapacity, newAgentID)
		}
		loads, err := r.activeCounts(ctx, tx, []uint{newAgentID})
		if err != nil {
			return err
		}
		if loads[newAgentID] >= r.Capacity(&agent) {
			return fmt.Errorf("%w: agent %d at capacity", ErrCapacity, newAgentID)
		}

		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"assigned_agent_id": newAgentID,
				"status":            models.ConversationActive,
				"assigned_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("reassign conversation: %w", err)
		}
		if err := r.recordPickup(ctx, tx, newAgentID); err != nil {
			return err
		}
		record := models.TransferRecord{
			ConversationID: conv.ID,
			FromAgentID:    conv.AssignedAgentID,
			ToAgentID:      newAgentID,
			Reason:         reason,
			TransferredAt:  now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		result.Error = transferErrorMessage(err)
		return result, err
	}

	result.Success = true
	result.TransferredAt = now
	r.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"from_agent_id":   conv.AssignedAgentID,
		"to_agent_id":     newAgentID,
		"reason":          reason,
	}).Info("conversation transferred")

	evtData := map[string]interface{}{"reason": reason, "from_agent_id": conv.AssignedAgentID, "to_agent_id": newAgentID}
	r.notify(newAgentID, AgentEvent{Type: EventConversationTransferred, ConversationID: conv.ID, Data: evtData})
	if conv.AssignedAgentID != nil {
		r.notify(*conv.AssignedAgentID, AgentEvent{Type: EventConversationReleased, ConversationID: conv.ID, Data: evtData})
	}
	return result, nil
}

func transferErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "agent not found"
	case errors.Is(err, ErrCapacity):
		return "agent not available"
	default:
		return "transfer failed"
	}
}

// Status reports every agent with its workload, grouped by availability.
func (r *TeamRouter) Status(ctx context.Context) (*TeamStatus, error) {
	var agents []models.Agent
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	ids := make([]uint, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	loads := map[uint]int{}
	if len(ids) > 0 {
		var err error
		if loads, err = r.activeCounts(ctx, r.db, ids); err != nil {
			return nil, err
		}
	}

	status := &TeamStatus{
		Online:      []AgentLoad{},
		Busy:        []AgentLoad{},
		Offline:     []AgentLoad{},
		TotalAgents: len(agents),
	}
	for i := range agents {
		a := &agents[i]
		load := AgentLoad{
			ID:                  a.ID,
			Name:                a.Name,
			Role:                a.Role,
			ActiveConversations: loads[a.ID],
			Capacity:            r.Capacity(a),
			LastSeen:            a.LastSeen,
		}
		switch {
		case !a.IsOnline || a.Status != models.AgentActive:
			status.Offline = append(status.Offline, load)
		case load.ActiveConversations >= load.Capacity:
			status.Busy = append(status.Busy, load)
		default:
			status.Online = append(status.Online, load)
		}
	}

	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("status = ? AND assigned_agent_id IS NULL", models.ConversationEscalated).
		Count(&status.Unassigned).Error; err != nil {
		return nil, fmt.Errorf("count unassigned escalations: %w", err)
	}
	return status, nil
}

// UpdateAgentStatus sets the agent's presence and stamps last_seen.
func (r *TeamRouter) UpdateAgentStatus(ctx context.Context, agentID uint, online bool) (*models.Agent, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", agentID).
		Updates(map[string]interface{}{"is_online": online, "last_seen": now})
	if res.Error != nil {
		return nil, fmt.Errorf("update agent status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: agent %d", ErrNotFound, agentID)
	}
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, agentID).Error; err != nil {
		return nil, fmt.Errorf("reload agent: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"agent_id": agentID, "online": online}).Info("agent status updated")
	return &agent, nil
}

// CreateAgentRequest describes a team member.
type CreateAgentRequest struct {
	Name            string   `json:"name" binding:"required"`
	Email           string   `json:"email"`
	UserID          uint     `json:"user_id"`
	Role            string   `json:"role"`
	MaxConcurrent   int      `json:"max_concurrent"`
	Specializations []string `json:"specializations"`
}

func (r *TeamRouter) CreateAgent(ctx context.Context, req *CreateAgentRequest) (*models.Agent, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	role := req.Role
	if role == "" {
		role = models.RoleAgent
	}
	if _, ok := r.cfg.RoleWeights[role]; !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if req.MaxConcurrent < 0 {
		return nil, fmt.Errorf("%w: max_concurrent must not be negative", ErrValidation)
	}
	specs := req.Specializations
	if specs == nil {
		specs = []string{}
	}
	agent := &models.Agent{
		UserID:          req.UserID,
		Name:            req.Name,
		Email:           req.Email,
		Role:            role,
		Status:          models.AgentActive,
		MaxConcurrent:   req.MaxConcurrent,
		Specializations: specs,
	}
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"agent_id": agent.ID, "role": role}).Info("agent created")
	return agent, nil
}

// ListAgents returns active agents by id.
func (r *TeamRouter) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := r.db.WithContext(ctx).Where("status = ?", models.AgentActive).Order("id ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// Heartbeat refreshes last_seen without changing presence.
func (r *TeamRouter) Heartbeat(agentID uint) {
	if err := r.db.Model(&models.Agent{}).Where("id = ?", agentID).
		UpdateColumn("last_seen", r.now()).Error; err != nil {
		r.logger.WithError(err).WithField("agent_id", agentID).Warn("agent heartbeat failed")
	}
}

// AgentPerformance summarizes the agent's conversations touched in the last days days.
func (r *TeamRouter) AgentPerformance(ctx context.Context, agentID uint, days int) (*AgentPerformance, error) {
	if days <= 0 {
		days = 30
	}
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agent %d", ErrNotFound, agentID)
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}
	since := r.now().AddDate(0, 0, -days)

	var convs []models.Conversation
	if err := r.db.WithContext(ctx).
		Where("assigned_agent_id = ? AND updated_at >= ?", agentID, since).
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list agent conversations: %w", err)
	}

	perf := &AgentPerformance{
		AgentID:              agentID,
		Since:                since,
		ConversationsHandled: len(convs),
		MessagesHandled:      agent.MessagesHandled,
		AvgResponseMinutes:   agent.AvgResponseMinutes,
		SatisfactionScore:    agent.SatisfactionScore,
	}
	var totalMinutes float64
	for _, c := range convs {
		switch {
		case c.Status == models.ConversationResolved || c.Status == models.ConversationClosed:
			perf.ConversationsResolved++
			if c.ResolvedAt != nil && !c.FirstMessageAt.IsZero() {
				totalMinutes += c.ResolvedAt.Sub(c.FirstMessageAt).Minutes()
			}
		case c.Status == models.ConversationActive:
			perf.ActiveConversations++
		}
	}
	if perf.ConversationsResolved > 0 {
		perf.AvgResolutionMinutes = totalMinutes / float64(perf.ConversationsResolved)
	}

	if err := r.db.WithContext(ctx).Model(&models.TransferRecord{}).
		Where("to_agent_id = ? AND transferred_at >= ?", agentID, since).
		Count(&perf.TransfersIn).Error; err != nil {
		return nil, fmt.Errorf("count transfers in: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.TransferRecord{}).
		Where("from_agent_id = ? AND transferred_at >= ?", agentID, since).
		Count(&perf.TransfersOut).Error; err != nil {
		return nil, fmt.Errorf("count transfers out: %w", err)
	}
	return perf, nil
}

// ResolveConversation closes out an open conversation and frees its agent's capacity.
func (r *TeamRouter) ResolveConversation(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	unlock, err := r.locker.Lock(ctx, conversationLockKey(conversationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.IsOpen() {
		return nil, fmt.Errorf("%w: conversation %d is %s", ErrInvalidState, conv.ID, conv.Status)
	}

	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&conv).Updates(map[string]interface{}{
			"status":      models.ConversationResolved,
			"resolved_at": now,
			"open_key":    nil,
		}).Error; err != nil {
			return fmt.Errorf("resolve conversation: %w", err)
		}
		if conv.AssignedAgentID == nil {
			return nil
		}
		return r.recordHandled(ctx, tx, &conv)
	})
	if err != nil {
		return nil, err
	}
	conv.Status = models.ConversationResolved
	conv.ResolvedAt = &now
	conv.OpenKey = nil

	if conv.AssignedAgentID != nil {
		r.notify(*conv.AssignedAgentID, AgentEvent{Type: EventConversationReleased, ConversationID: conv.ID})
	}
	return &conv, nil
}

// recordHandled credits the assigned agent with the messages exchanged since
// it took the conversation and refreshes its response average.
func (r *TeamRouter) recordHandled(ctx context.Context, tx *gorm.DB, conv *models.Conversation) error {
	q := tx.Model(&models.Message{}).Where("conversation_id = ?", conv.ID)
	if conv.AssignedAt != nil {
		q = q.Where("created_at >= ?", *conv.AssignedAt)
	}
	var handled int64
	if err := q.Count(&handled).Error; err != nil {
		return fmt.Errorf("count handled messages: %w", err)
	}
	avg, err := avgPickupMinutes(ctx, tx, *conv.AssignedAgentID)
	if err != nil {
		return err
	}
	if err := tx.Model(&models.Agent{}).Where("id = ?", *conv.AssignedAgentID).Updates(map[string]interface{}{
		"messages_handled":     gorm.Expr("messages_handled + ?", handled),
		"avg_response_minutes": avg,
	}).Error; err != nil {
		return fmt.Errorf("update agent stats: %w", err)
	}
	return nil
}

// RecordSatisfaction folds a 1-5 customer rating into the agent's running average.
func (r *TeamRouter) RecordSatisfaction(ctx context.Context, agentID uint, score float64) (*models.Agent, error) {
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("%w: score must be between 1 and 5", ErrValidation)
	}
	res := r.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", agentID).Updates(map[string]interface{}{
		"satisfaction_score":   gorm.Expr("(satisfaction_score * satisfaction_ratings + ?) / (satisfaction_ratings + 1)", score),
		"satisfaction_ratings": gorm.Expr("satisfaction_ratings + 1"),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("record satisfaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: agent %d", ErrNotFound, agentID)
	}
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, agentID).Error; err != nil {
		return nil, fmt.Errorf("reload agent: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"agent_id": agentID, "score": score}).Info("satisfaction recorded")
	return &agent, nil
}

// RouteWaiting retries routing for escalated conversations nobody picked up, oldest first.
func (r *TeamRouter) RouteWaiting(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("status = ? AND assigned_agent_id IS NULL", models.ConversationEscalated).
		Order("escalated_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("list waiting conversations: %w", err)
	}
	routed := 0
	for _, id := range ids {
		res, err := r.Route(ctx, id, "")
		if errors.Is(err, ErrCapacity) {
			break
		}
		if err != nil {
			r.logger.WithError(err).WithField("conversation_id", id).Warn("retry routing failed")
			continue
		}
		if res.Success && !res.AlreadyAssigned {
			routed++
		}
	}
	return routed, nil
}

// StartQueueWorker periodically retries waiting escalations until ctx is done.
func (r *TeamRouter) StartQueueWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := r.RouteWaiting(ctx, 0); err != nil {
					r.logger.WithError(err).Error("routing queue pass failed")
				} else if n > 0 {
					r.logger.Infof("routing queue assigned %d conversations", n)
				}
			}
		}
	}()
}

func (r *TeamRouter) notify(agentID uint, evt AgentEvent) {
	if r.notifier != nil {
		r.notifier.Notify(agentID, evt)
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func hasString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

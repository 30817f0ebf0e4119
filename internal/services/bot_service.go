package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/metrics"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ConversationRouter is the part of TeamRouter the bot depends on.
type ConversationRouter interface {
	Route(ctx context.Context, conversationID uint, priority string) (*RouteResult, error)
}

// BotAction is what the bot did with an inbound message.
type BotAction string

const (
	BotActionReply      BotAction = "reply"
	BotActionHandoff    BotAction = "handoff"
	BotActionAfterHours BotAction = "after_hours"
	BotActionNone       BotAction = "none"
)

// priorityWindow is how many recent inbound messages feed the priority score.
const priorityWindow = 5

// InboundContext is the persisted state of one inbound message.
type InboundContext struct {
	Session      *models.Session
	Contact      *models.Contact
	Conversation *models.Conversation
	Message      *models.Message
}

// BotOutcome reports what ProcessInbound did.
type BotOutcome struct {
	Action        BotAction `json:"action"`
	MatchKind     MatchKind `json:"match_kind,omitempty"`
	TriggerName   string    `json:"trigger_name,omitempty"`
	Reply         string    `json:"reply,omitempty"`
	HandoffReason string    `json:"handoff_reason,omitempty"`
	Priority      string    `json:"priority,omitempty"`
	Routed        bool      `json:"routed"`
	AgentID       *uint     `json:"agent_id,omitempty"`
	SendFailed    bool      `json:"send_failed,omitempty"`
}

// BotService runs automation on inbound messages: handoff policy first, then triggers.
type BotService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	gateway   Gateway
	matcher   *TriggerMatcher
	policy    *HandoffPolicy
	router    ConversationRouter
	analytics *AnalyticsService
	messaging config.MessagingConfig
	now       func() time.Time
}

// NewBotService wires the bot engine.
func NewBotService(db *gorm.DB, logger *logrus.Logger, gateway Gateway, router ConversationRouter, analytics *AnalyticsService, mc config.MessagingConfig) *BotService {
	if logger == nil {
		logger = logrus.New()
	}
	return &BotService{
		db:        db,
		logger:    logger,
		gateway:   gateway,
		matcher:   NewTriggerMatcher(logger, mc.FallbackMessage),
		policy:    NewHandoffPolicy(mc),
		router:    router,
		analytics: analytics,
		messaging: mc,
		now:       time.Now,
	}
}

// ProcessInbound decides and performs the automated response to in.Message.
func (s *BotService) ProcessInbound(ctx context.Context, in InboundContext) (*BotOutcome, error) {
	conv := in.Conversation
	if conv.Status == models.ConversationEscalated || conv.AssignedAgentID != nil {
		return &BotOutcome{Action: BotActionNone, Priority: conv.Priority}, nil
	}
	now := s.now()

	if err := s.raisePriority(ctx, conv); err != nil {
		s.logger.WithError(err).WithField("conversation_id", conv.ID).Warn("priority update failed")
	}

	bot, triggers, err := s.activeTriggers(ctx, in.Session.ID)
	if err != nil {
		return nil, err
	}

	if decision := s.policy.Evaluate(conv, in.Message.Content, now); decision.Escalate {
		return s.escalate(ctx, in, bot, decision.Reason, "", now)
	}

	result := s.matcher.Match(triggers, in.Message.Content)
	if result.Kind == MatchFallback && bot != nil && bot.FallbackMessage != "" {
		result.Response = bot.FallbackMessage
	}
	if result.Kind == MatchNone || result.Response == "" {
		return &BotOutcome{Action: BotActionNone, MatchKind: result.Kind, Priority: conv.Priority}, nil
	}

	msg, err := s.sendOutbound(ctx, in, result.Response, result.ResponseType, result.MediaURL, result.TriggerName)
	if err != nil {
		return nil, err
	}
	metrics.IncBotReply()
	s.analytics.record(ctx, StatBotInteractions, 1)

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"contact_id":      in.Contact.ID,
		"match_kind":      result.Kind,
		"trigger":         result.TriggerName,
	}).Info("bot replied")

	if !result.ForcedHandoff {
		return &BotOutcome{
			Action:      BotActionReply,
			MatchKind:   result.Kind,
			TriggerName: result.TriggerName,
			Reply:       result.Response,
			Priority:    conv.Priority,
			SendFailed:  msg.Status == models.MessageFailed,
		}, nil
	}

	out, err := s.escalate(ctx, in, bot, HandoffTrigger, result.HandoffText, now)
	if err != nil {
		return nil, err
	}
	out.MatchKind = result.Kind
	out.TriggerName = result.TriggerName
	out.Reply = result.Response
	return out, nil
}

// escalate hands the conversation to humans, or sends the after-hours notice
// when the session is closed.
func (s *BotService) escalate(ctx context.Context, in InboundContext, bot *models.Bot, reason, handoffText string, now time.Time) (*BotOutcome, error) {
	conv := in.Conversation
	fields := logrus.Fields{
		"conversation_id": conv.ID,
		"session":         in.Session.Name,
		"reason":          reason,
	}

	if !s.policy.InBusinessHours(in.Session, now) {
		notice := s.messaging.AfterHoursMessage
		if bot != nil && bot.AfterHoursMessage != "" {
			notice = bot.AfterHoursMessage
		}
		msg, err := s.sendOutbound(ctx, in, notice, "text", "", "after_hours")
		if err != nil {
			return nil, err
		}
		s.logger.WithFields(fields).Info("handoff deferred: outside business hours")
		return &BotOutcome{
			Action:        BotActionAfterHours,
			Reply:         notice,
			HandoffReason: reason,
			Priority:      conv.Priority,
			SendFailed:    msg.Status == models.MessageFailed,
		}, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status = ?", conv.ID, models.ConversationActive).
		Updates(map[string]interface{}{"status": models.ConversationEscalated, "escalated_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("escalate conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// another request already moved the conversation out of automation
		s.logger.WithFields(fields).Debug("conversation no longer active, handoff skipped")
		return &BotOutcome{Action: BotActionNone, HandoffReason: reason, Priority: conv.Priority}, nil
	}
	conv.Status = models.ConversationEscalated
	conv.EscalatedAt = &now
	metrics.IncHandoff()
	s.analytics.record(ctx, StatHumanHandoffs, 1)
	s.logger.WithFields(fields).Info("conversation escalated")

	if handoffText == "" {
		handoffText = s.messaging.HandoffMessage
	}
	out := &BotOutcome{Action: BotActionHandoff, HandoffReason: reason, Priority: conv.Priority, Reply: handoffText}
	msg, err := s.sendOutbound(ctx, in, handoffText, "text", "", "handoff")
	if err != nil {
		return nil, err
	}
	out.SendFailed = msg.Status == models.MessageFailed

	if s.router == nil {
		return out, nil
	}
	routed, err := s.router.Route(ctx, conv.ID, conv.Priority)
	switch {
	case err == nil:
		out.Routed = routed.Success
		out.AgentID = routed.AgentID
		if routed.AgentID != nil {
			conv.AssignedAgentID = routed.AgentID
			conv.Status = models.ConversationActive
		}
	case errors.Is(err, ErrCapacity):
		s.logger.WithFields(fields).Warn("no agent available, conversation waits for manual pickup")
	default:
		s.logger.WithError(err).WithFields(fields).Error("routing failed")
	}
	return out, nil
}

// raisePriority rescores the conversation from its recent inbound messages.
// Priority only moves up.
func (s *BotService) raisePriority(ctx context.Context, conv *models.Conversation) error {
	var texts []string
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ?", conv.ID, models.DirectionInbound).
		Order("id DESC").
		Limit(priorityWindow).
		Pluck("content", &texts).Error; err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	p := PriorityFromMessages(texts)
	if models.PriorityRank(p) <= models.PriorityRank(conv.Priority) {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conv.ID).
		UpdateColumn("priority", p).Error; err != nil {
		return fmt.Errorf("update priority: %w", err)
	}
	conv.Priority = p
	return nil
}

// activeTriggers loads the triggers of active bots for the session, including
// global bots. The session's own bot, if any, is returned for its texts.
func (s *BotService) activeTriggers(ctx context.Context, sessionID uint) (*models.Bot, []models.BotTrigger, error) {
	var bots []models.Bot
	if err := s.db.WithContext(ctx).
		Where("status = ? AND (session_id = ? OR session_id IS NULL)", models.BotActive, sessionID).
		Order("id ASC").
		Preload("Triggers", "is_active = ?", true).
		Find(&bots).Error; err != nil {
		return nil, nil, fmt.Errorf("load bots: %w", err)
	}
	var (
		primary  *models.Bot
		triggers []models.BotTrigger
	)
	for i := range bots {
		b := &bots[i]
		if primary == nil || (b.SessionID != nil && primary.SessionID == nil) {
			primary = b
		}
		triggers = append(triggers, b.Triggers...)
	}
	return primary, triggers, nil
}

// sendOutbound sends one bot message and persists it as sent or failed. Only
// persistence errors are returned.
func (s *BotService) sendOutbound(ctx context.Context, in InboundContext, content, msgType, mediaURL, triggerName string) (*models.Message, error) {
	if msgType == "" {
		msgType = "text"
	}
	now := s.now()
	convID := in.Conversation.ID
	msg := &models.Message{
		SessionID:      in.Session.ID,
		ContactID:      in.Contact.ID,
		ConversationID: &convID,
		Direction:      models.DirectionOutbound,
		Type:           msgType,
		Content:        content,
		MediaURL:       mediaURL,
		Status:         models.MessagePending,
		IsBotResponse:  true,
		BotTrigger:     triggerName,
	}

	var sendErr error
	if s.gateway == nil {
		sendErr = fmt.Errorf("%w: no gateway configured", ErrDelivery)
	} else {
		var res *SendResult
		res, sendErr = s.gateway.Send(ctx, OutboundMessage{
			Session:   in.Session.Name,
			Recipient: in.Contact.Phone,
			Content:   content,
			Type:      msgType,
			MediaURL:  mediaURL,
		})
		if sendErr == nil && res != nil {
			msg.MessageID = res.MessageID
		}
	}
	if msg.MessageID == "" {
		msg.MessageID = utils.GenerateMessageID("bot")
	}

	if sendErr != nil {
		msg.Status = models.MessageFailed
		msg.ErrorMessage = sendErr.Error()
	} else {
		msg.Status = models.MessageSent
		msg.SentAt = &now
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("persist outbound message: %w", err)
		}
		// message_count covers every stored message of the conversation
		if err := tx.Model(&models.Conversation{}).Where("id = ?", convID).
			UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error; err != nil {
			return fmt.Errorf("count outbound message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.Conversation.MessageCount++

	if sendErr != nil {
		metrics.IncOutboundFailed()
		s.analytics.record(ctx, StatMessagesFailed, 1)
		s.logger.WithError(sendErr).WithFields(logrus.Fields{
			"conversation_id": convID,
			"contact_id":      in.Contact.ID,
		}).Warn("bot send failed")
		return msg, nil
	}

	metrics.IncOutboundSent()
	s.analytics.record(ctx, StatMessagesSent, 1)
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", in.Session.ID).
		Updates(map[string]interface{}{
			"messages_sent": gorm.Expr("messages_sent + 1"),
			"last_activity": now,
		}).Error; err != nil {
		s.logger.WithError(err).Warn("update session counters failed")
	}
	return msg, nil
}

// CreateBotRequest creates a bot, optionally bound to one session.
type CreateBotRequest struct {
	Name              string `json:"name" binding:"required"`
	SessionID         *uint  `json:"session_id"`
	WelcomeMessage    string `json:"welcome_message"`
	FallbackMessage   string `json:"fallback_message"`
	AfterHoursMessage string `json:"after_hours_message"`
	SeedDefaults      bool   `json:"seed_defaults"`
}

// CreateBot stores an active bot and, when asked, its default triggers.
func (s *BotService) CreateBot(ctx context.Context, req *CreateBotRequest) (*models.Bot, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	bot := &models.Bot{
		Name:              req.Name,
		SessionID:         req.SessionID,
		Status:            models.BotActive,
		WelcomeMessage:    req.WelcomeMessage,
		FallbackMessage:   req.FallbackMessage,
		AfterHoursMessage: req.AfterHoursMessage,
	}
	if err := s.db.WithContext(ctx).Create(bot).Error; err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if req.SeedDefaults {
		if _, err := s.SeedDefaultTriggers(ctx, bot.ID); err != nil {
			return nil, err
		}
	}
	return bot, nil
}

// AddTriggerRequest defines one trigger.
type AddTriggerRequest struct {
	Name                 string `json:"name" binding:"required"`
	TriggerType          string `json:"trigger_type" binding:"required"`
	TriggerValue         string `json:"trigger_value" binding:"required"`
	ResponseMessage      string `json:"response_message"`
	ResponseType         string `json:"response_type"`
	MediaURL             string `json:"media_url"`
	Priority             int    `json:"priority"`
	RequiresHumanHandoff bool   `json:"requires_human_handoff"`
	HandoffMessage       string `json:"handoff_message"`
}

// AddTrigger validates and stores a trigger. Patterns that do not compile are
// rejected here; stored ones that stop compiling are skipped at match time.
func (s *BotService) AddTrigger(ctx context.Context, botID uint, req *AddTriggerRequest) (*models.BotTrigger, error) {
	if !TriggerType(req.TriggerType).Valid() {
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrValidation, req.TriggerType)
	}
	if _, err := CompileMatcher(TriggerType(req.TriggerType), req.TriggerValue); err != nil {
		return nil, err
	}
	var bot models.Bot
	if err := s.db.WithContext(ctx).First(&bot, botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: bot %d", ErrNotFound, botID)
		}
		return nil, fmt.Errorf("load bot: %w", err)
	}
	t := &models.BotTrigger{
		BotID:                botID,
		Name:                 req.Name,
		TriggerType:          req.TriggerType,
		TriggerValue:         req.TriggerValue,
		ResponseMessage:      req.ResponseMessage,
		ResponseType:         req.ResponseType,
		MediaURL:             req.MediaURL,
		Priority:             req.Priority,
		RequiresHumanHandoff: req.RequiresHumanHandoff,
		HandoffMessage:       req.HandoffMessage,
		IsActive:             true,
	}
	if t.ResponseType == "" {
		t.ResponseType = "text"
	}
	if t.Priority == 0 {
		t.Priority = 1
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	return t, nil
}

// SeedDefaultTriggers installs the built-in keyword replies as editable
// triggers. Triggers whose name already exists on the bot are left alone.
func (s *BotService) SeedDefaultTriggers(ctx context.Context, botID uint) ([]models.BotTrigger, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", botID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: bot %d", ErrNotFound, botID)
	}
	var existing []string
	if err := s.db.WithContext(ctx).Model(&models.BotTrigger{}).
		Where("bot_id = ?", botID).Pluck("name", &existing).Error; err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}

	var created []models.BotTrigger
	for i, b := range builtinResponses {
		if have[b.name] {
			continue
		}
		t := models.BotTrigger{
			BotID:                botID,
			Name:                 b.name,
			TriggerType:          string(TriggerKeyword),
			TriggerValue:         strings.Join(b.keywords, ","),
			ResponseMessage:      b.response,
			ResponseType:         "text",
			Priority:             i + 1,
			RequiresHumanHandoff: b.forcedHandoff,
			IsActive:             true,
		}
		if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
			return nil, fmt.Errorf("seed trigger %s: %w", b.name, err)
		}
		created = append(created, t)
	}
	return created, nil
}

// ListBots returns every bot with its triggers, priority order.
func (s *BotService) ListBots(ctx context.Context) ([]models.Bot, error) {
	var bots []models.Bot
	if err := s.db.WithContext(ctx).
		Preload("Triggers", func(db *gorm.DB) *gorm.DB { return db.Order("priority ASC, id ASC") }).
		Order("id ASC").Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

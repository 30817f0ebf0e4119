package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/metrics"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Webhook event kinds.
const (
	EventMessage = "message"
	EventStatus  = "status"
	EventSession = "session"
)

// Ingest actions.
const (
	IngestStored    = "stored"
	IngestDuplicate = "duplicate"
	IngestUpdated   = "updated"
	IngestIgnored   = "ignored"
)

// WebhookEvent is one gateway callback. Both the {type, data} shape and the
// WAHA native {event, payload} shape are accepted.
type WebhookEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Session string          `json:"session,omitempty"`
	Data    json.RawMessage `json:"data"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Kind normalizes the event type.
func (e *WebhookEvent) Kind() string {
	t := strings.ToLower(strings.TrimSpace(e.Type))
	if t == "" {
		t = strings.ToLower(strings.TrimSpace(e.Event))
	}
	switch t {
	case "message", "message.any":
		return EventMessage
	case "status", "message.ack", "ack":
		return EventStatus
	case "session", "session.status", "state.change":
		return EventSession
	}
	return t
}

func (e *WebhookEvent) body() json.RawMessage {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return e.Data
	}
	return e.Payload
}

// MessageData is the data of a message event.
type MessageData struct {
	From       string          `json:"from"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Text       *TextBody       `json:"text,omitempty"`
	Body       string          `json:"body,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	NotifyName string          `json:"notifyName,omitempty"`
	MediaURL   string          `json:"mediaUrl,omitempty"`
	FromMe     bool            `json:"fromMe,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// Content returns the message text from either payload shape.
func (m *MessageData) Content() string {
	if m.Text != nil && m.Text.Body != "" {
		return m.Text.Body
	}
	return m.Body
}

// SentAt parses an ISO-8601 string or unix seconds timestamp.
func (m *MessageData) SentAt() (time.Time, bool) {
	raw := strings.Trim(string(m.Timestamp), `"`)
	if raw == "" || raw == "null" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// StatusData is the data of a delivery status event.
type StatusData struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Ack    *int   `json:"ack,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MessageStatus maps the callback to a message status.
func (s *StatusData) MessageStatus() (string, bool) {
	if s.Status != "" {
		switch strings.ToLower(s.Status) {
		case "pending":
			return models.MessagePending, true
		case "sent", "server":
			return models.MessageSent, true
		case "delivered", "device":
			return models.MessageDelivered, true
		case "read", "played":
			return models.MessageRead, true
		case "failed", "error":
			return models.MessageFailed, true
		}
		return "", false
	}
	if s.Ack == nil {
		return "", false
	}
	switch *s.Ack {
	case -1:
		return models.MessageFailed, true
	case 0:
		return models.MessagePending, true
	case 1:
		return models.MessageSent, true
	case 2:
		return models.MessageDelivered, true
	case 3, 4:
		return models.MessageRead, true
	}
	return "", false
}

// SessionData is the data of a session state event.
type SessionData struct {
	Status string `json:"status"`
}

// IngestResult reports what HandleEvent did.
type IngestResult struct {
	Event           string      `json:"event"`
	Action          string      `json:"action"`
	MessageID       string      `json:"message_id,omitempty"`
	ContactID       uint        `json:"contact_id,omitempty"`
	ConversationID  uint        `json:"conversation_id,omitempty"`
	NewContact      bool        `json:"new_contact,omitempty"`
	NewConversation bool        `json:"new_conversation,omitempty"`
	Status          string      `json:"status,omitempty"`
	Bot             *BotOutcome `json:"bot,omitempty"`
}

// InboundProcessor receives persisted inbound messages.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, in InboundContext) (*BotOutcome, error)
}

// IngestionService turns gateway callbacks into state.
type IngestionService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	sessions  *SessionService
	bot       InboundProcessor
	analytics *AnalyticsService
	now       func() time.Time
}

// NewIngestionService wires the pipeline. bot may be nil to store without replying.
func NewIngestionService(db *gorm.DB, logger *logrus.Logger, sessions *SessionService, bot InboundProcessor, analytics *AnalyticsService) *IngestionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestionService{
		db:        db,
		logger:    logger,
		sessions:  sessions,
		bot:       bot,
		analytics: analytics,
		now:       time.Now,
	}
}

var errDuplicateMessage = errors.New("duplicate message")

// ValidateEvent checks an event's shape without touching state.
func ValidateEvent(evt *WebhookEvent) (string, error) {
	kind := evt.Kind()
	body := evt.body()
	if len(body) == 0 {
		return kind, fmt.Errorf("%w: data is required", ErrValidation)
	}
	switch kind {
	case EventMessage:
		var d MessageData
		if err := json.Unmarshal(body, &d); err != nil {
			return kind, fmt.Errorf("%w: malformed message data: %v", ErrValidation, err)
		}
		if strings.TrimSpace(d.From) == "" {
			return kind, fmt.Errorf("%w: from is required", ErrValidation)
		}
		if strings.TrimSpace(d.ID) == "" {
			return kind, fmt.Errorf("%w: id is required", ErrValidation)
		}
	case EventStatus:
		var d StatusData
		if err := json.Unmarshal(body, &d); err != nil {
			return kind, fmt.Errorf("%w: malformed status data: %v", ErrValidation, err)
		}
		if d.ID == "" {
			return kind, fmt.Errorf("%w: id is required", ErrValidation)
		}
	case EventSession:
		var d SessionData
		if err := json.Unmarshal(body, &d); err != nil {
			return kind, fmt.Errorf("%w: malformed session data: %v", ErrValidation, err)
		}
	default:
		return kind, fmt.Errorf("%w: unknown event type %q", ErrValidation, kind)
	}
	return kind, nil
}

// HandleEvent dispatches one callback for sessionName.
func (s *IngestionService) HandleEvent(ctx context.Context, sessionName string, evt *WebhookEvent) (*IngestResult, error) {
	kind, err := ValidateEvent(evt)
	if err != nil {
		metrics.IncWebhookRejected()
		return nil, err
	}
	if sessionName == "" {
		sessionName = evt.Session
	}
	body := evt.body()

	switch kind {
	case EventMessage:
		var d MessageData
		_ = json.Unmarshal(body, &d)
		return s.handleMessage(ctx, sessionName, &d, body)
	case EventStatus:
		var d StatusData
		_ = json.Unmarshal(body, &d)
		return s.handleStatus(ctx, &d)
	default:
		var d SessionData
		_ = json.Unmarshal(body, &d)
		return s.handleSession(ctx, sessionName, &d)
	}
}

func (s *IngestionService) handleMessage(ctx context.Context, sessionName string, d *MessageData, raw json.RawMessage) (*IngestResult, error) {
	result := &IngestResult{Event: EventMessage, MessageID: d.ID}

	session, err := s.sessions.ByName(ctx, sessionName)
	if err != nil {
		metrics.IncWebhookRejected()
		return nil, err
	}
	if d.FromMe {
		result.Action = IngestIgnored
		return result, nil
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("message_id = ?", d.ID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if exists > 0 {
		metrics.IncDuplicateInbound()
		result.Action = IngestDuplicate
		return result, nil
	}

	phone := utils.NormalizePhone(d.From)
	now := s.now()
	msgType := d.Type
	if msgType == "" || msgType == "chat" {
		msgType = "text"
	}

	var (
		contact models.Contact
		conv    models.Conversation
		msg     models.Message
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		newContact, err := s.upsertContact(tx, phone, d.NotifyName, now, &contact)
		if err != nil {
			return err
		}
		result.NewContact = newContact

		newConv, err := s.upsertConversation(tx, contact.ID, session.ID, now, &conv)
		if err != nil {
			return err
		}
		result.NewConversation = newConv

		convID := conv.ID
		msg = models.Message{
			MessageID:      d.ID,
			SessionID:      session.ID,
			ContactID:      contact.ID,
			ConversationID: &convID,
			Direction:      models.DirectionInbound,
			Type:           msgType,
			Content:        d.Content(),
			MediaURL:       d.MediaURL,
			Status:         models.MessageDelivered,
			DeliveredAt:    &now,
			Raw:            datatypes.JSON(raw),
		}
		if at, ok := d.SentAt(); ok {
			msg.SentAt = &at
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg)
		if res.Error != nil {
			return fmt.Errorf("persist message: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errDuplicateMessage
		}
		if conv.Category == "" {
			if intent := DetectIntent(msg.Content); intent != "" {
				if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
					UpdateColumn("category", intent).Error; err != nil {
					return fmt.Errorf("categorize conversation: %w", err)
				}
				conv.Category = intent
			}
		}

		if err := tx.Model(&models.Session{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"messages_received": gorm.Expr("messages_received + 1"),
			"last_activity":     now,
		}).Error; err != nil {
			return fmt.Errorf("update session counters: %w", err)
		}

		if err := s.analytics.IncrementTx(ctx, tx, StatMessagesReceived, 1); err != nil {
			return err
		}
		if newContact {
			if err := s.analytics.IncrementTx(ctx, tx, StatNewContacts, 1); err != nil {
				return err
			}
		}
		if newConv {
			if err := s.analytics.IncrementTx(ctx, tx, StatNewConversations, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicateMessage) {
		metrics.IncDuplicateInbound()
		result.Action = IngestDuplicate
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.IncInboundMessage()
	result.Action = IngestStored
	result.ContactID = contact.ID
	result.ConversationID = conv.ID
	s.logger.WithFields(logrus.Fields{
		"session":         session.Name,
		"contact_id":      contact.ID,
		"conversation_id": conv.ID,
		"message_id":      d.ID,
		"text":            utils.Truncate(msg.Content, 80),
	}).Info("inbound message stored")

	if s.bot == nil || !session.AutoReplyEnabled || msg.Content == "" {
		return result, nil
	}
	outcome, err := s.bot.ProcessInbound(ctx, InboundContext{
		Session:      session,
		Contact:      &contact,
		Conversation: &conv,
		Message:      &msg,
	})
	if err != nil {
		// the message is stored; automation failures stay local
		s.logger.WithError(err).WithField("conversation_id", conv.ID).Error("bot processing failed")
		return result, nil
	}
	result.Bot = outcome
	return result, nil
}

// upsertContact gets or creates the contact and reports whether it was created.
// total_messages counts messages after the first.
func (s *IngestionService) upsertContact(tx *gorm.DB, phone, name string, now time.Time, out *models.Contact) (bool, error) {
	fresh := models.Contact{
		Phone:           phone,
		Name:            name,
		Status:          models.ContactActive,
		CustomerType:    "prospect",
		Language:        "en",
		Tags:            []string{},
		LastInteraction: &now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return false, fmt.Errorf("create contact: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		*out = fresh
		return true, nil
	}

	if err := tx.Where("phone = ?", phone).First(out).Error; err != nil {
		return false, fmt.Errorf("load contact: %w", err)
	}
	updates := map[string]interface{}{
		"total_messages":   gorm.Expr("total_messages + 1"),
		"last_interaction": now,
	}
	if out.Name == "" && name != "" {
		updates["name"] = name
		out.Name = name
	}
	if err := tx.Model(&models.Contact{}).Where("id = ?", out.ID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("update contact: %w", err)
	}
	out.TotalMessages++
	out.LastInteraction = &now
	return false, nil
}

// upsertConversation gets or opens the conversation for the pair and counts the message.
func (s *IngestionService) upsertConversation(tx *gorm.DB, contactID, sessionID uint, now time.Time, out *models.Conversation) (bool, error) {
	key := models.ConversationOpenKey(contactID, sessionID)
	fresh := models.Conversation{
		ContactID:      contactID,
		SessionID:      sessionID,
		OpenKey:        &key,
		Status:         models.ConversationActive,
		Priority:       models.PriorityMedium,
		Tags:           []string{},
		MessageCount:   1,
		FirstMessageAt: now,
		LastMessageAt:  now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return false, fmt.Errorf("create conversation: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		*out = fresh
		return true, nil
	}

	if err := tx.Where("open_key = ?", key).First(out).Error; err != nil {
		return false, fmt.Errorf("load conversation: %w", err)
	}
	if err := tx.Model(&models.Conversation{}).Where("id = ?", out.ID).Updates(map[string]interface{}{
		"message_count":   gorm.Expr("message_count + 1"),
		"last_message_at": now,
	}).Error; err != nil {
		return false, fmt.Errorf("update conversation: %w", err)
	}
	out.MessageCount++
	out.LastMessageAt = now
	return false, nil
}

func (s *IngestionService) handleStatus(ctx context.Context, d *StatusData) (*IngestResult, error) {
	result := &IngestResult{Event: EventStatus, MessageID: d.ID}
	next, ok := d.MessageStatus()
	if !ok {
		s.logger.WithField("message_id", d.ID).Warnf("unknown delivery status %q", d.Status)
		result.Action = IngestIgnored
		return result, nil
	}

	var msg models.Message
	if err := s.db.WithContext(ctx).Where("message_id = ? OR external_id = ?", d.ID, d.ID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithField("message_id", d.ID).Info("status for unknown message dropped")
			result.Action = IngestIgnored
			return result, nil
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	result.Status = msg.Status
	if !models.CanAdvanceMessageStatus(msg.Status, next) {
		result.Action = IngestIgnored
		return result, nil
	}

	now := s.now()
	updates := map[string]interface{}{"status": next}
	reachedDelivered, reachedRead := false, false
	switch next {
	case models.MessageDelivered:
		if msg.DeliveredAt == nil {
			updates["delivered_at"] = now
			reachedDelivered = true
		}
	case models.MessageRead:
		if msg.DeliveredAt == nil {
			updates["delivered_at"] = now
			reachedDelivered = true
		}
		if msg.ReadAt == nil {
			updates["read_at"] = now
			reachedRead = true
		}
	case models.MessageFailed:
		if d.Error != "" {
			updates["error_message"] = d.Error
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).Where("id = ? AND status = ?", msg.ID, msg.Status).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update message status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// a concurrent callback already moved it
			reachedDelivered, reachedRead = false, false
			next = msg.Status
			return nil
		}
		counters := map[string]int{}
		if reachedDelivered {
			counters[StatMessagesDelivered]++
		}
		if reachedRead {
			counters[StatMessagesRead]++
		}
		if next == models.MessageFailed {
			counters[StatMessagesFailed]++
		}
		for field, n := range counters {
			if err := s.analytics.IncrementTx(ctx, tx, field, n); err != nil {
				return err
			}
			if msg.CampaignID != nil {
				if err := tx.Model(&models.Campaign{}).Where("id = ?", *msg.CampaignID).
					UpdateColumn(field, gorm.Expr(field+" + ?", n)).Error; err != nil {
					return fmt.Errorf("update campaign %s: %w", field, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Action = IngestUpdated
	result.Status = next
	return result, nil
}

func (s *IngestionService) handleSession(ctx context.Context, sessionName string, d *SessionData) (*IngestResult, error) {
	result := &IngestResult{Event: EventSession}
	state, ok := MapSessionState(d.Status)
	if !ok {
		s.logger.WithField("session", sessionName).Warnf("unknown session state %q dropped", d.Status)
		result.Action = IngestIgnored
		return result, nil
	}
	session, err := s.sessions.SetStatus(ctx, sessionName, state)
	if errors.Is(err, ErrNotFound) {
		s.logger.WithField("session", sessionName).Info("state for unknown session dropped")
		result.Action = IngestIgnored
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Action = IngestUpdated
	result.Status = session.Status
	return result, nil
}

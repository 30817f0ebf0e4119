package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contact status values. Contacts are never hard-deleted, only status-transitioned.
const (
	ContactActive   = "active"
	ContactInactive = "inactive"
	ContactBlocked  = "blocked"
	ContactOptedOut = "opted_out"
)

// Contact an external messaging identity
type Contact struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Phone           string     `gorm:"uniqueIndex;size:64;not null" json:"phone"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Status          string     `gorm:"size:20;default:'active';index" json:"status"`
	CustomerType    string     `gorm:"size:20;default:'prospect';index" json:"customer_type"` // prospect, customer, vip, returning
	Language        string     `gorm:"size:10;default:'en'" json:"language"`
	Tags            []string   `gorm:"serializer:json" json:"tags"`
	TotalMessages   int        `gorm:"default:0" json:"total_messages"`
	TotalOrders     int        `gorm:"default:0" json:"total_orders"`
	TotalSpent      float64    `gorm:"default:0" json:"total_spent"`
	LastInteraction *time.Time `gorm:"index" json:"last_interaction"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasTags reports whether the contact carries every tag in want.
func (c *Contact) HasTags(want []string) bool {
	have := make(map[string]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		have[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// Session status values, driven by gateway callbacks.
const (
	SessionConnecting   = "connecting"
	SessionActive       = "active"
	SessionError        = "error"
	SessionDisconnected = "disconnected"
)

// Session a gateway-side connection, one per messaging number
type Session struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"uniqueIndex;size:100;not null" json:"name"`
	PhoneNumber          string     `gorm:"size:64" json:"phone_number"`
	Status               string     `gorm:"size:20;default:'connecting'" json:"status"`
	OwnerID              *uint      `gorm:"index" json:"owner_id"`
	MessagesSent         int        `gorm:"default:0" json:"messages_sent"`
	MessagesReceived     int        `gorm:"default:0" json:"messages_received"`
	AutoReplyEnabled     bool       `json:"auto_reply_enabled"`
	BusinessHoursEnabled bool       `gorm:"default:false" json:"business_hours_enabled"`
	BusinessHoursStart   string     `gorm:"size:5" json:"business_hours_start"` // HH:MM
	BusinessHoursEnd     string     `gorm:"size:5" json:"business_hours_end"`
	LastActivity         *time.Time `json:"last_activity"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status values. Status only moves forward.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

var messageStatusRank = map[string]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// CanAdvanceMessageStatus reports whether a message may move from one status to another.
// failed is terminal and only reachable before delivery; read is terminal.
func CanAdvanceMessageStatus(from, to string) bool {
	if from == MessageFailed || from == to {
		return false
	}
	if to == MessageFailed {
		return from == MessagePending || from == MessageSent
	}
	fr, ok1 := messageStatusRank[from]
	tr, ok2 := messageStatusRank[to]
	return ok1 && ok2 && tr > fr
}

// Message a single chat message; immutable apart from delivery stamps
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	MessageID      string         `gorm:"uniqueIndex;size:191;not null" json:"message_id"`
	ExternalID     string         `gorm:"index;size:191" json:"external_id,omitempty"` // gateway id when it differs from MessageID
	SessionID      uint           `gorm:"index;not null" json:"session_id"`
	ContactID      uint           `gorm:"index;not null" json:"contact_id"`
	ConversationID *uint          `gorm:"index" json:"conversation_id"`
	Direction      string         `gorm:"size:10;not null" json:"direction"`
	Type           string         `gorm:"size:20;default:'text'" json:"type"` // text, image, video, audio, document, location, contact, template, interactive
	Content        string         `gorm:"type:text" json:"content"`
	MediaURL       string         `json:"media_url"`
	Status         string         `gorm:"size:20;default:'pending';index" json:"status"`
	SentAt         *time.Time     `json:"sent_at"`
	DeliveredAt    *time.Time     `json:"delivered_at"`
	ReadAt         *time.Time     `json:"read_at"`
	IsBotResponse  bool           `gorm:"default:false" json:"is_bot_response"`
	BotTrigger     string         `gorm:"size:100" json:"bot_trigger"`
	CampaignID     *uint          `gorm:"index" json:"campaign_id"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	Raw            datatypes.JSON `json:"-"` // inbound webhook payload
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Conversation status values.
const (
	ConversationActive    = "active"
	ConversationResolved  = "resolved"
	ConversationEscalated = "escalated"
	ConversationClosed    = "closed"
)

// Conversation priority values.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var priorityRank = map[string]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// PriorityRank orders priorities; unknown values rank as low.
func PriorityRank(p string) int {
	return priorityRank[p]
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// Conversation the unit of routing, keyed by (contact, session)
type Conversation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ContactID       uint       `gorm:"index:idx_conversation_pair;not null" json:"contact_id"`
	SessionID       uint       `gorm:"index:idx_conversation_pair;not null" json:"session_id"`
	OpenKey         *string    `gorm:"uniqueIndex;size:64" json:"-"` // set while active/escalated
	Status          string     `gorm:"size:20;default:'active';index" json:"status"`
	Priority        string     `gorm:"size:10;default:'medium'" json:"priority"`
	AssignedAgentID *uint      `gorm:"index" json:"assigned_agent_id"`
	Subject         string     `json:"subject"`
	Tags            []string   `gorm:"serializer:json" json:"tags"`
	Category        string     `gorm:"size:50" json:"category"`
	MessageCount    int        `gorm:"default:0" json:"message_count"`
	FirstMessageAt  time.Time  `json:"first_message_at"`
	LastMessageAt   time.Time  `json:"last_message_at"`
	EscalatedAt     *time.Time `json:"escalated_at"`
	AssignedAt      *time.Time `json:"assigned_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// ConversationOpenKey is the uniqueness key of an open conversation for a pair.
func ConversationOpenKey(contactID, sessionID uint) string {
	return fmt.Sprintf("%d:%d", contactID, sessionID)
}

// IsOpen reports whether the conversation still counts against routing capacity.
func (c *Conversation) IsOpen() bool {
	return c.Status == ConversationActive || c.Status == ConversationEscalated
}

// Agent roles.
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleAgent     = "agent"
	RoleSales     = "sales"
	RoleMarketing = "marketing"
	RoleViewer    = "viewer"
)

// Agent status values.
const (
	AgentActive    = "active"
	AgentInactive  = "inactive"
	AgentSuspended = "suspended"
)

// Agent a team member that can take over conversations
type Agent struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UserID               uint           `gorm:"index" json:"user_id"`
	Name                 string         `json:"name"`
	Email                string         `json:"email"`
	Role                 string         `gorm:"size:20;default:'agent'" json:"role"`
	Status               string         `gorm:"size:20;default:'active'" json:"status"`
	IsOnline             bool           `gorm:"default:false;index" json:"is_online"`
	LastSeen             *time.Time     `json:"last_seen"`
	MaxConcurrent        int            `gorm:"default:5" json:"max_concurrent"`
	Specializations      []string       `gorm:"serializer:json" json:"specializations"`
	WorkingHours         datatypes.JSON `json:"working_hours"`
	MessagesHandled      int            `gorm:"default:0" json:"messages_handled"`
	ConversationsHandled int            `gorm:"default:0" json:"conversations_handled"`
	AvgResponseMinutes   float64        `gorm:"default:0" json:"avg_response_minutes"`
	SatisfactionScore    float64        `gorm:"default:0" json:"satisfaction_score"` // 0-5
	SatisfactionRatings  int            `gorm:"default:0" json:"satisfaction_ratings"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

// TransferRecord audit row for a conversation moved between agents
type TransferRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index;not null" json:"conversation_id"`
	FromAgentID    *uint     `gorm:"index" json:"from_agent_id"`
	ToAgentID      uint      `gorm:"index;not null" json:"to_agent_id"`
	Reason         string    `gorm:"type:text" json:"reason"`
	TransferredAt  time.Time `gorm:"index" json:"transferred_at"`
}

// Bot status values.
const (
	BotActive   = "active"
	BotInactive = "inactive"
	BotTesting  = "testing"
)

// Bot groups triggers; SessionID nil applies to every session
type Bot struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"not null" json:"name"`
	SessionID         *uint     `gorm:"index" json:"session_id"`
	Status            string    `gorm:"size:20;default:'active'" json:"status"`
	WelcomeMessage    string    `gorm:"type:text" json:"welcome_message"`
	FallbackMessage   string    `gorm:"type:text" json:"fallback_message"`
	AfterHoursMessage string    `gorm:"type:text" json:"after_hours_message"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Triggers []BotTrigger `gorm:"foreignKey:BotID;constraint:OnDelete:CASCADE" json:"triggers,omitempty"`
}

// BotTrigger maps inbound text to an automated reply
type BotTrigger struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	BotID                uint      `gorm:"index;not null" json:"bot_id"`
	Name                 string    `gorm:"not null" json:"name"`
	TriggerType          string    `gorm:"size:20;not null" json:"trigger_type"` // exact_match, keyword, regex, intent
	TriggerValue         string    `gorm:"type:text;not null" json:"trigger_value"`
	ResponseMessage      string    `gorm:"type:text" json:"response_message"`
	ResponseType         string    `gorm:"size:20;default:'text'" json:"response_type"`
	MediaURL             string    `json:"media_url"`
	Priority             int       `gorm:"default:1;index" json:"priority"` // lower evaluates first
	RequiresHumanHandoff bool      `gorm:"default:false" json:"requires_human_handoff"`
	HandoffMessage       string    `gorm:"type:text" json:"handoff_message"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Campaign a segmented batch of outbound messages
type Campaign struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	CampaignType      string         `gorm:"size:20;default:'broadcast'" json:"campaign_type"` // broadcast, template, automated, triggered
	Status            string         `gorm:"size:20;default:'draft';index" json:"status"`
	MessageTemplate   string         `gorm:"type:text;not null" json:"message_template"`
	MediaURL          string         `json:"media_url"`
	TargetAudience    datatypes.JSON `json:"target_audience"`
	ParentID          *uint          `gorm:"index" json:"parent_id"`
	Variant           string         `gorm:"size:20" json:"variant,omitempty"`
	SessionID         *uint          `json:"session_id"`
	ScheduledAt       *time.Time     `gorm:"index" json:"scheduled_at"`
	StartedAt         *time.Time     `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at"`
	TotalRecipients   int            `gorm:"default:0" json:"total_recipients"`
	TotalBatches      int            `gorm:"default:0" json:"total_batches"`
	NextBatch         int            `gorm:"default:0" json:"next_batch"`
	DispatchEpoch     int            `gorm:"default:0" json:"-"` // bumped on resume; older timers stop claiming
	LastBatchAt       *time.Time     `json:"last_batch_at"`
	MessagesSent      int            `gorm:"default:0" json:"messages_sent"`
	MessagesDelivered int            `gorm:"default:0" json:"messages_delivered"`
	MessagesRead      int            `gorm:"default:0" json:"messages_read"`
	MessagesFailed    int            `gorm:"default:0" json:"messages_failed"`
	Replies           int            `gorm:"default:0" json:"replies"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CampaignRecipient the frozen audience of an executed campaign, in dispatch order
type CampaignRecipient struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	CampaignID uint `gorm:"uniqueIndex:idx_campaign_recipient;not null" json:"campaign_id"`
	ContactID  uint `gorm:"uniqueIndex:idx_campaign_recipient;not null" json:"contact_id"`
	Batch      int  `gorm:"index" json:"batch"`
	Position   int  `json:"position"`
}

// DailyAnalytics per-day additive counters
type DailyAnalytics struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Date                time.Time `gorm:"uniqueIndex;not null" json:"date"`
	MessagesSent        int       `gorm:"default:0" json:"messages_sent"`
	MessagesReceived    int       `gorm:"default:0" json:"messages_received"`
	MessagesDelivered   int       `gorm:"default:0" json:"messages_delivered"`
	MessagesRead        int       `gorm:"default:0" json:"messages_read"`
	MessagesFailed      int       `gorm:"default:0" json:"messages_failed"`
	NewContacts         int       `gorm:"default:0" json:"new_contacts"`
	NewConversations    int       `gorm:"default:0" json:"new_conversations"`
	CampaignsSent       int       `gorm:"default:0" json:"campaigns_sent"`
	BotInteractions     int       `gorm:"default:0" json:"bot_interactions"`
	HumanHandoffs       int       `gorm:"default:0" json:"human_handoffs"`
	RoutedConversations int       `gorm:"default:0" json:"routed_conversations"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName keeps the plural stable
func (DailyAnalytics) TableName() string {
	return "daily_analytics"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Contact{}, &Session{}, &Conversation{}, &Message{}, &Agent{}, &TransferRecord{},
		&Bot{}, &BotTrigger{}, &Campaign{}, &CampaignRecipient{}, &DailyAnalytics{},
	}
}

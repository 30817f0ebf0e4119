package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
)

// Handoff reasons.
const (
	HandoffMessageCount = "message_count"
	HandoffUrgent       = "urgent_keyword"
	HandoffAge          = "conversation_age"
	HandoffHumanRequest = "human_request"
	HandoffTrigger      = "trigger"
)

// HandoffDecision is the outcome of the policy for one inbound message.
type HandoffDecision struct {
	Escalate bool   `json:"escalate"`
	Reason   string `json:"reason,omitempty"`
	Matched  string `json:"matched,omitempty"`
}

// HandoffPolicy decides whether a conversation must leave automation.
type HandoffPolicy struct {
	maxMessages   int
	maxAge        time.Duration
	urgent        []string
	humanRequests []string
	location      *time.Location
	defaultStart  string
	defaultEnd    string
}

// NewHandoffPolicy builds the policy from messaging config.
func NewHandoffPolicy(mc config.MessagingConfig) *HandoffPolicy {
	loc, err := time.LoadLocation(mc.Location)
	if err != nil || mc.Location == "" {
		loc = time.UTC
	}
	p := &HandoffPolicy{
		maxMessages:   mc.MaxMessagesBeforeHandoff,
		maxAge:        mc.MaxConversationAge,
		urgent:        lowerAll(mc.UrgentKeywords),
		humanRequests: lowerAll(mc.HumanRequestPhrases),
		location:      loc,
		defaultStart:  mc.BusinessHoursStart,
		defaultEnd:    mc.BusinessHoursEnd,
	}
	if p.maxMessages <= 0 {
		p.maxMessages = 10
	}
	if p.maxAge <= 0 {
		p.maxAge = 24 * time.Hour
	}
	return p
}

// Evaluate checks the escalation rules in order; any one suffices.
// conv.MessageCount must already include the message being evaluated.
func (p *HandoffPolicy) Evaluate(conv *models.Conversation, text string, now time.Time) HandoffDecision {
	if conv.MessageCount > p.maxMessages {
		return HandoffDecision{Escalate: true, Reason: HandoffMessageCount}
	}
	lower := strings.ToLower(text)
	if kw := firstContained(lower, p.urgent); kw != "" {
		return HandoffDecision{Escalate: true, Reason: HandoffUrgent, Matched: kw}
	}
	if !conv.FirstMessageAt.IsZero() && now.Sub(conv.FirstMessageAt) > p.maxAge {
		return HandoffDecision{Escalate: true, Reason: HandoffAge}
	}
	if kw := firstContained(lower, p.humanRequests); kw != "" {
		return HandoffDecision{Escalate: true, Reason: HandoffHumanRequest, Matched: kw}
	}
	return HandoffDecision{}
}

// InBusinessHours reports whether now falls inside the session's window.
// Sessions without business hours enabled are always in hours. A window whose
// end is before its start wraps midnight.
func (p *HandoffPolicy) InBusinessHours(session *models.Session, now time.Time) bool {
	if session == nil || !session.BusinessHoursEnabled {
		return true
	}
	startStr, endStr := session.BusinessHoursStart, session.BusinessHoursEnd
	if startStr == "" {
		startStr = p.defaultStart
	}
	if endStr == "" {
		endStr = p.defaultEnd
	}
	start, err1 := parseClock(startStr)
	end, err2 := parseClock(endStr)
	if err1 != nil || err2 != nil {
		return true
	}
	local := now.In(p.location)
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// parseClock parses HH:MM into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock %q", ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidClock reports whether s is a HH:MM clock value.
func ValidClock(s string) bool {
	_, err := parseClock(s)
	return err == nil
}

// priorityVocabulary raises conversation priority from message text.
var priorityVocabulary = []struct {
	words  []string
	weight int
}{
	{[]string{"urgent", "emergency", "asap", "immediately"}, 3},
	{[]string{"complaint", "problem", "issue", "broken"}, 2},
	{[]string{"expensive", "premium", "vip"}, 1},
}

// PriorityFromMessages scores recent inbound texts: each text contributes the
// weight of the first vocabulary group it hits.
func PriorityFromMessages(texts []string) string {
	score := 0
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, group := range priorityVocabulary {
			if firstContained(lower, group.words) != "" {
				score += group.weight
				break
			}
		}
	}
	switch {
	case score >= 3:
		return models.PriorityUrgent
	case score >= 2:
		return models.PriorityHigh
	case score >= 1:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func firstContained(lower string, needles []string) string {
	for _, n := range needles {
		if n != "" && strings.Contains(lower, n) {
			return n
		}
	}
	return ""
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package services

import (
	"testing"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
)

func TestHandoffPolicy_Evaluate(t *testing.T) {
	p := NewHandoffPolicy(testMessagingConfig())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		count  int
		age    time.Duration
		text   string
		reason string
	}{
		{"eleven messages escalate regardless of content", 11, time.Minute, "ok thanks", HandoffMessageCount},
		{"ten messages do not", 10, time.Minute, "ok thanks", ""},
		{"human request on first message", 1, 0, "I need to speak to a human", HandoffHumanRequest},
		{"urgent keyword on first message", 1, 0, "I have an urgent complaint", HandoffUrgent},
		{"old conversation", 2, 25 * time.Hour, "hi again", HandoffAge},
		{"plain greeting", 1, 0, "hello", ""},
	}
	for _, tt := range tests {
		conv := &models.Conversation{MessageCount: tt.count, FirstMessageAt: now.Add(-tt.age)}
		d := p.Evaluate(conv, tt.text, now)
		if d.Reason != tt.reason || d.Escalate != (tt.reason != "") {
			t.Errorf("%s: got %+v, want reason %q", tt.name, d, tt.reason)
		}
	}
}

func TestHandoffPolicy_InBusinessHours(t *testing.T) {
	p := NewHandoffPolicy(testMessagingConfig())
	at := func(h, m int) time.Time { return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC) }

	day := &models.Session{BusinessHoursEnabled: true, BusinessHoursStart: "09:00", BusinessHoursEnd: "18:00"}
	if !p.InBusinessHours(day, at(9, 0)) || !p.InBusinessHours(day, at(18, 0)) {
		t.Error("window bounds should be inclusive")
	}
	if p.InBusinessHours(day, at(8, 59)) || p.InBusinessHours(day, at(22, 0)) {
		t.Error("outside the day window reported as open")
	}

	night := &models.Session{BusinessHoursEnabled: true, BusinessHoursStart: "22:00", BusinessHoursEnd: "06:00"}
	if !p.InBusinessHours(night, at(23, 30)) || !p.InBusinessHours(night, at(2, 0)) {
		t.Error("wrapping window should cover midnight")
	}
	if p.InBusinessHours(night, at(12, 0)) {
		t.Error("noon is outside a night window")
	}

	if !p.InBusinessHours(&models.Session{}, at(3, 0)) {
		t.Error("sessions without business hours are always open")
	}
}

func TestPriorityFromMessages(t *testing.T) {
	tests := []struct {
		texts []string
		want  string
	}{
		{[]string{"hello"}, models.PriorityLow},
		{[]string{"is the vip collection in?"}, models.PriorityMedium},
		{[]string{"my clasp is broken"}, models.PriorityHigh},
		{[]string{"need this asap"}, models.PriorityUrgent},
		{[]string{"too expensive", "and there is a problem"}, models.PriorityUrgent},
	}
	for _, tt := range tests {
		if got := PriorityFromMessages(tt.texts); got != tt.want {
			t.Errorf("PriorityFromMessages(%q) = %s, want %s", tt.texts, got, tt.want)
		}
	}
}

func TestValidClock(t *testing.T) {
	for _, ok := range []string{"00:00", "09:30", "23:59"} {
		if !ValidClock(ok) {
			t.Errorf("ValidClock(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "24:00", "9am", "12:60"} {
		if ValidClock(bad) {
			t.Errorf("ValidClock(%q) = true", bad)
		}
	}
}

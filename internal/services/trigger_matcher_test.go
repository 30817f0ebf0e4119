package services

import (
	"errors"
	"testing"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trigger(id uint, name string, typ TriggerType, value, response string, priority int) models.BotTrigger {
	return models.BotTrigger{
		ID:              id,
		Name:            name,
		TriggerType:     string(typ),
		TriggerValue:    value,
		ResponseMessage: response,
		ResponseType:    "text",
		Priority:        priority,
		IsActive:        true,
	}
}

func TestTriggerMatcher_PriorityOrder(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "fallback")
	triggers := []models.BotTrigger{
		trigger(1, "second", TriggerKeyword, "price", "low priority reply", 2),
		trigger(2, "first", TriggerKeyword, "price,cost", "high priority reply", 1),
	}

	got := m.Match(triggers, "What is the PRICE of this ring?")
	assert.Equal(t, MatchTrigger, got.Kind)
	assert.Equal(t, "first", got.TriggerName)
	assert.Equal(t, "high priority reply", got.Response)
}

func TestTriggerMatcher_EqualPriorityKeepsIDOrder(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "")
	triggers := []models.BotTrigger{
		trigger(9, "later", TriggerKeyword, "ring", "b", 3),
		trigger(4, "earlier", TriggerKeyword, "ring", "a", 3),
	}
	assert.Equal(t, "earlier", m.Match(triggers, "ring").TriggerName)
}

func TestTriggerMatcher_InvalidRegexFallsThrough(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "fallback")
	triggers := []models.BotTrigger{
		trigger(1, "broken", TriggerRegex, "([unclosed", "never", 1),
		trigger(2, "keyword", TriggerKeyword, "hours", "We open at 10", 2),
	}

	got := m.Match(triggers, "what are your hours?")
	assert.Equal(t, MatchTrigger, got.Kind)
	assert.Equal(t, "keyword", got.TriggerName)
}

func TestTriggerMatcher_InactiveSkipped(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "")
	tr := trigger(1, "off", TriggerExactMatch, "hi", "x", 1)
	tr.IsActive = false
	got := m.Match([]models.BotTrigger{tr}, "hi")
	assert.Equal(t, MatchNone, got.Kind)
}

func TestTriggerMatcher_BuiltinAndFallback(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "generic")

	hello := m.Match(nil, "Hello there")
	assert.Equal(t, MatchBuiltin, hello.Kind)
	assert.Equal(t, "hello", hello.TriggerName)
	assert.False(t, hello.ForcedHandoff)

	pricing := m.Match(nil, "send me pricing")
	assert.Equal(t, MatchBuiltin, pricing.Kind)
	assert.True(t, pricing.ForcedHandoff)

	other := m.Match(nil, "zzz")
	assert.Equal(t, MatchFallback, other.Kind)
	assert.Equal(t, "generic", other.Response)
}

func TestTriggerMatcher_ForcedHandoffTrigger(t *testing.T) {
	m := NewTriggerMatcher(quietLogger(), "")
	tr := trigger(1, "refund", TriggerIntent, "support", "Let me check", 1)
	tr.RequiresHumanHandoff = true
	tr.HandoffMessage = "Connecting you"

	got := m.Match([]models.BotTrigger{tr}, "I need help with my order")
	assert.Equal(t, MatchTrigger, got.Kind)
	assert.True(t, got.ForcedHandoff)
	assert.Equal(t, "Connecting you", got.HandoffText)
}

func TestCompileMatcher(t *testing.T) {
	tests := []struct {
		typ   TriggerType
		value string
		text  string
		want  bool
	}{
		{TriggerExactMatch, "Store Hours", "  store hours ", true},
		{TriggerExactMatch, "store hours", "store hours today", false},
		{TriggerKeyword, "gold, silver", "Do you sell SILVER?", true},
		{TriggerKeyword, "gold", "platinum", false},
		{TriggerRegex, `^order\s+#?\d+$`, "ORDER #123", true},
		{TriggerRegex, `^order\s+\d+$`, "my order 12", false},
		{TriggerIntent, "greeting", "hey there", true},
		{TriggerIntent, "farewell", "hey there", false},
	}
	for _, tt := range tests {
		m, err := CompileMatcher(tt.typ, tt.value)
		require.NoError(t, err, "%s %q", tt.typ, tt.value)
		assert.Equal(t, tt.want, m.Matches(tt.text), "%s %q vs %q", tt.typ, tt.value, tt.text)
	}
}

func TestCompileMatcher_Errors(t *testing.T) {
	_, err := CompileMatcher(TriggerRegex, "(")
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = CompileMatcher(TriggerType("fuzzy"), "x")
	assert.Error(t, err)
}

func TestDetectIntent(t *testing.T) {
	cases := map[string]string{
		"Hello there":                           "greeting",
		"How much does the gold necklace cost?": "pricing",
		"is this necklace in stock":             "product",
		"can I book a visit":                    "appointment",
		"thank you!":                            "thanks",
		"ok":                                    "",
	}
	for text, want := range cases {
		assert.Equal(t, want, DetectIntent(text), text)
	}
}

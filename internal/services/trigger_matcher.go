package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/sirupsen/logrus"
)

// TriggerType enumerates the supported bot trigger kinds.
type TriggerType string

const (
	TriggerExactMatch TriggerType = "exact_match"
	TriggerKeyword    TriggerType = "keyword"
	TriggerRegex      TriggerType = "regex"
	TriggerIntent     TriggerType = "intent"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerExactMatch, TriggerKeyword, TriggerRegex, TriggerIntent:
		return true
	}
	return false
}

// IntentKeywords is the fixed intent taxonomy used by intent triggers.
var IntentKeywords = map[string][]string{
	"greeting":    {"hello", "hi", "hey", "good morning", "good afternoon"},
	"farewell":    {"bye", "goodbye", "see you", "take care"},
	"thanks":      {"thank you", "thanks", "appreciate"},
	"pricing":     {"price", "cost", "how much", "pricing"},
	"appointment": {"book", "schedule", "appointment", "meeting"},
	"product":     {"product", "item", "jewelry", "ring", "necklace"},
	"support":     {"help", "support", "issue", "problem"},
}

// Matcher is the compiled form of one trigger.
type Matcher interface {
	Matches(text string) bool
}

type exactMatcher struct{ want string }

func (m exactMatcher) Matches(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), m.want)
}

type keywordMatcher struct{ keywords []string }

func (m keywordMatcher) Matches(text string) bool {
	return containsAny(strings.ToLower(text), m.keywords)
}

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Matches(text string) bool {
	return m.re.MatchString(text)
}

type neverMatcher struct{}

func (neverMatcher) Matches(string) bool { return false }

// CompileMatcher builds the matcher for a trigger type and value. Errors wrap
// ErrConfiguration; callers degrade such triggers to never-matching.
func CompileMatcher(t TriggerType, value string) (Matcher, error) {
	switch t {
	case TriggerExactMatch:
		return exactMatcher{want: strings.TrimSpace(value)}, nil
	case TriggerKeyword:
		kws := splitKeywords(value)
		if len(kws) == 0 {
			return nil, fmt.Errorf("%w: keyword trigger has no keywords", ErrConfiguration)
		}
		return keywordMatcher{keywords: kws}, nil
	case TriggerRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid regex %q: %v", ErrConfiguration, value, err)
		}
		return regexMatcher{re: re}, nil
	case TriggerIntent:
		kws, ok := IntentKeywords[strings.ToLower(strings.TrimSpace(value))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown intent %q", ErrConfiguration, value)
		}
		return keywordMatcher{keywords: kws}, nil
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrConfiguration, t)
	}
}

// MatchKind classifies the matcher outcome.
type MatchKind string

const (
	MatchTrigger  MatchKind = "trigger"
	MatchBuiltin  MatchKind = "builtin"
	MatchFallback MatchKind = "fallback"
	MatchNone     MatchKind = "none"
)

// MatchResult is the reply the bot should send, if any.
type MatchResult struct {
	Kind          MatchKind
	TriggerName   string
	Response      string
	ResponseType  string
	MediaURL      string
	ForcedHandoff bool
	HandoffText   string
	Trigger       *models.BotTrigger
}

// builtinResponse is the last keyword table consulted before the generic fallback.
type builtinResponse struct {
	name          string
	keywords      []string
	response      string
	forcedHandoff bool
}

var builtinResponses = []builtinResponse{
	{
		name:     "hello",
		keywords: []string{"hello"},
		response: "Hello! Welcome to our jewelry store. How can I help you today?",
	},
	{
		name:     "help",
		keywords: []string{"help"},
		response: "I can help you with:\n• Product information\n• Pricing\n• Store hours\n• Appointments\n• Customer support\n\nWhat would you like to know?",
	},
	{
		name:          "pricing",
		keywords:      []string{"pricing"},
		response:      "Our jewelry prices vary based on design and materials. Would you like me to connect you with a sales representative for detailed pricing?",
		forcedHandoff: true,
	},
	{
		name:          "appointment",
		keywords:      []string{"appointment"},
		response:      "I can help you schedule an appointment. Please let me know your preferred date and time, and I'll connect you with our team.",
		forcedHandoff: true,
	},
}

// TriggerMatcher evaluates ordered triggers against inbound text.
type TriggerMatcher struct {
	logger   *logrus.Logger
	fallback string
}

// NewTriggerMatcher creates a matcher. An empty fallback disables the generic reply.
func NewTriggerMatcher(logger *logrus.Logger, fallback string) *TriggerMatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerMatcher{logger: logger, fallback: fallback}
}

// Match returns the first matching trigger in ascending priority order, then
// the built-in table, then the generic fallback.
func (m *TriggerMatcher) Match(triggers []models.BotTrigger, text string) MatchResult {
	ordered := make([]models.BotTrigger, 0, len(triggers))
	for _, t := range triggers {
		if t.IsActive {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i := range ordered {
		t := &ordered[i]
		matcher, err := CompileMatcher(TriggerType(t.TriggerType), t.TriggerValue)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"trigger_id":   t.ID,
				"trigger_name": t.Name,
			}).Warn("trigger disabled: cannot compile")
			matcher = neverMatcher{}
		}
		if !matcher.Matches(text) {
			continue
		}
		return MatchResult{
			Kind:          MatchTrigger,
			TriggerName:   t.Name,
			Response:      t.ResponseMessage,
			ResponseType:  t.ResponseType,
			MediaURL:      t.MediaURL,
			ForcedHandoff: t.RequiresHumanHandoff,
			HandoffText:   t.HandoffMessage,
			Trigger:       t,
		}
	}

	if r, ok := matchBuiltin(text); ok {
		return r
	}
	if m.fallback == "" {
		return MatchResult{Kind: MatchNone}
	}
	return MatchResult{Kind: MatchFallback, TriggerName: "fallback", Response: m.fallback, ResponseType: "text"}
}

func matchBuiltin(text string) (MatchResult, bool) {
	lower := strings.ToLower(text)
	for _, b := range builtinResponses {
		if containsAny(lower, b.keywords) {
			return MatchResult{
				Kind:          MatchBuiltin,
				TriggerName:   b.name,
				Response:      b.response,
				ResponseType:  "text",
				ForcedHandoff: b.forcedHandoff,
			}, true
		}
	}
	return MatchResult{}, false
}

// DetectIntent returns the first intent, in name order, with a keyword present
// in text as a whole word or phrase.
func DetectIntent(text string) string {
	padded := " " + strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	names := make([]string, 0, len(IntentKeywords))
	for name := range IntentKeywords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, kw := range IntentKeywords[name] {
			if strings.Contains(padded, " "+kw+" ") {
				return name
			}
		}
	}
	return ""
}

func splitKeywords(value string) []string {
	var out []string
	for _, kw := range strings.Split(value, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// containsAny reports whether lower contains any of the lower-cased needles.
func containsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var chatSuffixes = []string{"@c.us", "@s.whatsapp.net", "@g.us"}

// NormalizePhone strips gateway chat suffixes and surrounding whitespace.
func NormalizePhone(id string) string {
	id = strings.TrimSpace(id)
	for _, s := range chatSuffixes {
		if strings.HasSuffix(id, s) {
			return strings.TrimSuffix(id, s)
		}
	}
	return id
}

// GenerateMessageID returns an id for outbound messages the gateway did not name.
func GenerateMessageID(prefix string) string {
	if prefix == "" {
		prefix = "out"
	}
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// CampaignMessageID is the id of one campaign send.
func CampaignMessageID(campaignID, contactID uint, at time.Time) string {
	return fmt.Sprintf("campaign_%d_%d_%d", campaignID, contactID, at.UnixNano())
}

// RenderTemplate replaces {name} and {phone} placeholders. A missing name
// renders as "there".
func RenderTemplate(tmpl, name, phone string) string {
	if name == "" {
		name = "there"
	}
	return strings.NewReplacer("{name}", name, "{phone}", phone).Replace(tmpl)
}

// FormatTime formats t for logs and exports.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// ValidateMessage bounds outbound text length.
func ValidateMessage(content string) bool {
	return len(content) > 0 && len(content) <= 4096
}

// Truncate shortens s to at most n runes, for log fields.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

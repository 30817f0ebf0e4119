package waha

import (
	"encoding/json"
	"time"
)

// Config WAHA client settings
type Config struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	DefaultCountryCode string        `yaml:"default_country_code"`
}

// DefaultConfig returns settings for a local gateway.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "http://localhost:3000",
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryDelay:         500 * time.Millisecond,
		DefaultCountryCode: "91",
	}
}

// SendRequest one outbound message. Type selects the endpoint: text, image,
// or document/file.
type SendRequest struct {
	Session  string
	To       string
	Text     string
	Type     string
	MediaURL string
}

type sendTextPayload struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendMediaPayload struct {
	Session string    `json:"session"`
	ChatID  string    `json:"chatId"`
	File    mediaFile `json:"file"`
	Caption string    `json:"caption,omitempty"`
}

type mediaFile struct {
	URL string `json:"url"`
}

// SendResponse the gateway's acknowledgement of a send. The id field moved
// between gateway versions, so both shapes are accepted.
type SendResponse struct {
	ID  json.RawMessage `json:"id"`
	Key *struct {
		ID string `json:"id"`
	} `json:"key,omitempty"`
}

// MessageID returns the gateway message id, or "" when none was returned.
func (r *SendResponse) MessageID() string {
	if r == nil {
		return ""
	}
	if r.Key != nil && r.Key.ID != "" {
		return r.Key.ID
	}
	if len(r.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	var obj struct {
		Serialized string `json:"_serialized"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(r.ID, &obj); err == nil {
		if obj.Serialized != "" {
			return obj.Serialized
		}
		return obj.ID
	}
	return ""
}

// SessionInfo gateway-side session state
type SessionInfo struct {
	Name   string          `json:"name"`
	Status string          `json:"status"`
	Me     *SessionAccount `json:"me,omitempty"`
}

// SessionAccount the account a session is logged in as
type SessionAccount struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// CreateSessionRequest provisions a gateway session that posts events to WebhookURL.
type CreateSessionRequest struct {
	Name       string `json:"name"`
	WebhookURL string `json:"-"`
}

type createSessionPayload struct {
	Name   string        `json:"name"`
	Config sessionConfig `json:"config"`
}

type sessionConfig struct {
	Webhooks []webhookConfig `json:"webhooks,omitempty"`
}

type webhookConfig struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// ErrorResponse gateway error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

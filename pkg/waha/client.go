// Package waha is an HTTP client for WAHA-compatible WhatsApp gateways.
package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client WAHA HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
}

// APIError is returned for gateway responses with status >= 400.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error [%d]: %s", e.StatusCode, e.Message)
}

// NewClient creates a client; nil config uses DefaultConfig.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

// FormatChatID turns a phone number into a gateway chat id. Bare 10-digit
// numbers get the default country code.
func (c *Client) FormatChatID(phone string) string {
	return FormatChatID(phone, c.config.DefaultCountryCode)
}

// FormatChatID keeps only digits, prefixes countryCode onto bare 10-digit
// numbers and appends @c.us. Ids that already carry a suffix pass through.
func FormatChatID(phone, countryCode string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode != "" && len(digits) == 10 && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits + "@c.us"
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debugf("WAHA %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			if errResp.Message != "" {
				msg = errResp.Message
			} else if errResp.Error != "" {
				msg = errResp.Error
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// doRequestWithRetry is for idempotent calls only; sends never go through it.
func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("WAHA retry attempt %d/%d for %s", attempt, c.config.MaxRetries, endpoint)
		}
		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			if shouldRetry(err) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// shouldRetry retries transport failures and 5xx responses.
func shouldRetry(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

// Send delivers one message. It is attempted exactly once.
func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("session is required")
	}
	if req.To == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	chatID := c.FormatChatID(req.To)

	var (
		endpoint string
		payload  interface{}
	)
	switch req.Type {
	case "", "text":
		if req.Text == "" {
			return nil, fmt.Errorf("text is required")
		}
		endpoint = "/api/sendText"
		payload = sendTextPayload{Session: req.Session, ChatID: chatID, Text: req.Text}
	case "image":
		if req.MediaURL == "" {
			return nil, fmt.Errorf("media url is required for image")
		}
		endpoint = "/api/sendImage"
		payload = sendMediaPayload{Session: req.Session, ChatID: chatID, File: mediaFile{URL: req.MediaURL}, Caption: req.Text}
	case "document", "file":
		if req.MediaURL == "" {
			return nil, fmt.Errorf("media url is required for %s", req.Type)
		}
		endpoint = "/api/sendFile"
		payload = sendMediaPayload{Session: req.Session, ChatID: chatID, File: mediaFile{URL: req.MediaURL}, Caption: req.Text}
	default:
		return nil, fmt.Errorf("unsupported message type %q", req.Type)
	}

	httpReq, err := c.createRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	var resp SendResponse
	if err := c.doRequest(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}
	return &resp, nil
}

// GetSession fetches the gateway state of a session, retrying transient failures.
func (c *Client) GetSession(ctx context.Context, name string) (*SessionInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	var info SessionInfo
	if err := c.doRequestWithRetry(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(name), nil, &info); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &info, nil
}

// CreateSession provisions a session whose events are posted to req.WebhookURL.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionInfo, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	payload := createSessionPayload{Name: req.Name}
	if req.WebhookURL != "" {
		payload.Config.Webhooks = []webhookConfig{{
			URL:    req.WebhookURL,
			Events: []string{"message", "message.ack", "session.status"},
		}}
	}
	httpReq, err := c.createRequest(ctx, http.MethodPost, "/api/sessions", payload)
	if err != nil {
		return nil, err
	}
	var info SessionInfo
	if err := c.doRequest(httpReq, &info); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if info.Name == "" {
		info.Name = req.Name
	}
	return &info, nil
}

// StartSession asks the gateway to start a stopped session.
func (c *Client) StartSession(ctx context.Context, name string) error {
	httpReq, err := c.createRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(name)+"/start", nil)
	if err != nil {
		return err
	}
	if err := c.doRequest(httpReq, nil); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// HealthCheck pings the gateway version endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := c.createRequest(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return err
	}
	return c.doRequest(httpReq, nil)
}

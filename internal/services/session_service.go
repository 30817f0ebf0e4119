package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/waha"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionGateway is the session half of the gateway API.
type SessionGateway interface {
	GetSession(ctx context.Context, name string) (*waha.SessionInfo, error)
	CreateSession(ctx context.Context, req *waha.CreateSessionRequest) (*waha.SessionInfo, error)
}

// LookupCache is a byte cache; *cache.Cache satisfies it.
type LookupCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const sessionCacheTTL = 10 * time.Minute

// SessionService manages gateway sessions.
type SessionService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	gateway    SessionGateway
	cache      LookupCache
	webhookURL string
}

// NewSessionService creates the session service. gateway and cache are optional.
func NewSessionService(db *gorm.DB, logger *logrus.Logger, gateway SessionGateway, cache LookupCache, webhookURL string) *SessionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionService{
		db:         db,
		logger:     logger,
		gateway:    gateway,
		cache:      cache,
		webhookURL: strings.TrimRight(webhookURL, "/"),
	}
}

// MapSessionState maps a gateway state name to a session status.
func MapSessionState(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "WORKING", "CONNECTED", "ACTIVE":
		return models.SessionActive, true
	case "STARTING", "SCAN_QR_CODE", "CONNECTING":
		return models.SessionConnecting, true
	case "FAILED", "ERROR":
		return models.SessionError, true
	case "STOPPED", "DISCONNECTED":
		return models.SessionDisconnected, true
	}
	return "", false
}

// CreateSessionInput describes a new session.
type CreateSessionInput struct {
	Name                 string `json:"name" binding:"required"`
	PhoneNumber          string `json:"phone_number"`
	OwnerID              *uint  `json:"owner_id"`
	AutoReplyEnabled     *bool  `json:"auto_reply_enabled"`
	BusinessHoursEnabled bool   `json:"business_hours_enabled"`
	BusinessHoursStart   string `json:"business_hours_start"`
	BusinessHoursEnd     string `json:"business_hours_end"`
	Provision            bool   `json:"provision"`
}

// Create stores a session and, when asked, provisions it on the gateway.
func (s *SessionService) Create(ctx context.Context, in *CreateSessionInput) (*models.Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateHours(in.BusinessHoursEnabled, in.BusinessHoursStart, in.BusinessHoursEnd); err != nil {
		return nil, err
	}
	autoReply := true
	if in.AutoReplyEnabled != nil {
		autoReply = *in.AutoReplyEnabled
	}

	session := &models.Session{
		Name:                 name,
		PhoneNumber:          in.PhoneNumber,
		Status:               models.SessionConnecting,
		OwnerID:              in.OwnerID,
		AutoReplyEnabled:     autoReply,
		BusinessHoursEnabled: in.BusinessHoursEnabled,
		BusinessHoursStart:   in.BusinessHoursStart,
		BusinessHoursEnd:     in.BusinessHoursEnd,
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check session name: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: session %q already exists", ErrValidation, name)
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if in.Provision && s.gateway != nil {
		req := &waha.CreateSessionRequest{Name: name}
		if s.webhookURL != "" {
			req.WebhookURL = s.webhookURL + "/api/v1/webhooks/" + name
		}
		info, err := s.gateway.CreateSession(ctx, req)
		status := models.SessionError
		if err != nil {
			s.logger.WithError(err).WithField("session", name).Error("gateway session provisioning failed")
		} else if mapped, ok := MapSessionState(info.Status); ok {
			status = mapped
		} else {
			status = models.SessionConnecting
		}
		if err := s.db.WithContext(ctx).Model(session).Update("status", status).Error; err != nil {
			return nil, fmt.Errorf("update session status: %w", err)
		}
		session.Status = status
	}

	s.logger.WithField("session", name).Info("session created")
	return session, nil
}

// List returns every session.
func (s *SessionService) List(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) Get(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session not found", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// ByName resolves a session by its gateway name, via the lookup cache when present.
func (s *SessionService) ByName(ctx context.Context, name string) (*models.Session, error) {
	key := "session:name:" + name
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
			if id, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
				session, err := s.Get(ctx, uint(id))
				if err == nil && session.Name == name {
					return session, nil
				}
			}
		} else if err != nil {
			s.logger.WithError(err).Debug("session cache read failed")
		}
	}

	var session models.Session
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session not found", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(strconv.FormatUint(uint64(session.ID), 10)), sessionCacheTTL); err != nil {
			s.logger.WithError(err).Debug("session cache write failed")
		}
	}
	return &session, nil
}

// FirstActive returns the oldest active session.
func (s *SessionService) FirstActive(ctx context.Context) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).Where("status = ?", models.SessionActive).Order("id ASC").First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no active session", ErrConfiguration)
		}
		return nil, fmt.Errorf("load active session: %w", err)
	}
	return &session, nil
}

// SessionSettings is a partial settings update.
type SessionSettings struct {
	AutoReplyEnabled     *bool   `json:"auto_reply_enabled"`
	BusinessHoursEnabled *bool   `json:"business_hours_enabled"`
	BusinessHoursStart   *string `json:"business_hours_start"`
	BusinessHoursEnd     *string `json:"business_hours_end"`
}

// UpdateSettings applies the non-nil fields of settings.
func (s *SessionService) UpdateSettings(ctx context.Context, id uint, settings *SessionSettings) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if settings.AutoReplyEnabled != nil {
		updates["auto_reply_enabled"] = *settings.AutoReplyEnabled
		session.AutoReplyEnabled = *settings.AutoReplyEnabled
	}
	if settings.BusinessHoursEnabled != nil {
		updates["business_hours_enabled"] = *settings.BusinessHoursEnabled
		session.BusinessHoursEnabled = *settings.BusinessHoursEnabled
	}
	if settings.BusinessHoursStart != nil {
		updates["business_hours_start"] = *settings.BusinessHoursStart
		session.BusinessHoursStart = *settings.BusinessHoursStart
	}
	if settings.BusinessHoursEnd != nil {
		updates["business_hours_end"] = *settings.BusinessHoursEnd
		session.BusinessHoursEnd = *settings.BusinessHoursEnd
	}
	if err := validateHours(session.BusinessHoursEnabled, session.BusinessHoursStart, session.BusinessHoursEnd); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return session, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update session settings: %w", err)
	}
	return session, nil
}

// SetStatus records a gateway-reported state for the named session.
func (s *SessionService) SetStatus(ctx context.Context, name, status string) (*models.Session, error) {
	session, err := s.ByName(ctx, name)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
		"status":        status,
		"last_activity": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	if session.Status != status {
		s.logger.WithFields(logrus.Fields{"session": name, "from": session.Status, "to": status}).Info("session state changed")
	}
	session.Status = status
	session.LastActivity = &now
	return session, nil
}

// SyncStatus pulls the session state from the gateway.
func (s *SessionService) SyncStatus(ctx context.Context, id uint) (*models.Session, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: gateway not configured", ErrConfiguration)
	}
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := s.gateway.GetSession(ctx, session.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	status, ok := MapSessionState(info.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown gateway state %q", ErrInvalidState, info.Status)
	}
	updates := map[string]interface{}{"status": status}
	if info.Me != nil && info.Me.ID != "" && session.PhoneNumber == "" {
		phone := strings.SplitN(info.Me.ID, "@", 2)[0]
		updates["phone_number"] = phone
		session.PhoneNumber = phone
	}
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	session.Status = status
	return session, nil
}

func validateHours(enabled bool, start, end string) error {
	if !enabled && start == "" && end == "" {
		return nil
	}
	if enabled && (start == "" || end == "") {
		return fmt.Errorf("%w: business hours need start and end", ErrValidation)
	}
	if start != "" && !ValidClock(start) {
		return fmt.Errorf("%w: invalid business_hours_start %q", ErrValidation, start)
	}
	if end != "" && !ValidClock(end) {
		return fmt.Errorf("%w: invalid business_hours_end %q", ErrValidation, end)
	}
	return nil
}

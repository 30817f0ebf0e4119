package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/metrics"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Scheduler runs fn after d. Production uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// CampaignAudience is the segmentation predicate. All set criteria must hold.
type CampaignAudience struct {
	CustomerTypes       []string `json:"customer_types,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	MinSpent            *float64 `json:"min_spent,omitempty"`
	MaxSpent            *float64 `json:"max_spent,omitempty"`
	LastInteractionDays int      `json:"last_interaction_days,omitempty"`

	// A/B split: keep contacts with id % SplitCount == SplitIndex.
	SplitCount int `json:"split_count,omitempty"`
	SplitIndex int `json:"split_index,omitempty"`
}

func (a CampaignAudience) validate() error {
	for _, t := range a.CustomerTypes {
		if !customerTypes[t] {
			return fmt.Errorf("%w: unknown customer_type %q", ErrValidation, t)
		}
	}
	if a.MinSpent != nil && a.MaxSpent != nil && *a.MinSpent > *a.MaxSpent {
		return fmt.Errorf("%w: min_spent exceeds max_spent", ErrValidation)
	}
	if a.LastInteractionDays < 0 {
		return fmt.Errorf("%w: last_interaction_days must be positive", ErrValidation)
	}
	if a.SplitCount < 0 || (a.SplitCount > 0 && (a.SplitIndex < 0 || a.SplitIndex >= a.SplitCount)) {
		return fmt.Errorf("%w: invalid audience split", ErrValidation)
	}
	return nil
}

func parseAudience(raw datatypes.JSON) (CampaignAudience, error) {
	var a CampaignAudience
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("%w: malformed target audience: %v", ErrValidation, err)
	}
	return a, nil
}

// CampaignService dispatches campaigns in rate-limited batches.
type CampaignService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	gateway   Gateway
	sessions  *SessionService
	analytics *AnalyticsService
	cfg       config.CampaignConfig
	scheduler Scheduler
	now       func() time.Time
}

// NewCampaignService creates the dispatcher. A nil scheduler uses time.AfterFunc.
func NewCampaignService(db *gorm.DB, logger *logrus.Logger, gateway Gateway, sessions *SessionService, analytics *AnalyticsService, cfg config.CampaignConfig, scheduler Scheduler) *CampaignService {
	if logger == nil {
		logger = logrus.New()
	}
	if scheduler == nil {
		scheduler = timerScheduler{}
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = time.Minute
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = time.Minute
	}
	return &CampaignService{
		db:        db,
		logger:    logger,
		gateway:   gateway,
		sessions:  sessions,
		analytics: analytics,
		cfg:       cfg,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// CreateCampaignRequest describes a draft campaign.
type CreateCampaignRequest struct {
	Name            string           `json:"name" binding:"required"`
	Description     string           `json:"description"`
	CampaignType    string           `json:"campaign_type"`
	MessageTemplate string           `json:"message_template" binding:"required"`
	MediaURL        string           `json:"media_url"`
	Audience        CampaignAudience `json:"target_audience"`
	SessionID       *uint            `json:"session_id"`
}

var campaignTypes = map[string]bool{
	"broadcast": true,
	"template":  true,
	"automated": true,
	"triggered": true,
}

// Create stores a draft.
func (s *CampaignService) Create(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(req.MessageTemplate) == "" {
		return nil, fmt.Errorf("%w: message_template is required", ErrValidation)
	}
	kind := req.CampaignType
	if kind == "" {
		kind = "broadcast"
	}
	if !campaignTypes[kind] {
		return nil, fmt.Errorf("%w: unknown campaign_type %q", ErrValidation, kind)
	}
	if err := req.Audience.validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req.Audience)
	if err != nil {
		return nil, fmt.Errorf("encode audience: %w", err)
	}

	campaign := &models.Campaign{
		Name:            req.Name,
		Description:     req.Description,
		CampaignType:    kind,
		Status:          models.CampaignDraft,
		MessageTemplate: req.MessageTemplate,
		MediaURL:        req.MediaURL,
		TargetAudience:  datatypes.JSON(raw),
		SessionID:       req.SessionID,
	}
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"campaign_id": campaign.ID, "name": campaign.Name}).Info("campaign created")
	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, id uint) (*models.Campaign, error) {
	return s.load(ctx, s.db, id)
}

// List returns campaigns newest first, optionally by status.
func (s *CampaignService) List(ctx context.Context, status string) ([]models.Campaign, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var campaigns []models.Campaign
	if err := q.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

func (s *CampaignService) load(ctx context.Context, db *gorm.DB, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign not found", ErrNotFound)
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return &campaign, nil
}

// transition moves id from one of from to to, applying extra columns.
func (s *CampaignService) transition(ctx context.Context, db *gorm.DB, id uint, from []string, to string, extra map[string]interface{}) (*models.Campaign, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update campaign status: %w", res.Error)
	}
	campaign, err := s.load(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: campaign is %s, cannot move to %s", ErrInvalidState, campaign.Status, to)
	}
	return campaign, nil
}

// Schedule marks a draft to be executed at at by the scheduler worker.
func (s *CampaignService) Schedule(ctx context.Context, id uint, at time.Time) (*models.Campaign, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", ErrValidation)
	}
	return s.transition(ctx, s.db, id, []string{models.CampaignDraft}, models.CampaignScheduled,
		map[string]interface{}{"scheduled_at": at})
}

// ResolveAudience returns the deduplicated contacts matching a, never including opted-out ones.
func (s *CampaignService) ResolveAudience(ctx context.Context, a CampaignAudience) ([]models.Contact, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(&models.Contact{}).Where("status <> ?", models.ContactOptedOut)
	if len(a.CustomerTypes) > 0 {
		q = q.Where("customer_type IN ?", a.CustomerTypes)
	}
	if a.MinSpent != nil {
		q = q.Where("total_spent >= ?", *a.MinSpent)
	}
	if a.MaxSpent != nil {
		q = q.Where("total_spent <= ?", *a.MaxSpent)
	}
	if a.LastInteractionDays > 0 {
		q = q.Where("last_interaction >= ?", s.now().AddDate(0, 0, -a.LastInteractionDays))
	}
	var candidates []models.Contact
	if err := q.Order("id ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	tags := normalizeTags(a.Tags)
	seen := make(map[uint]struct{}, len(candidates))
	out := make([]models.Contact, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == models.ContactOptedOut {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		if len(tags) > 0 && !c.HasTags(tags) {
			continue
		}
		if a.SplitCount > 1 && int(c.ID)%a.SplitCount != a.SplitIndex {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// ExecuteResult reports an accepted execution.
type ExecuteResult struct {
	Success        bool   `json:"success"`
	CampaignID     uint   `json:"campaign_id"`
	RecipientCount int    `json:"recipient_count"`
	Batches        int    `json:"batches"`
	SessionName    string `json:"session"`
	Error          string `json:"error,omitempty"`
}

// Execute freezes the audience and schedules the batches. A campaign executes once.
func (s *CampaignService) Execute(ctx context.Context, id uint) (*ExecuteResult, error) {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignScheduled {
		return nil, fmt.Errorf("%w: campaign is %s, cannot execute", ErrInvalidState, campaign.Status)
	}
	audience, err := parseAudience(campaign.TargetAudience)
	if err != nil {
		return nil, err
	}
	session, err := s.dispatchSession(ctx, campaign)
	if err != nil {
		return nil, err
	}
	contacts, err := s.ResolveAudience(ctx, audience)
	if err != nil {
		return nil, err
	}

	size := s.cfg.RateLimitPerMinute
	batches := (len(contacts) + size - 1) / size
	now := s.now()
	sessionID := session.ID

	epoch := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		started, err := s.transition(ctx, tx, id, []string{models.CampaignDraft, models.CampaignScheduled}, models.CampaignActive,
			map[string]interface{}{
				"started_at":       now,
				"total_recipients": len(contacts),
				"total_batches":    batches,
				"next_batch":       0,
				"session_id":       sessionID,
			})
		if err != nil {
			return err
		}
		epoch = started.DispatchEpoch
		if len(contacts) == 0 {
			return nil
		}
		recipients := make([]models.CampaignRecipient, len(contacts))
		for i, c := range contacts {
			recipients[i] = models.CampaignRecipient{
				CampaignID: id,
				ContactID:  c.ID,
				Batch:      i / size,
				Position:   i,
			}
		}
		if err := tx.CreateInBatches(recipients, 200).Error; err != nil {
			return fmt.Errorf("store campaign recipients: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"campaign_id": id,
		"recipients":  len(contacts),
		"batches":     batches,
		"session":     session.Name,
	}).Info("campaign executing")

	if batches == 0 {
		s.complete(context.Background(), id)
	} else {
		s.scheduleFrom(id, epoch, 0, batches, 0)
	}
	return &ExecuteResult{
		Success:        true,
		CampaignID:     id,
		RecipientCount: len(contacts),
		Batches:        batches,
		SessionName:    session.Name,
	}, nil
}

func (s *CampaignService) dispatchSession(ctx context.Context, campaign *models.Campaign) (*models.Session, error) {
	if campaign.SessionID != nil {
		session, err := s.sessions.Get(ctx, *campaign.SessionID)
		if err != nil {
			return nil, err
		}
		if session.Status != models.SessionActive {
			return nil, fmt.Errorf("%w: session %s is %s", ErrConfiguration, session.Name, session.Status)
		}
		return session, nil
	}
	return s.sessions.FirstActive(ctx)
}

// scheduleFrom schedules batches first..total-1 one BatchInterval apart, the
// first one after offset. Timers only claim batches while epoch is current.
func (s *CampaignService) scheduleFrom(id uint, epoch, first, total int, offset time.Duration) {
	for k := first; k < total; k++ {
		batch := k
		delay := offset + time.Duration(k-first)*s.cfg.BatchInterval
		s.scheduler.AfterFunc(delay, func() {
			s.runBatch(context.Background(), id, epoch, batch)
		})
	}
}

// runBatch sends one batch if the campaign is still active, the batch is next
// and no resume has superseded the timer.
func (s *CampaignService) runBatch(ctx context.Context, id uint, epoch, batch int) {
	log := s.logger.WithFields(logrus.Fields{"campaign_id": id, "batch": batch, "epoch": epoch})

	// claiming next_batch makes each batch dispatch at most once across resumes
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ? AND next_batch = ? AND dispatch_epoch = ?", id, models.CampaignActive, batch, epoch).
		Updates(map[string]interface{}{"next_batch": batch + 1, "last_batch_at": s.now()})
	if res.Error != nil {
		log.WithError(res.Error).Error("claim campaign batch failed")
		return
	}
	if res.RowsAffected == 0 {
		log.Debug("campaign batch skipped")
		return
	}

	campaign, err := s.Get(ctx, id)
	if err != nil {
		log.WithError(err).Error("load campaign failed")
		return
	}
	var session models.Session
	if campaign.SessionID == nil {
		log.Error("campaign has no dispatch session")
		return
	}
	if err := s.db.WithContext(ctx).First(&session, *campaign.SessionID).Error; err != nil {
		log.WithError(err).Error("load campaign session failed")
		return
	}

	var contactIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND batch = ?", id, batch).
		Order("position ASC").
		Pluck("contact_id", &contactIDs).Error; err != nil {
		log.WithError(err).Error("load batch recipients failed")
		return
	}
	var contacts []models.Contact
	if len(contactIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", contactIDs).Find(&contacts).Error; err != nil {
			log.WithError(err).Error("load batch contacts failed")
			return
		}
	}
	byID := make(map[uint]*models.Contact, len(contacts))
	for i := range contacts {
		byID[contacts[i].ID] = &contacts[i]
	}

	sent, failed := 0, 0
	for _, cid := range contactIDs {
		contact, ok := byID[cid]
		if !ok || contact.Status == models.ContactOptedOut {
			continue
		}
		if s.sendOne(ctx, campaign, &session, contact) {
			sent++
		} else {
			failed++
		}
	}
	log.WithFields(logrus.Fields{"sent": sent, "failed": failed}).Info("campaign batch dispatched")

	if batch == campaign.TotalBatches-1 {
		s.complete(ctx, id)
	}
}

// sendOne sends to one recipient. Failures are recorded and never abort the batch.
func (s *CampaignService) sendOne(ctx context.Context, campaign *models.Campaign, session *models.Session, contact *models.Contact) bool {
	now := s.now()
	campaignID := campaign.ID
	msg := &models.Message{
		MessageID:  utils.CampaignMessageID(campaign.ID, contact.ID, now),
		SessionID:  session.ID,
		ContactID:  contact.ID,
		Direction:  models.DirectionOutbound,
		Type:       "template",
		Content:    utils.RenderTemplate(campaign.MessageTemplate, contact.Name, contact.Phone),
		MediaURL:   campaign.MediaURL,
		Status:     models.MessagePending,
		CampaignID: &campaignID,
	}
	log := s.logger.WithFields(logrus.Fields{"campaign_id": campaign.ID, "contact_id": contact.ID})
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		log.WithError(err).Error("persist campaign message failed")
		s.recordLostAttempt(ctx, campaign.ID)
		metrics.IncOutboundFailed()
		return false
	}

	sendType := "text"
	if campaign.MediaURL != "" {
		sendType = "image"
	}
	var sendErr error
	var result *SendResult
	if s.gateway == nil {
		sendErr = fmt.Errorf("%w: gateway not configured", ErrDelivery)
	} else {
		result, sendErr = s.gateway.Send(ctx, OutboundMessage{
			Session:   session.Name,
			Recipient: contact.Phone,
			Content:   msg.Content,
			Type:      sendType,
			MediaURL:  campaign.MediaURL,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaignCounters := map[string]interface{}{"messages_sent": gorm.Expr("messages_sent + 1")}
		if sendErr != nil {
			if err := tx.Model(msg).Updates(map[string]interface{}{
				"status":        models.MessageFailed,
				"error_message": sendErr.Error(),
			}).Error; err != nil {
				return err
			}
			campaignCounters["messages_failed"] = gorm.Expr("messages_failed + 1")
			if err := s.analytics.IncrementTx(ctx, tx, StatMessagesFailed, 1); err != nil {
				return err
			}
		} else {
			updates := map[string]interface{}{"status": models.MessageSent, "sent_at": now}
			if result != nil && result.MessageID != "" {
				updates["external_id"] = result.MessageID
			}
			if err := tx.Model(msg).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Session{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
				"messages_sent": gorm.Expr("messages_sent + 1"),
				"last_activity": now,
			}).Error; err != nil {
				return err
			}
			if err := s.analytics.IncrementTx(ctx, tx, StatMessagesSent, 1); err != nil {
				return err
			}
		}
		return tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(campaignCounters).Error
	})
	if err != nil {
		log.WithError(err).Error("record campaign send failed")
	}

	if sendErr != nil {
		metrics.IncOutboundFailed()
		log.WithError(sendErr).Warn("campaign send failed")
		return false
	}
	metrics.IncCampaignSend()
	return true
}

// recordLostAttempt counts an attempt that never reached the gateway.
func (s *CampaignService) recordLostAttempt(ctx context.Context, id uint) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Campaign{}).Where("id = ?", id).Updates(map[string]interface{}{
			"messages_sent":   gorm.Expr("messages_sent + 1"),
			"messages_failed": gorm.Expr("messages_failed + 1"),
		}).Error; err != nil {
			return err
		}
		return s.analytics.IncrementTx(ctx, tx, StatMessagesFailed, 1)
	})
	if err != nil {
		s.logger.WithError(err).WithField("campaign_id", id).Error("record failed campaign attempt failed")
	}
}

func (s *CampaignService) complete(ctx context.Context, id uint) {
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignActive).
		Updates(map[string]interface{}{"status": models.CampaignCompleted, "completed_at": s.now()})
	if res.Error != nil {
		s.logger.WithError(res.Error).WithField("campaign_id", id).Error("complete campaign failed")
		return
	}
	if res.RowsAffected == 1 {
		s.analytics.record(ctx, StatCampaignsSent, 1)
		s.logger.WithField("campaign_id", id).Info("campaign completed")
	}
}

// Pause stops new batches; batches already sending finish.
func (s *CampaignService) Pause(ctx context.Context, id uint) (*models.Campaign, error) {
	campaign, err := s.transition(ctx, s.db, id, []string{models.CampaignActive}, models.CampaignPaused, nil)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("campaign_id", id).Info("campaign paused")
	return campaign, nil
}

// Resume reactivates a paused campaign and schedules the batches not yet dispatched.
func (s *CampaignService) Resume(ctx context.Context, id uint) (*models.Campaign, error) {
	campaign, err := s.transition(ctx, s.db, id, []string{models.CampaignPaused}, models.CampaignActive,
		map[string]interface{}{"dispatch_epoch": gorm.Expr("dispatch_epoch + 1")})
	if err != nil {
		return nil, err
	}
	if campaign.NextBatch >= campaign.TotalBatches {
		s.complete(ctx, id)
		return s.Get(ctx, id)
	}
	// keep one interval after the last dispatched batch
	var offset time.Duration
	if campaign.LastBatchAt != nil {
		if wait := campaign.LastBatchAt.Add(s.cfg.BatchInterval).Sub(s.now()); wait > 0 {
			offset = wait
		}
	}
	s.scheduleFrom(id, campaign.DispatchEpoch, campaign.NextBatch, campaign.TotalBatches, offset)
	s.logger.WithFields(logrus.Fields{"campaign_id": id, "next_batch": campaign.NextBatch}).Info("campaign resumed")
	return campaign, nil
}

// Cancel ends a campaign that has not completed.
func (s *CampaignService) Cancel(ctx context.Context, id uint) (*models.Campaign, error) {
	return s.transition(ctx, s.db, id,
		[]string{models.CampaignDraft, models.CampaignScheduled, models.CampaignActive, models.CampaignPaused},
		models.CampaignCancelled, map[string]interface{}{"completed_at": s.now()})
}

// CampaignPerformance is the counter view of a campaign. Rates are over messages sent.
type CampaignPerformance struct {
	CampaignID      uint    `json:"campaign_id"`
	Status          string  `json:"status"`
	TotalRecipients int     `json:"total_recipients"`
	Sent            int     `json:"sent"`
	Delivered       int     `json:"delivered"`
	Read            int     `json:"read"`
	Failed          int     `json:"failed"`
	Replies         int     `json:"replies"`
	DeliveryRate    float64 `json:"delivery_rate"`
	ReadRate        float64 `json:"read_rate"`
	FailureRate     float64 `json:"failure_rate"`
}

func (s *CampaignService) Performance(ctx context.Context, id uint) (*CampaignPerformance, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignPerformance{
		CampaignID:      c.ID,
		Status:          c.Status,
		TotalRecipients: c.TotalRecipients,
		Sent:            c.MessagesSent,
		Delivered:       c.MessagesDelivered,
		Read:            c.MessagesRead,
		Failed:          c.MessagesFailed,
		Replies:         c.Replies,
		DeliveryRate:    ratio(c.MessagesDelivered, c.MessagesSent),
		ReadRate:        ratio(c.MessagesRead, c.MessagesSent),
		FailureRate:     ratio(c.MessagesFailed, c.MessagesSent),
	}, nil
}

// ABVariant is one arm of an A/B test.
type ABVariant struct {
	Name            string `json:"name"`
	MessageTemplate string `json:"message_template" binding:"required"`
	MediaURL        string `json:"media_url"`
}

// CreateABTest creates one draft child per variant. Children split the parent's audience
// by contact id so no contact receives two variants.
func (s *CampaignService) CreateABTest(ctx context.Context, id uint, variants []ABVariant) ([]models.Campaign, error) {
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: an A/B test needs at least two variants", ErrValidation)
	}
	for i, v := range variants {
		if strings.TrimSpace(v.MessageTemplate) == "" {
			return nil, fmt.Errorf("%w: variant %d has no message_template", ErrValidation, i)
		}
	}
	parent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if parent.Status != models.CampaignDraft {
		return nil, fmt.Errorf("%w: only draft campaigns can be split", ErrInvalidState)
	}
	audience, err := parseAudience(parent.TargetAudience)
	if err != nil {
		return nil, err
	}

	children := make([]models.Campaign, 0, len(variants))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, v := range variants {
			key := string(rune('A' + i))
			if i >= 26 {
				key = fmt.Sprintf("V%d", i+1)
			}
			name := v.Name
			if name == "" {
				name = fmt.Sprintf("%s (%s)", parent.Name, key)
			}
			split := audience
			split.SplitCount = len(variants)
			split.SplitIndex = i
			raw, err := json.Marshal(split)
			if err != nil {
				return fmt.Errorf("encode audience: %w", err)
			}
			parentID := parent.ID
			child := models.Campaign{
				Name:            name,
				Description:     parent.Description,
				CampaignType:    parent.CampaignType,
				Status:          models.CampaignDraft,
				MessageTemplate: v.MessageTemplate,
				MediaURL:        v.MediaURL,
				TargetAudience:  datatypes.JSON(raw),
				ParentID:        &parentID,
				Variant:         key,
				SessionID:       parent.SessionID,
			}
			if err := tx.Create(&child).Error; err != nil {
				return fmt.Errorf("create variant %s: %w", key, err)
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// RunDue executes scheduled campaigns whose time has come.
func (s *CampaignService) RunDue(ctx context.Context) (int, error) {
	var due []models.Campaign
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.CampaignScheduled, s.now()).
		Order("scheduled_at ASC").
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	started := 0
	for _, c := range due {
		if _, err := s.Execute(ctx, c.ID); err != nil {
			s.logger.WithError(err).WithField("campaign_id", c.ID).Warn("scheduled campaign did not start")
			continue
		}
		started++
	}
	return started, nil
}

// StartScheduler polls for due campaigns until ctx is done.
func (s *CampaignService) StartScheduler(ctx context.Context) {
	interval := s.cfg.SchedulerInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.RunDue(ctx); err != nil {
					s.logger.WithError(err).Error("campaign scheduler pass failed")
				} else if n > 0 {
					s.logger.WithField("started", n).Info("scheduled campaigns started")
				}
			}
		}
	}()
}

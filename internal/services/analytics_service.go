package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Daily analytics counter columns.
const (
	StatMessagesSent        = "messages_sent"
	StatMessagesReceived    = "messages_received"
	StatMessagesDelivered   = "messages_delivered"
	StatMessagesRead        = "messages_read"
	StatMessagesFailed      = "messages_failed"
	StatNewContacts         = "new_contacts"
	StatNewConversations    = "new_conversations"
	StatCampaignsSent       = "campaigns_sent"
	StatBotInteractions     = "bot_interactions"
	StatHumanHandoffs       = "human_handoffs"
	StatRoutedConversations = "routed_conversations"
)

var analyticsColumns = map[string]bool{
	StatMessagesSent:        true,
	StatMessagesReceived:    true,
	StatMessagesDelivered:   true,
	StatMessagesRead:        true,
	StatMessagesFailed:      true,
	StatNewContacts:         true,
	StatNewConversations:    true,
	StatCampaignsSent:       true,
	StatBotInteractions:     true,
	StatHumanHandoffs:       true,
	StatRoutedConversations: true,
}

// AnalyticsService rolls per-day counters. Rows are only ever incremented.
type AnalyticsService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewAnalyticsService creates the analytics aggregator.
func NewAnalyticsService(db *gorm.DB, logger *logrus.Logger) *AnalyticsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalyticsService{db: db, logger: logger, now: time.Now}
}

// AnalyticsSummary sums daily counters over a window.
type AnalyticsSummary struct {
	From                time.Time `json:"from"`
	To                  time.Time `json:"to"`
	MessagesSent        int       `json:"messages_sent"`
	MessagesReceived    int       `json:"messages_received"`
	MessagesDelivered   int       `json:"messages_delivered"`
	MessagesRead        int       `json:"messages_read"`
	MessagesFailed      int       `json:"messages_failed"`
	NewContacts         int       `json:"new_contacts"`
	NewConversations    int       `json:"new_conversations"`
	CampaignsSent       int       `json:"campaigns_sent"`
	BotInteractions     int       `json:"bot_interactions"`
	HumanHandoffs       int       `json:"human_handoffs"`
	RoutedConversations int       `json:"routed_conversations"`
	DeliveryRate        float64   `json:"delivery_rate"`
	ReadRate            float64   `json:"read_rate"`
}

// DayOf truncates t to its UTC calendar date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Increment adds n to field on today's row.
func (s *AnalyticsService) Increment(ctx context.Context, field string, n int) error {
	return s.IncrementOn(ctx, s.db, s.now(), field, n)
}

// IncrementTx is Increment inside a caller-owned transaction.
func (s *AnalyticsService) IncrementTx(ctx context.Context, tx *gorm.DB, field string, n int) error {
	if s == nil {
		return nil
	}
	return s.IncrementOn(ctx, tx, s.now(), field, n)
}

// IncrementOn adds n to field on the row for date's day, creating the row if needed.
func (s *AnalyticsService) IncrementOn(ctx context.Context, db *gorm.DB, date time.Time, field string, n int) error {
	if !analyticsColumns[field] {
		return fmt.Errorf("%w: unknown analytics field %q", ErrValidation, field)
	}
	if n == 0 {
		return nil
	}
	if db == nil {
		db = s.db
	}
	day := DayOf(date)
	row := models.DailyAnalytics{Date: day}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("ensure daily analytics row: %w", err)
	}
	if err := db.WithContext(ctx).Model(&models.DailyAnalytics{}).
		Where("date = ?", day).
		UpdateColumn(field, gorm.Expr(field+" + ?", n)).Error; err != nil {
		return fmt.Errorf("increment %s: %w", field, err)
	}
	return nil
}

// record increments and logs instead of failing the caller; analytics never
// aborts message handling.
func (s *AnalyticsService) record(ctx context.Context, field string, n int) {
	if s == nil {
		return
	}
	if err := s.Increment(ctx, field, n); err != nil {
		s.logger.WithError(err).WithField("field", field).Warn("analytics increment failed")
	}
}

// Range lists the daily rows between from and to inclusive.
func (s *AnalyticsService) Range(ctx context.Context, from, to time.Time) ([]models.DailyAnalytics, error) {
	var rows []models.DailyAnalytics
	if err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", DayOf(from), DayOf(to)).
		Order("date ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list daily analytics: %w", err)
	}
	return rows, nil
}

// Summary sums the last days days, today included.
func (s *AnalyticsService) Summary(ctx context.Context, days int) (*AnalyticsSummary, error) {
	if days <= 0 {
		days = 30
	}
	to := DayOf(s.now())
	from := to.AddDate(0, 0, -(days - 1))
	rows, err := s.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sum := &AnalyticsSummary{From: from, To: to}
	for _, r := range rows {
		sum.MessagesSent += r.MessagesSent
		sum.MessagesReceived += r.MessagesReceived
		sum.MessagesDelivered += r.MessagesDelivered
		sum.MessagesRead += r.MessagesRead
		sum.MessagesFailed += r.MessagesFailed
		sum.NewContacts += r.NewContacts
		sum.NewConversations += r.NewConversations
		sum.CampaignsSent += r.CampaignsSent
		sum.BotInteractions += r.BotInteractions
		sum.HumanHandoffs += r.HumanHandoffs
		sum.RoutedConversations += r.RoutedConversations
	}
	sum.DeliveryRate = ratio(sum.MessagesDelivered, sum.MessagesSent)
	sum.ReadRate = ratio(sum.MessagesRead, sum.MessagesSent)
	return sum, nil
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func testMessagingConfig() config.MessagingConfig {
	return config.GetDefaultConfig().Messaging
}

// fakeGateway records sends; recipients in fail get a delivery error.
type fakeGateway struct {
	mu   sync.Mutex
	sent []OutboundMessage
	fail map[string]bool
	ids  bool
	seq  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[string]bool{}}
}

func (g *fakeGateway) Send(_ context.Context, msg OutboundMessage) (*SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	if g.fail[msg.Recipient] {
		return nil, fmt.Errorf("%w: gateway rejected %s", ErrDelivery, msg.Recipient)
	}
	if !g.ids {
		return &SendResult{}, nil
	}
	g.seq++
	return &SendResult{MessageID: fmt.Sprintf("gw_%d", g.seq)}, nil
}

func (g *fakeGateway) Sent() []OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]OutboundMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

// recordingNotifier captures hub events.
type recordingNotifier struct {
	mu     sync.Mutex
	events map[uint][]AgentEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: map[uint][]AgentEvent{}}
}

func (n *recordingNotifier) Notify(agentID uint, evt AgentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[agentID] = append(n.events[agentID], evt)
}

func (n *recordingNotifier) For(agentID uint) []AgentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]AgentEvent(nil), n.events[agentID]...)
}

func createSession(t *testing.T, db *gorm.DB, name string, autoReply bool) *models.Session {
	t.Helper()
	s := &models.Session{Name: name, Status: models.SessionActive, AutoReplyEnabled: autoReply}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func createAgent(t *testing.T, db *gorm.DB, name, role string, online bool, satisfaction float64) *models.Agent {
	t.Helper()
	a := &models.Agent{
		Name:              name,
		Role:              role,
		Status:            models.AgentActive,
		IsOnline:          online,
		MaxConcurrent:     5,
		SatisfactionScore: satisfaction,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func createContact(t *testing.T, db *gorm.DB, phone, customerType, status string, tags ...string) *models.Contact {
	t.Helper()
	now := time.Now()
	c := &models.Contact{
		Phone:           phone,
		Name:            "Customer " + phone,
		Status:          status,
		CustomerType:    customerType,
		Language:        "en",
		Tags:            tags,
		LastInteraction: &now,
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

// createConversation opens a conversation for a fresh contact on session.
func createConversation(t *testing.T, db *gorm.DB, sessionID uint, status, priority string) *models.Conversation {
	t.Helper()
	var n int64
	db.Model(&models.Contact{}).Count(&n)
	contact := createContact(t, db, fmt.Sprintf("9100000%05d", n+1), "prospect", models.ContactActive)
	key := models.ConversationOpenKey(contact.ID, sessionID)
	now := time.Now()
	conv := &models.Conversation{
		ContactID:      contact.ID,
		SessionID:      sessionID,
		OpenKey:        &key,
		Status:         status,
		Priority:       priority,
		Tags:           []string{},
		MessageCount:   1,
		FirstMessageAt: now,
		LastMessageAt:  now,
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

// assignActive gives agent n active conversations.
func assignActive(t *testing.T, db *gorm.DB, sessionID, agentID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		conv := createConversation(t, db, sessionID, models.ConversationActive, models.PriorityMedium)
		if err := db.Model(conv).Update("assigned_agent_id", agentID).Error; err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
}

// syncScheduler runs batches inline and records their delays.
type syncScheduler struct {
	delays []time.Duration
}

func (s *syncScheduler) AfterFunc(d time.Duration, fn func()) {
	s.delays = append(s.delays, d)
	fn()
}

// manualScheduler queues batches until the test runs them.
type manualScheduler struct {
	queue []func()
}

func (s *manualScheduler) AfterFunc(_ time.Duration, fn func()) {
	s.queue = append(s.queue, fn)
}

func (s *manualScheduler) RunNext() bool {
	if len(s.queue) == 0 {
		return false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	fn()
	return true
}

// clockScheduler fires timers against a virtual clock advanced by the test.
type clockScheduler struct {
	now     time.Time
	pending []clockTimer
}

type clockTimer struct {
	at time.Time
	fn func()
}

func newClockScheduler(start time.Time) *clockScheduler {
	return &clockScheduler{now: start}
}

func (s *clockScheduler) Now() time.Time { return s.now }

func (s *clockScheduler) AfterFunc(d time.Duration, fn func()) {
	s.pending = append(s.pending, clockTimer{at: s.now.Add(d), fn: fn})
}

// AdvanceTo runs every timer due by t in firing order, moving the clock to each.
func (s *clockScheduler) AdvanceTo(t time.Time) {
	for {
		next := -1
		for i, timer := range s.pending {
			if timer.at.After(t) {
				continue
			}
			if next < 0 || timer.at.Before(s.pending[next].at) {
				next = i
			}
		}
		if next < 0 {
			break
		}
		timer := s.pending[next]
		s.pending = append(s.pending[:next], s.pending[next+1:]...)
		s.now = timer.at
		timer.fn()
	}
	s.now = t
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:handlers_" + t.Name() + "?mode=memory&cache=shared"
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
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// stubGateway accepts every send.
type stubGateway struct {
	mu   sync.Mutex
	sent []services.OutboundMessage
}

func (g *stubGateway) Send(_ context.Context, msg services.OutboundMessage) (*services.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return &services.SendResult{MessageID: fmt.Sprintf("out_%d", len(g.sent))}, nil
}

func (g *stubGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type inlineScheduler struct{}

func (inlineScheduler) AfterFunc(_ time.Duration, fn func()) { fn() }

// testStack is the API mounted on an in-memory database.
type testStack struct {
	db      *gorm.DB
	gateway *stubGateway
	router  *gin.Engine
	team    *services.TeamRouter
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	cfg := config.GetDefaultConfig()
	gw := &stubGateway{}

	analytics := services.NewAnalyticsService(db, log)
	hub := services.NewAgentHub(log)
	team := services.NewTeamRouter(db, log, cfg.Routing, services.NewKeyedMutex(), hub, analytics)
	bot := services.NewBotService(db, log, gw, team, analytics, cfg.Messaging)
	sessions := services.NewSessionService(db, log, nil, nil, "")
	ingest := services.NewIngestionService(db, log, sessions, bot, analytics)
	contacts := services.NewContactService(db, log)
	campaigns := services.NewCampaignService(db, log, gw, sessions, analytics, cfg.Campaign, inlineScheduler{})

	r := gin.New()
	RegisterHealthRoutes(r, NewHealthHandler(db, nil, "test", log), "/metrics")
	api := r.Group("/api/v1")
	RegisterWebhookRoutes(api, NewWebhookHandler(ingest, log))
	RegisterTeamRoutes(api, NewTeamHandler(team, hub, log))
	RegisterCampaignRoutes(api, NewCampaignHandler(campaigns, log))
	RegisterAnalyticsRoutes(api, NewAnalyticsHandler(analytics, log))
	RegisterSessionRoutes(api, NewSessionHandler(sessions, log))
	RegisterContactRoutes(api, NewContactHandler(contacts, log))
	RegisterBotRoutes(api, NewBotHandler(bot, log))

	return &testStack{db: db, gateway: gw, router: r, team: team}
}

func (s *testStack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status=%d want=%d body=%s", w.Code, want, w.Body.String())
	}
}

func (s *testStack) session(t *testing.T, name string) *models.Session {
	t.Helper()
	session := &models.Session{Name: name, Status: models.SessionActive}
	if err := s.db.Create(session).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (s *testStack) contact(t *testing.T, phone string) *models.Contact {
	t.Helper()
	contact := &models.Contact{
		Phone:        phone,
		Name:         "Customer " + phone,
		Status:       models.ContactActive,
		CustomerType: "prospect",
		Language:     "en",
		Tags:         []string{},
	}
	if err := s.db.Create(contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return contact
}

func (s *testStack) conversation(t *testing.T, sessionID uint, phone, status string) *models.Conversation {
	t.Helper()
	contact := s.contact(t, phone)
	key := models.ConversationOpenKey(contact.ID, sessionID)
	now := time.Now()
	conv := &models.Conversation{
		ContactID:      contact.ID,
		SessionID:      sessionID,
		OpenKey:        &key,
		Status:         status,
		Priority:       models.PriorityMedium,
		Tags:           []string{},
		MessageCount:   1,
		FirstMessageAt: now,
		LastMessageAt:  now,
	}
	if status == models.ConversationEscalated {
		conv.EscalatedAt = &now
	}
	if err := s.db.Create(conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func messagePayload(from, id, text string) map[string]interface{} {
	return map[string]interface{}{
		"event": "message",
		"payload": map[string]interface{}{
			"from":       from,
			"id":         id,
			"body":       text,
			"timestamp":  time.Now().Unix(),
			"notifyName": "Meera",
		},
	}
}

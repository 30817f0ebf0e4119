package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/cache"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/handlers"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/middleware"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/observability"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/waha"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// Options overrides collaborators that are otherwise built from config.
type Options struct {
	Version        string
	Gateway        services.Gateway
	SessionGateway services.SessionGateway
	Scheduler      services.Scheduler
}

// Server owns the HTTP engine, the services behind it and their workers.
type Server struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *logrus.Logger
	cache  *cache.Cache
	engine *gin.Engine

	Hub       *services.AgentHub
	Team      *services.TeamRouter
	Bots      *services.BotService
	Sessions  *services.SessionService
	Campaigns *services.CampaignService
}

// New wires every service and mounts the routes. Redis is optional: when it
// is disabled or unreachable, locks fall back to a single-process mutex and
// session lookups go straight to the database.
func New(cfg *config.Config, db *gorm.DB, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{cfg: cfg, db: db, logger: logger}

	var (
		lookup services.LookupCache
		pinger handlers.Pinger
		locker services.Locker = services.NewKeyedMutex()
	)
	if cfg.Redis.Enabled {
		c, err := cache.New(cfg.Redis.URL)
		if err != nil {
			logger.Warnf("redis disabled: %v", err)
		} else {
			s.cache = c
			lookup = c
			pinger = c
			locker = cache.NewRedisLocker(c, cfg.Routing.LockTTL)
		}
	}

	gateway, sessionGateway := opts.Gateway, opts.SessionGateway
	if gateway == nil || sessionGateway == nil {
		client := waha.NewClient(gatewayConfig(cfg.Gateway), logger)
		if gateway == nil {
			gateway = services.NewWAHAGateway(client)
		}
		if sessionGateway == nil {
			sessionGateway = client
		}
	}

	analytics := services.NewAnalyticsService(db, logger)
	s.Hub = services.NewAgentHub(logger)
	s.Team = services.NewTeamRouter(db, logger, cfg.Routing, locker, s.Hub, analytics)
	s.Hub.SetHeartbeatHandler(s.Team.Heartbeat)
	s.Bots = services.NewBotService(db, logger, gateway, s.Team, analytics, cfg.Messaging)
	s.Sessions = services.NewSessionService(db, logger, sessionGateway, lookup, cfg.Gateway.WebhookBaseURL)
	ingest := services.NewIngestionService(db, logger, s.Sessions, s.Bots, analytics)
	contacts := services.NewContactService(db, logger)
	s.Campaigns = services.NewCampaignService(db, logger, gateway, s.Sessions, analytics, cfg.Campaign, opts.Scheduler)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(logger))
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.RateLimit(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(observability.ServiceName(cfg)))
	}

	metricsPath := ""
	if cfg.Monitoring.Enabled {
		metricsPath = cfg.Monitoring.MetricsPath
	}
	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db, pinger, opts.Version, logger), metricsPath)

	api := r.Group("/api/v1")
	handlers.RegisterWebhookRoutes(api, handlers.NewWebhookHandler(ingest, logger))
	handlers.RegisterTeamRoutes(api, handlers.NewTeamHandler(s.Team, s.Hub, logger))
	handlers.RegisterCampaignRoutes(api, handlers.NewCampaignHandler(s.Campaigns, logger))
	handlers.RegisterAnalyticsRoutes(api, handlers.NewAnalyticsHandler(analytics, logger))
	handlers.RegisterSessionRoutes(api, handlers.NewSessionHandler(s.Sessions, logger))
	handlers.RegisterContactRoutes(api, handlers.NewContactHandler(contacts, logger))
	handlers.RegisterBotRoutes(api, handlers.NewBotHandler(s.Bots, logger))

	s.engine = r
	return s
}

func gatewayConfig(gc config.GatewayConfig) *waha.Config {
	wc := waha.DefaultConfig()
	if gc.BaseURL != "" {
		wc.BaseURL = gc.BaseURL
	}
	wc.APIKey = gc.APIKey
	if gc.Timeout > 0 {
		wc.Timeout = gc.Timeout
	}
	if gc.MaxRetries > 0 {
		wc.MaxRetries = gc.MaxRetries
	}
	if gc.RetryDelay > 0 {
		wc.RetryDelay = gc.RetryDelay
	}
	if gc.DefaultCountryCode != "" {
		wc.DefaultCountryCode = gc.DefaultCountryCode
	}
	return wc
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start launches the background workers; they stop when ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.Hub.Run(ctx)
	s.Team.StartQueueWorker(ctx, s.cfg.Routing.QueueInterval)
	s.Campaigns.StartScheduler(ctx)
}

// ListenAndServe serves until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server exited")
	return nil
}

// Close releases the redis connection, if any.
func (s *Server) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

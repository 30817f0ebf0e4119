package handlers

import (
	"bytes"
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Pinger is a dependency with a liveness check; *cache.Cache satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves /health, /ready and /metrics.
type HealthHandler struct {
	db      *gorm.DB
	cache   Pinger
	version string
	logger  *logrus.Logger
}

// NewHealthHandler creates the ops handler. cache may be nil when redis is disabled.
func NewHealthHandler(db *gorm.DB, cache Pinger, version string, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, version: version, logger: logger}
}

// HealthResponse health body
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo one dependency
type ServiceInfo struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SystemInfo struct {
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

var startTime = time.Now()

// Health reports every dependency. A failing dependency degrades the status but still answers 200.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	db := h.check(ctx, h.pingDB)
	resp.Services["database"] = db
	if db.Status != "healthy" {
		resp.Status = "degraded"
	}
	if h.cache != nil {
		rc := h.check(ctx, h.cache.Ping)
		resp.Services["redis"] = rc
		if rc.Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Ready answers 503 until the database is reachable.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	services := map[string]string{"database": "ready"}
	if err := h.pingDB(ctx); err != nil {
		h.logger.Warnf("Readiness check failed: %v", err)
		services["database"] = "not_ready"
		ready = false
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready, "timestamp": time.Now(), "services": services})
}

// Metrics renders the process counters as Prometheus text.
func (h *HealthHandler) Metrics(c *gin.Context) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.String(http.StatusInternalServerError, "render metrics: %v", err)
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *HealthHandler) check(ctx context.Context, ping func(context.Context) error) ServiceInfo {
	start := time.Now()
	if err := ping(ctx); err != nil {
		return ServiceInfo{Status: "unhealthy", Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}

// RegisterHealthRoutes mounts the health endpoints; an empty metricsPath skips metrics.
func RegisterHealthRoutes(r gin.IRoutes, handler *HealthHandler, metricsPath string) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	if metricsPath != "" {
		r.GET(metricsPath, handler.Metrics)
	}
}

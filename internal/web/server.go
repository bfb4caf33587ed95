// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"watchpost/internal/config"
	"watchpost/internal/database"
	"watchpost/internal/metrics"
	"watchpost/internal/monitoring"
)

type Server struct {
	config  *config.Config
	store   database.MaintenanceStore
	engine  *monitoring.Engine
	metrics *metrics.Collector
	router  *gin.Engine
	server  *http.Server

	wsMu      sync.Mutex
	wsClients map[*WSClient]bool
}

func NewServer(cfg *config.Config, store database.MaintenanceStore, engine *monitoring.Engine, collector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		store:     store,
		engine:    engine,
		metrics:   collector,
		router:    router,
		wsClients: make(map[*WSClient]bool),
	}

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("addr", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start web server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.index)

	api := s.router.Group("/api")
	{
		api.GET("/hosts", s.getHosts)
		api.GET("/hosts/:hostname", s.getHost)
		api.POST("/hosts", s.createHost)
		api.GET("/hosts/:hostname/events", s.getHostEvents)
		api.GET("/hosts/:hostname/probes", s.getHostProbes)

		api.GET("/session", s.getSession)
		api.GET("/sessions", s.getSessions)

		api.GET("/health", s.healthCheck)
		api.GET("/version", s.getVersion)

		api.GET("/stats", s.getStats)
		api.POST("/maintenance/purge-probes", s.purgeProbes)
		api.POST("/maintenance/compact", s.compactDatabase)
	}

	s.router.GET("/ws", s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "watchpost",
		"version": Version,
		"api":     "/api/hosts",
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	if session := s.engine.Session(); session != nil {
		health["session"] = session.ID
		health["session_started_at"] = session.StartedAt
	}
	c.JSON(http.StatusOK, health)
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to update system metrics")
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

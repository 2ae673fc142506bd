// Package server wires the core components behind an HTTP surface: gin
// routes for the proxy entry point, the monitor API, and configuration
// management.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/proxy"
	"github.com/kingoliang/anthropic-proxy/internal/web"
)

// Server bundles the gin router with the components it dispatches to.
type Server struct {
	router       *gin.Engine
	orchestrator *proxy.Orchestrator
	store        *observability.Store
	config       *config.Manager
}

// New builds a Server with all routes registered. The embedded monitor
// dashboard is best-effort: if its template fails to parse the server
// still starts, just without a "/" route.
func New(cfgMgr *config.Manager, store *observability.Store, orch *proxy.Orchestrator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:       gin.New(),
		orchestrator: orch,
		store:        store,
		config:       cfgMgr,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	if assets, err := web.NewAssets(); err != nil {
		logrus.WithError(err).Warn("server: monitor dashboard unavailable")
	} else {
		assets.Register(s.router, func() web.DashboardData {
			return web.DashboardData{Mode: string(s.config.Get().Mode)}
		})
	}

	return s
}

// Router exposes the underlying gin engine, e.g. for httptest or for the
// CLI's http.Server wiring.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	s.router.POST("/v1/messages", s.messages)
	s.router.POST("/v1/messages/count_tokens", s.countTokens)

	monitor := s.router.Group("/api/monitor")
	{
		monitor.GET("/requests", s.monitorQuery)
		monitor.GET("/requests/:id", s.monitorGet)
		monitor.GET("/stats", s.monitorStats)
		monitor.GET("/stream", s.monitorStream)
		monitor.POST("/clear", s.monitorClear)
		monitor.GET("/export", s.monitorExport)
	}

	cfgGroup := s.router.Group("/api/config")
	{
		cfgGroup.GET("", s.configGet)
		cfgGroup.PUT("", s.configUpdate)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "anthropic-proxy"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("server: request handled")
	}
}

// corsMiddleware allows any local tool (a monitor UI served from a
// different port during development) to call the API. The proxy has no
// authentication layer by design; CORS only affects browser-enforced
// same-origin restrictions, not access control.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-version, anthropic-beta")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Package api implements spec.md §6's HTTP surface: session lifecycle,
// worker load/unload, triggering and steering a running graph, and the SSE
// event stream, over pkg/session.Manager. Grounded on the teacher's
// pkg/api (server.go/requests.go/responses.go/errors.go/middleware.go
// split, Echo v5, ValidateWiring-before-Start pattern) but the routes and
// handlers are this engine's own — the teacher's alert/chat/trace/runbook
// surface does not apply to this domain.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pajohmail/aden-hive/pkg/metrics"
	"github.com/pajohmail/aden-hive/pkg/registry"
	"github.com/pajohmail/aden-hive/pkg/session"
	"github.com/pajohmail/aden-hive/pkg/version"
)

// Server is the HTTP API server over a session.Manager.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	manager    *session.Manager
	promReg    *prometheus.Registry
	configDir  string // directory load_worker/create_session's agent_path is resolved relative to; "" means absolute paths only
	dir        *registry.SessionDirectory
}

// NewServer creates the HTTP API server and registers every route.
// promRegistry may be nil to disable /metrics; dir may be nil to disable
// GET /api/sessions (spec.md §6's dashboard-style listing).
func NewServer(mgr *session.Manager, promRegistry *prometheus.Registry, configDir string, dir *registry.SessionDirectory) *Server {
	e := echo.New()
	s := &Server{
		echo:      e,
		manager:   mgr,
		promReg:   promRegistry,
		configDir: configDir,
		dir:       dir,
	}
	s.setupRoutes()
	return s
}

// ValidateWiring checks that the server was constructed with everything it
// needs, matching the teacher's pre-Start() wiring check (pkg/api/server.go
// ValidateWiring) so a missing dependency fails fast at startup instead of
// as a request-time 500.
func (s *Server) ValidateWiring() error {
	if s.manager == nil {
		return fmt.Errorf("server wiring incomplete: session manager not set")
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	if s.promReg != nil {
		h := metrics.Handler(s.promReg)
		s.echo.GET("/metrics", func(c *echo.Context) error {
			h.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	api := s.echo.Group("/api")
	api.POST("/sessions", s.createSessionHandler)
	api.GET("/sessions", s.listSessionsHandler)
	api.GET("/sessions/:sid", s.getSessionHandler)
	api.DELETE("/sessions/:sid", s.deleteSessionHandler)

	api.POST("/sessions/:sid/worker", s.loadWorkerHandler)
	api.DELETE("/sessions/:sid/worker", s.unloadWorkerHandler)

	api.POST("/sessions/:sid/trigger", s.triggerHandler)
	api.POST("/sessions/:sid/inject", s.injectHandler)
	api.POST("/sessions/:sid/chat", s.chatHandler)
	api.POST("/sessions/:sid/stop", s.stopHandler)
	api.POST("/sessions/:sid/resume", s.resumeHandler)
	api.POST("/sessions/:sid/replay", s.replayHandler)

	api.GET("/sessions/:sid/events", s.eventsHandler)
	api.GET("/sessions/:sid/ws", s.wsHandler)
	api.GET("/sessions/:sid/graphs/:gid/nodes", s.graphNodesHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// resolveAgentPath joins a relative agent_path against s.configDir, the
// same "configured paths are relative to a base dir unless absolute"
// convention the teacher's pkg/config loader applies to its own YAML
// includes. An absolute agent_path, or an unset configDir, passes through
// unchanged.
func (s *Server) resolveAgentPath(agentPath string) string {
	if s.configDir == "" || filepath.IsAbs(agentPath) {
		return agentPath
	}
	return filepath.Join(s.configDir, agentPath)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "healthy", Version: version.Full()})
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/config"
)

// loadWorkerHandler handles POST /api/sessions/:sid/worker (spec.md §6).
func (s *Server) loadWorkerHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req LoadWorkerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_path is required")
	}

	_, g, err := config.Load(s.resolveAgentPath(req.AgentPath))
	if err != nil {
		return mapSessionError(err)
	}
	if req.WorkerID != "" {
		g.ID = req.WorkerID
	}

	if err := sess.LoadWorker(g, req.Model); err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

// unloadWorkerHandler handles DELETE /api/sessions/:sid/worker.
func (s *Server) unloadWorkerHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}
	if err := sess.UnloadWorker(); err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

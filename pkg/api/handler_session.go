package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/config"
	"github.com/pajohmail/aden-hive/pkg/session"
)

// createSessionHandler handles POST /api/sessions (spec.md §6). If
// agent_path is set, the worker is loaded immediately as part of session
// creation; a load failure tears the freshly created session back down so
// the caller never ends up with a session stuck without its requested
// worker.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.manager.CreateSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapSessionError(err)
	}

	if req.AgentPath != "" {
		_, g, err := config.Load(s.resolveAgentPath(req.AgentPath))
		if err != nil {
			s.manager.StopSession(sess.ID)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := sess.LoadWorker(g, req.Model); err != nil {
			s.manager.StopSession(sess.ID)
			return mapSessionError(err)
		}
	}

	return c.JSON(http.StatusCreated, sessionResponse(sess))
}

// listSessionsHandler handles GET /api/sessions (spec.md §6, the
// dashboard-style listing backed by pkg/registry.SessionDirectory). 503
// when no directory is configured, matching mapSessionError's
// ErrCheckpointsDisabled precedent for an optional backing store.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	if s.dir == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session directory disabled")
	}

	includeRemoved, _ := strconv.ParseBool(c.QueryParam("include_removed"))

	records, err := s.dir.List(c.Request().Context(), includeRemoved)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := ListSessionsResponse{Sessions: make([]DirectorySessionView, len(records))}
	for i, r := range records {
		resp.Sessions[i] = DirectorySessionView{
			SessionID: r.ID,
			CreatedAt: r.CreatedAt,
			Removed:   r.RemovedAt != nil,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// getSessionHandler handles GET /api/sessions/:sid.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

// deleteSessionHandler handles DELETE /api/sessions/:sid. Idempotent,
// matching Manager.StopSession.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	s.manager.StopSession(c.Param("sid"))
	return c.NoContent(http.StatusNoContent)
}

func sessionResponse(sess *session.Session) SessionResponse {
	resp := SessionResponse{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt,
		HasWorker: sess.Graph() != nil,
	}
	if g := sess.Graph(); g != nil {
		resp.GraphID = g.ID
	}
	return resp
}

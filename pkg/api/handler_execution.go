package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// triggerHandler handles POST /api/sessions/:sid/trigger (spec.md §6).
func (s *Server) triggerHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	execID, err := sess.Trigger(req.EntryPointID, req.InputData)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, TriggerResponse{ExecutionID: execID})
}

// injectHandler handles POST /api/sessions/:sid/inject (spec.md §6). The
// request names a node_id rather than an execution_id; this resolves to
// whichever tracked execution is currently blocked on
// client_input_requested, since that is the only execution a node_id
// injection can ever target.
func (s *Server) injectHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req InjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	execID, ok := sess.BlockedExecution()
	if !ok {
		return c.JSON(http.StatusOK, InjectResponse{Delivered: false})
	}

	delivered, err := sess.Inject(execID, req.Content)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, InjectResponse{Delivered: delivered})
}

// chatHandler handles POST /api/sessions/:sid/chat (spec.md §6, §4.7
// priority routing: a blocked worker execution, then the queen).
func (s *Server) chatHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status, delivered, err := sess.Chat(req.Message)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, ChatResponse{Status: status, Delivered: delivered})
}

// stopHandler handles POST /api/sessions/:sid/stop. Stop pauses the named
// execution (spec.md §8 scenario 4) rather than cancelling it outright.
func (s *Server) stopHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExecutionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id is required")
	}

	if err := sess.Stop(req.ExecutionID); err != nil {
		return mapSessionError(err)
	}
	return c.NoContent(http.StatusOK)
}

// resumeHandler handles POST /api/sessions/:sid/resume.
func (s *Server) resumeHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	execID, err := sess.Resume(req.CheckpointID)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, ResumeResponse{ExecutionID: execID})
}

// replayHandler handles POST /api/sessions/:sid/replay.
func (s *Server) replayHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	var req ReplayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CheckpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint_id is required")
	}

	execID, err := sess.Replay(req.CheckpointID)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(http.StatusOK, ResumeResponse{ExecutionID: execID})
}

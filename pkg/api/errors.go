package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/session"
)

// mapSessionError maps pkg/session's sentinel errors to HTTP responses,
// grounded on the teacher's pkg/api/errors.go mapServiceError.
func mapSessionError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, session.ErrSessionExists):
		return echo.NewHTTPError(http.StatusConflict, "session already exists")
	case errors.Is(err, session.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrWorkerNotLoaded):
		return echo.NewHTTPError(http.StatusConflict, "no worker loaded for this session")
	case errors.Is(err, session.ErrWorkerAlreadyLoaded):
		return echo.NewHTTPError(http.StatusConflict, "a worker is already loaded for this session")
	case errors.Is(err, session.ErrUnknownEntryPoint):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrExecutionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	case errors.Is(err, session.ErrNoActiveRecipient):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no active recipient for chat")
	case errors.Is(err, session.ErrCheckpointsDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "checkpoints are disabled")
	}

	var cfgErr *graph.ConfigError
	if errors.As(err, &cfgErr) {
		return echo.NewHTTPError(http.StatusBadRequest, cfgErr.Error())
	}

	slog.Error("unexpected session error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

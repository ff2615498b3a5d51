package registry

import "log/slog"

func logDirectoryError(action, sessionID string, err error) {
	slog.Warn("session directory operation failed", "action", action, "session_id", sessionID, "error", err)
}

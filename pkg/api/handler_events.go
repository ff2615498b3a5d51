package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

// keepaliveInterval is how often a ": ping\n\n" comment line is sent on an
// idle SSE connection (spec.md §6 SSE framing).
const keepaliveInterval = 15 * time.Second

// eventsHandler handles GET /api/sessions/:sid/events?types=… (spec.md §6):
// a Server-Sent Events stream of the session's bus, one JSON `data:` line
// per event, filtered to the requested event types (or
// session.CanonicalEventTypes if none are given).
func (s *Server) eventsHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := interface{}(w).(http.Flusher)

	filter := bus.Filter{EventTypes: parseEventTypes(c.QueryParam("types"))}

	events := make(chan bus.AgentEvent, 64)
	handle := sess.Subscribe(filter, func(e bus.AgentEvent) {
		select {
		case events <- e:
		default:
			// Slow client: drop the oldest queued event rather than block
			// the publisher, matching pkg/bus's own overflow-drop policy
			// for subscriptions.
			select {
			case <-events:
			default:
			}
			select {
			case events <- e:
			default:
			}
		}
	})
	defer sess.Unsubscribe(handle)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return nil
			}
			if canFlush {
				flusher.Flush()
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func parseEventTypes(raw string) []bus.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]bus.EventType, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, bus.EventType(p))
		}
	}
	return out
}

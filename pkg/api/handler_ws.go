package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

const wsWriteTimeout = 5 * time.Second

// wsHandler upgrades GET /api/sessions/:sid/ws to a WebSocket and pushes the
// same canonical event stream eventsHandler serves over SSE, for clients
// that prefer a persistent socket over an HTTP event stream (spec.md §6
// lists SSE as the primary transport; this is an optional debug mirror of
// it, grounded on the teacher's own WebSocket surface). Accepts all
// origins, matching the teacher's handler_ws.go — origin allowlisting is
// out of scope for this module's spec.
func (s *Server) wsHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	filter := bus.Filter{}
	events := make(chan bus.AgentEvent, 64)
	handle := sess.Subscribe(filter, func(e bus.AgentEvent) {
		select {
		case events <- e:
		default:
		}
	})
	defer sess.Unsubscribe(handle)

	// The client sends nothing we act on, but coder/websocket needs a Read
	// loop running to process control frames (ping/pong/close); cancel once
	// the read loop ends, same as the teacher's HandleConnection exiting its
	// read loop on any error.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "session context done")
			return nil
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := writeWS(ctx, conn, data); err != nil {
				return nil
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

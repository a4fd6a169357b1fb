package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/progress"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	sseHeartbeat = 15 * time.Second
)

// streamWebsocket pushes every progress event as one JSON text message. The
// first message is always a full queue_update.
func (s *Server) streamWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.hub.Subscribe(ctx, s.engine)
	if err != nil {
		s.logger.Warn("subscribe failed", zap.Error(err))
		closeWebsocket(conn, websocket.CloseTryAgainLater, "progress unavailable")
		return
	}
	defer sub.Close()
	logger := s.logger.With(zap.String("request_id", RequestID(r.Context())))
	logger.Debug("websocket observer connected")

	// Observers never send anything meaningful; reading drives pong handling
	// and notices when the client goes away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read ended", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				closeWebsocket(conn, websocket.CloseGoingAway, "stream closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func closeWebsocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// streamSSE pushes the same events as text/event-stream, one event per
// message with the event type as the SSE event name.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.hub.Subscribe(r.Context(), s.engine)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				s.logger.Debug("sse write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, evt progress.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"streambadge/core"
)

const wsWriteTimeout = 10 * time.Second

// handleBadgeWS upgrades the connection and streams badge status updates.
// A "cursor" query parameter resumes the feed after the given sequence.
func (s *Server) handleBadgeWS(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.streamBadgeStatus(r.Context(), conn, cursor)
}

func (s *Server) streamBadgeStatus(ctx context.Context, conn *websocket.Conn, cursor string) {
	updates, cancel, backlog, err := s.node.BadgeStatusSubscribe(ctx, cursor)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "invalid cursor")
		return
	}
	defer cancel()

	for i := range backlog {
		if err := writeBadgeStatus(ctx, conn, backlog[i]); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := writeBadgeStatus(ctx, conn, update); err != nil {
				return
			}
		}
	}
}

func writeBadgeStatus(ctx context.Context, conn *websocket.Conn, update core.BadgeStatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		if websocket.CloseStatus(err) == -1 {
			conn.Close(websocket.StatusInternalError, "write failed")
		}
		return err
	}
	return nil
}

package collab

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ServeConn joins the connection to documentID and pumps messages until the
// peer goes away. It returns once the participant has left the room.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, documentID, userID, username string) {
	p, err := h.Join(ctx, documentID, userID, username)
	if err != nil {
		h.logger.Warn("join failed", zap.String("document_id", documentID), zap.String("user_id", userID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, p)
	}()
	h.readPump(ctx, conn, p)
	<-done
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, p *Participant) {
	defer func() {
		h.Leave(context.WithoutCancel(ctx), p)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket closed unexpectedly", zap.String("session_id", p.SessionID), zap.Error(err))
			}
			return
		}
		h.Handle(ctx, p, message)
	}
}

// writePump is the only writer on conn. It exits when the room closes the
// participant's queue or a write fails.
func (h *Hub) writePump(conn *websocket.Conn, p *Participant) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

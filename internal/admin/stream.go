package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	authmw "github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// StreamMessage is one frame of the security event stream.
type StreamMessage struct {
	Type  string             `json:"type"`
	Event *models.AuditEvent `json:"event,omitempty"`
}

// handleEventStream upgrades to a websocket and pushes every new audit event
// until the client goes away. Slow clients miss events rather than block auditing.
func (a *AdminAPI) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		a.logger.Debug("Event stream upgrade failed", zap.Error(err))
		return
	}

	events, unsubscribe := a.security.Auditor().Subscribe(streamBuffer)
	defer unsubscribe()

	actor := ""
	if claims, ok := authmw.PrincipalFrom(r.Context()); ok {
		actor = claims.UserID
	}
	a.logger.Info("Event stream opened", zap.String("actor_id", actor))
	defer a.logger.Info("Event stream closed", zap.String("actor_id", actor))

	closed := make(chan struct{})
	go a.readPump(conn, closed)

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	if err := a.write(conn, StreamMessage{Type: "ready"}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				a.writeClose(conn)
				return
			}
			if err := a.write(conn, StreamMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and signals when the connection ends.
func (a *AdminAPI) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	pongWait := a.pingInterval + writeWait
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *AdminAPI) write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (a *AdminAPI) writeClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}

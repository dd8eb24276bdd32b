package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/agent-tower/internal/tower"
)

type wsClientMessage struct {
	Type     string `json:"type"` // ping, respond
	Session  string `json:"session,omitempty"`
	Response string `json:"response,omitempty"`
}

type wsServerMessage struct {
	Type         string              `json:"type"` // status, notification, error
	Event        string              `json:"event,omitempty"`
	Code         string              `json:"code,omitempty"`
	Message      string              `json:"message,omitempty"`
	Sessions     []sessionStatus     `json:"sessions,omitempty"`
	Notification *tower.Notification `json:"notification,omitempty"`
	Time         time.Time           `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsWriteTimeout bounds each write so a wedged peer errors out instead
// of blocking the broadcast.
const wsWriteTimeout = 10 * time.Second

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// wsHub tracks connected event-stream clients and fans messages out to
// them. A client that cannot keep up is disconnected rather than allowed
// to block the broadcast.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsConn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsConn]struct{})}
}

func (h *wsHub) add(c *wsConn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast sends a message to every connected client. Failed writes drop
// the client.
func (h *wsHub) Broadcast(msg wsServerMessage) {
	h.mu.Lock()
	clients := make([]*wsConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.WriteJSON(msg); err != nil {
			h.remove(c)
			_ = c.conn.Close()
		}
	}
}

// CloseAll disconnects every client.
func (h *wsHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Len reports the number of connected clients.
func (h *wsHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleEventsWS upgrades to a websocket, sends an initial status frame,
// then streams notifications as they happen. Clients may send "respond"
// messages over the same connection.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsConn{conn: conn}
	s.hub.add(client)
	defer func() {
		s.hub.remove(client)
		_ = conn.Close()
	}()

	snaps := s.status.SnapshotAll()
	sessions := make([]sessionStatus, 0, len(snaps))
	for _, snap := range snaps {
		sessions = append(sessions, toSessionStatus(snap))
	}
	_ = client.WriteJSON(wsServerMessage{
		Type:     "status",
		Event:    "connected",
		Sessions: sessions,
		Time:     time.Now().UTC(),
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = client.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = client.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "pong",
				Time:  time.Now().UTC(),
			})
		case "respond":
			if msg.Session == "" || msg.Response == "" {
				_ = client.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "INVALID_REQUEST",
					Message: "session and response are required",
					Time:    time.Now().UTC(),
				})
				continue
			}
			if !s.respondLimiter.Allow() {
				_ = client.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "RATE_LIMITED",
					Message: "too many respond requests",
					Time:    time.Now().UTC(),
				})
				continue
			}
			if err := s.controller.Respond(r.Context(), msg.Session, msg.Response); err != nil {
				_ = client.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "RESPOND_FAILED",
					Message: err.Error(),
					Time:    time.Now().UTC(),
				})
				continue
			}
			_ = client.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "response_sent",
				Time:  time.Now().UTC(),
			})
		default:
			_ = client.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping,respond",
				Time:    time.Now().UTC(),
			})
		}
	}
}

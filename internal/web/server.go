// Package web serves the browser front end: a JSON status API, a
// websocket event stream, Web Push notifications, and the respond
// endpoint that routes decisions back into panes.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-tower/internal/logging"
	"github.com/asheshgoplani/agent-tower/internal/tower"
)

var webLog = logging.ForComponent(logging.CompWeb)

// recentNotificationLimit bounds the in-memory notification history served
// by /api/notifications.
const recentNotificationLimit = 50

// Controller routes human responses into panes.
type Controller interface {
	Respond(ctx context.Context, session, keyOrText string) error
}

// StatusSource provides point-in-time session snapshots.
type StatusSource interface {
	SnapshotAll() []tower.Snapshot
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr  string
	Token       string
	DataDir     string
	PushSubject string
}

// Server is the web front end. It implements tower.FrontEnd: Notify fans
// a notification out to connected websockets and push subscriptions.
type Server struct {
	cfg        Config
	httpServer *http.Server
	controller Controller
	status     StatusSource
	push       *pushService
	hub        *wsHub

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// respondLimiter guards the injection path against runaway clients.
	respondLimiter *rate.Limiter

	recentMu sync.Mutex
	recent   []tower.Notification
}

// NewServer creates a web server. Push is enabled when DataDir is set;
// the VAPID keypair is generated on first use and persisted there.
func NewServer(cfg Config, controller Controller, status StatusSource) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8787"
	}

	s := &Server{
		cfg:            cfg,
		controller:     controller,
		status:         status,
		hub:            newWSHub(),
		respondLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if cfg.DataDir != "" {
		if push, err := newPushService(cfg.DataDir, cfg.PushSubject); err != nil {
			webLog.Warn("push_disabled", slog.String("error", err.Error()))
		} else {
			s.push = push
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/respond", s.handleRespond)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/ws/events", s.handleEventsWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Name implements tower.FrontEnd.
func (s *Server) Name() string { return "web" }

// Notify implements tower.FrontEnd: record the notification, stream it to
// websocket clients, and push it to subscribed browsers.
func (s *Server) Notify(ctx context.Context, n tower.Notification) error {
	s.recentMu.Lock()
	s.recent = append(s.recent, n)
	if len(s.recent) > recentNotificationLimit {
		s.recent = s.recent[len(s.recent)-recentNotificationLimit:]
	}
	s.recentMu.Unlock()

	s.hub.Broadcast(wsServerMessage{
		Type:         "notification",
		Notification: &n,
		Time:         time.Now().UTC(),
	})

	if s.push != nil {
		s.push.SendAll(ctx, pushMessage{
			Title:      fmt.Sprintf("%s %s", n.State.Icon(), n.SessionName),
			Body:       n.SpeechText,
			Tag:        n.SessionName,
			Session:    n.SessionName,
			Kind:       string(n.Kind),
			DecisionID: n.DecisionID,
			Timestamp:  n.DetectedAt.UTC().Format(time.RFC3339),
			RequireInt: n.State.NeedsAttention(),
		})
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until shutdown or error. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, force-closing lingering websocket
// connections if the graceful path times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	s.hub.CloseAll()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}
	return err
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// sessionStatus is the wire form of a session snapshot.
type sessionStatus struct {
	Name            string    `json:"name"`
	Pane            string    `json:"pane"`
	State           string    `json:"state"`
	Icon            string    `json:"icon"`
	NeedsAttention  bool      `json:"needsAttention"`
	LastSampleTime  time.Time `json:"lastSampleTime"`
	LastStateChange time.Time `json:"lastStateChange"`
	LastEventKind   string    `json:"lastEventKind,omitempty"`
	LastEventTime   time.Time `json:"lastEventTime,omitempty"`
	PendingDecision string    `json:"pendingDecision,omitempty"`
	QueuedDecisions int       `json:"queuedDecisions,omitempty"`
}

func toSessionStatus(snap tower.Snapshot) sessionStatus {
	return sessionStatus{
		Name:            snap.Name,
		Pane:            snap.PaneTarget,
		State:           string(snap.State),
		Icon:            snap.State.Icon(),
		NeedsAttention:  snap.State.NeedsAttention(),
		LastSampleTime:  snap.LastSampleTime,
		LastStateChange: snap.LastStateChange,
		LastEventKind:   string(snap.LastEventKind),
		LastEventTime:   snap.LastEventTime,
		PendingDecision: snap.PendingDecisionID,
		QueuedDecisions: snap.QueuedDecisions,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	snaps := s.status.SnapshotAll()
	sessions := make([]sessionStatus, 0, len(snaps))
	for _, snap := range snaps {
		sessions = append(sessions, toSessionStatus(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	s.recentMu.Lock()
	out := make([]tower.Notification, len(s.recent))
	copy(out, s.recent)
	s.recentMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

type respondRequest struct {
	Session  string `json:"session"`
	Response string `json:"response"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if !s.respondLimiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many respond requests")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if strings.TrimSpace(req.Session) == "" || req.Response == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session and response are required")
		return
	}

	if err := s.controller.Respond(r.Context(), req.Session, req.Response); err != nil {
		if errors.Is(err, tower.ErrUnknownSession) {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		webLog.Warn("respond_failed",
			slog.String("session", req.Session),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusBadGateway, "RESPOND_FAILED", "failed to deliver response to pane")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.push == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	count, _ := s.push.store.Count(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":       true,
		"publicKey":     s.push.publicKey,
		"subject":       s.push.subject,
		"subscriptions": count,
	})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.push == nil {
		writeAPIError(w, http.StatusConflict, "PUSH_DISABLED", "push is not configured")
		return
	}

	var sub pushSubscription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&sub); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if err := s.push.store.Upsert(r.Context(), sub); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.push == nil {
		writeAPIError(w, http.StatusConflict, "PUSH_DISABLED", "push is not configured")
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if err := s.push.store.RemoveByEndpoint(r.Context(), req.Endpoint); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to remove subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- plumbing ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{Code: code, Message: message},
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}

	queryToken := strings.TrimSpace(r.URL.Query().Get("token"))
	if queryToken != "" && secureEqual(queryToken, s.cfg.Token) {
		return true
	}

	headerToken := bearerToken(r.Header.Get("Authorization"))
	if headerToken != "" && secureEqual(headerToken, s.cfg.Token) {
		return true
	}
	return false
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

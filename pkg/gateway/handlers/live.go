package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speechgate/speechgate/pkg/gateway/config"
	"github.com/speechgate/speechgate/pkg/gateway/live/protocol"
	"github.com/speechgate/speechgate/pkg/gateway/live/session"
	"github.com/speechgate/speechgate/pkg/gateway/live/sessions"
	"github.com/speechgate/speechgate/pkg/gateway/metrics"
	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/store"
)

// LiveHandler upgrades /v1/live requests into realtime voice sessions.
type LiveHandler struct {
	Config   config.Config
	Store    *store.Store
	Registry *registry.Registry
	Runner   session.TurnRunner
	Tracker  *sessions.Tracker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
				return true
			}
			_, ok := h.Config.CORSAllowedOrigins[origin]
			return ok
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Session and backend checks happen after the upgrade so the client
	// receives a meaningful close code instead of a failed handshake.
	if _, err := h.Store.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			h.closeWith(conn, protocol.CloseInvalidSession, "Invalid session")
		} else {
			logger.Error("session lookup failed", "session_id", sessionID, "error", err)
			h.closeWith(conn, websocket.CloseInternalServerErr, "session store unavailable")
		}
		return
	}
	if _, ok := h.Registry.GetHealthy("stt"); !ok {
		h.closeWith(conn, protocol.CloseBackendUnavailable, "STT service unavailable")
		return
	}

	live, err := session.New(session.Dependencies{
		Conn:      conn,
		Runner:    h.Runner,
		Logger:    logger,
		Metrics:   h.Metrics,
		SessionID: sessionID,
		Config: session.Config{
			MaxMessageBytes:  h.Config.WSMaxMessageBytes,
			WriteTimeout:     h.Config.WSWriteTimeout,
			PingInterval:     h.Config.HeartbeatInterval,
			ChunkLogInterval: h.Config.ChunkLogInterval,
		},
	})
	if err != nil {
		logger.Error("live session setup failed", "session_id", sessionID, "error", err)
		h.closeWith(conn, websocket.CloseInternalServerErr, "session setup failed")
		return
	}

	unregister := h.Tracker.Register(sessionID, sessions.Handle{
		Cancel: live.Cancel,
		Notify: live.Notify,
	})
	defer unregister()

	h.Metrics.RecordLiveSessionStart()
	status := "completed"
	if err := live.Run(); err != nil {
		status = "failed"
		logger.Warn("live session ended with error", "session_id", sessionID, "error", err)
	}
	h.Metrics.RecordLiveSessionEnd(status)
}

func (h LiveHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/speechgate/speechgate/pkg/gateway/store"
)

// SessionsHandler serves the /v1/sessions CRUD surface.
type SessionsHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

type sessionResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

func sessionToResponse(sess *store.Session) sessionResponse {
	return sessionResponse{
		ID:           sess.ID,
		UserID:       sess.UserID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		MessageCount: len(sess.Memory.Messages),
	}
}

func (h SessionsHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Session not found")
	case errors.Is(err, store.ErrInvalidID):
		writeError(w, r, http.StatusBadRequest, "invalid session id")
	default:
		if h.Logger != nil {
			h.Logger.Error("session store failure", "error", err)
		}
		writeError(w, r, http.StatusInternalServerError, "session store unavailable")
	}
}

func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string         `json:"user_id"`
		Config map[string]any `json:"config"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.Store.Create(r.Context(), req.UserID, req.Config)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionToResponse(sess))
}

func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

func (h SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages := sess.Memory.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   messages,
		"total":      len(sess.Memory.Messages),
	})
}

func (h SessionsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.Clear(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": id})
}

func (h SessionsHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Config map[string]any `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Config) == 0 {
		writeError(w, r, http.StatusBadRequest, "config is required")
		return
	}

	if _, err := h.Store.UpdateConfig(r.Context(), id, req.Config); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "session_id": id})
}

func (h SessionsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"exported_at": time.Now().UTC(),
		"session":     sess,
	})
}

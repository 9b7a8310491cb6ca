package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/speechgate/speechgate/pkg/gateway/store"
)

func newSessionsMux(s *store.Store) *http.ServeMux {
	h := SessionsHandler{Store: s, Logger: discardLogger()}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", h.Create)
	mux.HandleFunc("GET /v1/sessions/{id}", h.Get)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.Delete)
	mux.HandleFunc("GET /v1/sessions/{id}/history", h.History)
	mux.HandleFunc("POST /v1/sessions/{id}/clear", h.Clear)
	mux.HandleFunc("PUT /v1/sessions/{id}/config", h.UpdateConfig)
	mux.HandleFunc("POST /v1/sessions/{id}/export", h.Export)
	return mux
}

func TestSessions_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"user_id":"u-42","config":{"voice":"nova"}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionResponse
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "u-42", created.UserID)
	require.Zero(t, created.MessageCount)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched sessionResponse
	decodeBody(t, rec, &fetched)
	require.Equal(t, created.ID, fetched.ID)
}

func TestSessions_CreateWithEmptyBody(t *testing.T) {
	mux := newSessionsMux(newTestStore(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestSessions_GetUnknownReturns404(t *testing.T) {
	mux := newSessionsMux(newTestStore(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Session not found")
}

func TestSessions_DeleteTwice(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_HistoryLimit(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(t.Context(), id, "user", fmt.Sprintf("msg-%d", i), nil))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/history?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID string          `json:"session_id"`
		Messages  []store.Message `json:"messages"`
		Total     int             `json:"total"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 5, resp.Total)
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "msg-3", resp.Messages[0].Content)
	require.Equal(t, "msg-4", resp.Messages[1].Content)
}

func TestSessions_HistoryRejectsBadLimit(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/history?limit=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_ClearKeepsSession(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)
	require.NoError(t, s.AppendMessage(t.Context(), id, "user", "hello", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.Empty(t, sess.Memory.Messages)
}

func TestSessions_UpdateConfig(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)

	body := strings.NewReader(`{"config":{"voice":"alto"}}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/sessions/"+id+"/config", body))
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, "alto", sess.Config["voice"])
}

func TestSessions_UpdateConfigRequiresConfig(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/sessions/"+id+"/config", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_Export(t *testing.T) {
	s := newTestStore(t)
	mux := newSessionsMux(s)
	id := createSession(t, s)
	require.NoError(t, s.AppendMessage(t.Context(), id, "user", "hello", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID string         `json:"session_id"`
		Session   *store.Session `json:"session"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, id, resp.SessionID)
	require.Len(t, resp.Session.Memory.Messages, 1)
}

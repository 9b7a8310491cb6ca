package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/speechgate/speechgate/pkg/gateway/backend"
	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/sse"
	"github.com/speechgate/speechgate/pkg/gateway/store"
)

type chatRequest struct {
	SessionID   string   `json:"session_id"`
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

type chatResponse struct {
	SessionID  string  `json:"session_id"`
	Response   string  `json:"response"`
	LatencyMS  float64 `json:"latency_ms"`
	TokensUsed int     `json:"tokens_used,omitempty"`
}

// ChatHandler serves the text-only /v1/chat endpoints, bypassing the
// speech stages entirely.
type ChatHandler struct {
	Store    *store.Store
	Registry *registry.Registry
	LLM      *backend.LLMClient
	Logger   *slog.Logger

	ContextMaxMessages int
}

func (h ChatHandler) prepare(w http.ResponseWriter, r *http.Request) (chatRequest, []backend.Message, string, bool) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return req, nil, "", false
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "session_id and message are required")
		return req, nil, "", false
	}

	if _, err := h.Store.Get(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			writeError(w, r, http.StatusNotFound, "Session not found")
		} else {
			writeError(w, r, http.StatusInternalServerError, "session store unavailable")
		}
		return req, nil, "", false
	}

	if err := h.Store.AppendMessage(r.Context(), req.SessionID, "user", req.Message, nil); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session store unavailable")
		return req, nil, "", false
	}

	entries, err := h.Store.Context(r.Context(), req.SessionID, h.ContextMaxMessages)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session store unavailable")
		return req, nil, "", false
	}
	msgs := make([]backend.Message, len(entries))
	for i, e := range entries {
		msgs[i] = backend.Message{Role: e.Role, Content: e.Content}
	}

	llm, ok := h.Registry.GetHealthy("llm")
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "LLM service unavailable")
		return req, nil, "", false
	}
	return req, msgs, llm.URL, true
}

func (h ChatHandler) generateRequest(req chatRequest, msgs []backend.Message, stream bool) backend.GenerateRequest {
	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return backend.GenerateRequest{
		SessionID:   req.SessionID,
		Messages:    msgs,
		Stream:      stream,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (h ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, msgs, llmURL, ok := h.prepare(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.LLM.Generate(r.Context(), llmURL, h.generateRequest(req, msgs, false))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("llm request failed", "session_id", req.SessionID, "error", err)
		}
		if errors.Is(err, backend.ErrUpstreamStatus) {
			writeError(w, r, http.StatusBadGateway, "LLM service error")
		} else {
			writeError(w, r, http.StatusBadGateway, "LLM service unreachable")
		}
		return
	}

	if err := h.Store.AppendMessage(r.Context(), req.SessionID, "assistant", result.Text, nil); err != nil && h.Logger != nil {
		h.Logger.Warn("failed to persist assistant message", "session_id", req.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:  req.SessionID,
		Response:   result.Text,
		LatencyMS:  float64(time.Since(start).Microseconds()) / 1000,
		TokensUsed: result.TokensUsed,
	})
}

type streamFrame struct {
	Chunk        string `json:"chunk"`
	Done         bool   `json:"done"`
	FullResponse string `json:"full_response,omitempty"`
}

func (h ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, msgs, llmURL, ok := h.prepare(w, r)
	if !ok {
		return
	}

	writer, err := sse.New(w)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.WriteHeader(http.StatusOK)

	var fullResponse string
	streamErr := h.LLM.GenerateStream(r.Context(), llmURL, h.generateRequest(req, msgs, true), func(chunk backend.Chunk) error {
		if chunk.Done {
			return writer.SendData(streamFrame{Done: true, FullResponse: fullResponse})
		}
		if chunk.Chunk == "" {
			return nil
		}
		fullResponse += chunk.Chunk
		return writer.SendData(streamFrame{Chunk: chunk.Chunk})
	})
	if streamErr != nil {
		if h.Logger != nil {
			h.Logger.Error("chat stream failed", "session_id", req.SessionID, "error", streamErr)
		}
		// Headers are already out; surface the failure in-band. The raw
		// error can carry upstream response bodies, so only a generic
		// message crosses to the client.
		message := "LLM service unreachable"
		if errors.Is(streamErr, backend.ErrUpstreamStatus) {
			message = "LLM service error"
		}
		_ = writer.SendData(map[string]string{"error": message})
		return
	}

	if err := h.Store.AppendMessage(r.Context(), req.SessionID, "assistant", fullResponse, nil); err != nil && h.Logger != nil {
		h.Logger.Warn("failed to persist assistant message", "session_id", req.SessionID, "error", err)
	}
}

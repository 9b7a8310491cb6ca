package handlers

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/speechgate/speechgate/pkg/gateway/backend"
	"github.com/speechgate/speechgate/pkg/gateway/registry"
)

// TTSHandler exposes standalone speech synthesis at /v1/tts.
type TTSHandler struct {
	Registry *registry.Registry
	TTS      *backend.TTSClient
	Logger   *slog.Logger

	DefaultVoice string
}

type ttsRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	VoiceID   string  `json:"voice_id"`
	Speed     float64 `json:"speed"`
	Format    string  `json:"format"`
}

type ttsResponse struct {
	SessionID   string  `json:"session_id"`
	AudioBase64 string  `json:"audio_base64"`
	Format      string  `json:"format"`
	DurationMS  float64 `json:"duration_ms,omitempty"`
}

func (h TTSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}
	if req.VoiceID == "" {
		req.VoiceID = h.DefaultVoice
	}
	if req.Speed <= 0 {
		req.Speed = 1.0
	}
	if req.Format == "" {
		req.Format = "wav"
	}

	tts, ok := h.Registry.GetHealthy("tts")
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "TTS service unavailable")
		return
	}

	result, err := h.TTS.Synthesize(r.Context(), tts.URL, backend.SynthesizeRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		VoiceID:   req.VoiceID,
		Speed:     req.Speed,
		Format:    req.Format,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("tts request failed", "session_id", req.SessionID, "error", err)
		}
		if errors.Is(err, backend.ErrUpstreamStatus) {
			writeError(w, r, http.StatusBadGateway, "TTS service error")
		} else {
			writeError(w, r, http.StatusBadGateway, "TTS service unreachable")
		}
		return
	}

	writeJSON(w, http.StatusOK, ttsResponse{
		SessionID:   req.SessionID,
		AudioBase64: base64.StdEncoding.EncodeToString(result.Audio),
		Format:      result.Format,
		DurationMS:  result.DurationMS,
	})
}

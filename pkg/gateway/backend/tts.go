package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type SynthesizeRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	VoiceID   string  `json:"voice_id"`
	Speed     float64 `json:"speed,omitempty"`
	Format    string  `json:"format,omitempty"`
}

type SynthesisResult struct {
	Audio      []byte
	Format     string
	DurationMS float64
}

type TTSClient struct {
	client  *http.Client
	timeout time.Duration
}

// NewTTSClient builds a synthesis client. timeout bounds a single call;
// zero means 30s.
func NewTTSClient(client *http.Client, timeout time.Duration) *TTSClient {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TTSClient{client: client, timeout: timeout}
}

// Synthesize posts text to the TTS service and returns the rendered audio.
// Engines answer either with raw audio bytes or with a JSON envelope
// {audio_data, format, duration_ms}; both are accepted.
func (c *TTSClient) Synthesize(ctx context.Context, baseURL string, synReq SynthesizeRequest) (SynthesisResult, error) {
	if synReq.VoiceID == "" {
		synReq.VoiceID = "default"
	}

	payload, err := json.Marshal(synReq)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("tts: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/synthesize/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SynthesisResult{}, statusError("tts", resp)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var envelope struct {
			AudioData  string  `json:"audio_data"`
			Format     string  `json:"format"`
			DurationMS float64 `json:"duration_ms"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return SynthesisResult{}, fmt.Errorf("tts: decode response: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(envelope.AudioData)
		if err != nil {
			return SynthesisResult{}, fmt.Errorf("tts: decode audio: %w", err)
		}
		format := envelope.Format
		if format == "" {
			format = "wav"
		}
		return SynthesisResult{Audio: audio, Format: format, DurationMS: envelope.DurationMS}, nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("tts: read audio: %w", err)
	}
	return SynthesisResult{Audio: audio, Format: "wav"}, nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

type STTClient struct {
	client  *http.Client
	timeout time.Duration
}

// NewSTTClient builds a transcription client. timeout bounds a single
// Transcribe call; zero means 60s.
func NewSTTClient(client *http.Client, timeout time.Duration) *STTClient {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &STTClient{client: client, timeout: timeout}
}

// Transcribe posts the buffered utterance to the STT service as multipart
// form data and returns the transcript. The audio goes in field "audio" as
// speech.webm; session_id and is_partial ride along as form fields.
func (c *STTClient) Transcribe(ctx context.Context, baseURL string, audio []byte, sessionID string) (Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="speech.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcript{}, fmt.Errorf("stt: build form: %w", err)
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return Transcript{}, fmt.Errorf("stt: build form: %w", err)
	}
	if err := mw.WriteField("is_partial", "false"); err != nil {
		return Transcript{}, fmt.Errorf("stt: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("stt: build form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/transcribe/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcript{}, statusError("stt", resp)
	}

	var out Transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("stt: decode response: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}

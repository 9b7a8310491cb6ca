// Package protocol defines the live WebSocket wire messages.
//
// Clients send binary frames carrying raw audio and text frames carrying
// JSON control messages. The server answers with JSON event frames only.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Private close codes sent before the session loop starts.
const (
	CloseInvalidSession     = 4001
	CloseBackendUnavailable = 4002
)

// Control message types accepted from clients.
const (
	TypePing           = "ping"
	TypeStartRecording = "start_recording"
	TypeEndOfSpeech    = "end_of_speech"
	TypeInterrupt      = "interrupt"
)

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string { return e.Message }

func badFrame(format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

// ClientControl is a decoded inbound control frame.
type ClientControl struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a text frame. Unknown types and malformed JSON
// are decode errors; the session logs and ignores them rather than closing.
func DecodeClientMessage(data []byte) (ClientControl, error) {
	var msg ClientControl
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientControl{}, badFrame("invalid json frame")
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return ClientControl{}, badFrame("missing type")
	}
	switch msg.Type {
	case TypePing, TypeStartRecording, TypeEndOfSpeech, TypeInterrupt:
		return msg, nil
	default:
		return ClientControl{}, badFrame("unsupported message type %q", msg.Type)
	}
}

// Outbound events. Every server frame carries a type discriminator; fields
// follow the shapes the browser client already speaks.

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: "pong"} }

type Transcription struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	IsPartial bool   `json:"is_partial"`
}

func NewTranscription(text string) Transcription {
	return Transcription{Type: "transcription", Text: text, IsPartial: false}
}

type LLMChunk struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	IsFinal      bool   `json:"is_final"`
	FullResponse string `json:"full_response,omitempty"`
}

func NewLLMChunk(content string) LLMChunk {
	return LLMChunk{Type: "llm_chunk", Content: content}
}

func NewLLMFinal(fullResponse string) LLMChunk {
	return LLMChunk{Type: "llm_chunk", IsFinal: true, FullResponse: fullResponse}
}

type TTSAudio struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"` // base64
	Format string `json:"format"`
}

func NewTTSAudio(audioB64, format string) TTSAudio {
	if format == "" {
		format = "wav"
	}
	return TTSAudio{Type: "tts_audio", Audio: audioB64, Format: format}
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message}
}

type Interrupted struct {
	Type string `json:"type"`
}

func NewInterrupted() Interrupted { return Interrupted{Type: "interrupted"} }

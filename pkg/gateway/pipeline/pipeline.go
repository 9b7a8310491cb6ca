// Package pipeline orchestrates one voice turn: transcription, generation
// and synthesis against the registry-selected service instances.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/speechgate/speechgate/pkg/gateway/backend"
	"github.com/speechgate/speechgate/pkg/gateway/live/protocol"
	"github.com/speechgate/speechgate/pkg/gateway/metrics"
	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/store"
	"github.com/speechgate/speechgate/pkg/gateway/tools"
)

// EventSink receives the turn's client-facing events in order. The live
// session implements it on top of its writer goroutine.
type EventSink interface {
	Send(event any) error
}

type Dependencies struct {
	Registry *registry.Registry
	Store    *store.Store
	STT      *backend.STTClient
	LLM      *backend.LLMClient
	TTS      *backend.TTSClient
	Tools    *tools.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// ContextMaxMessages bounds the model context. Defaults to 10.
	ContextMaxMessages int
	// MaxToolRounds bounds generation restarts after tool calls.
	// Defaults to 3.
	MaxToolRounds int
	DefaultVoice  string
}

type Pipeline struct {
	deps Dependencies
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Registry == nil {
		return nil, errors.New("pipeline: Registry is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: Store is required")
	}
	if deps.STT == nil || deps.LLM == nil || deps.TTS == nil {
		return nil, errors.New("pipeline: backend clients are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ContextMaxMessages <= 0 {
		deps.ContextMaxMessages = 10
	}
	if deps.MaxToolRounds <= 0 {
		deps.MaxToolRounds = 3
	}
	if deps.DefaultVoice == "" {
		deps.DefaultVoice = "default"
	}
	return &Pipeline{deps: deps}, nil
}

// Run executes one turn over the buffered utterance. Client-visible
// failures become error events on the sink; the returned error is for the
// caller's log. A canceled ctx stops the turn without further events.
// Store writes committed before a failure stay committed.
func (p *Pipeline) Run(ctx context.Context, sessionID string, audio []byte, sink EventSink) error {
	turnStart := time.Now()

	text, err := p.transcribe(ctx, sessionID, audio, sink)
	if err != nil {
		p.deps.Metrics.RecordTurn(turnStatus(ctx, "failed"))
		return err
	}

	if err := p.deps.Store.AppendMessage(ctx, sessionID, "user", text, nil); err != nil {
		p.deps.Logger.Warn("failed to persist user message", "session_id", sessionID, "error", err)
	}
	if err := p.send(ctx, sink, protocol.NewTranscription(text)); err != nil {
		p.deps.Metrics.RecordTurn(turnStatus(ctx, "failed"))
		return err
	}

	fullResponse, err := p.generate(ctx, sessionID, sink)
	if err != nil {
		p.deps.Metrics.RecordTurn(turnStatus(ctx, "failed"))
		return err
	}

	if err := p.deps.Store.AppendMessage(ctx, sessionID, "assistant", fullResponse, nil); err != nil {
		p.deps.Logger.Warn("failed to persist assistant message", "session_id", sessionID, "error", err)
	}

	// Synthesis failure does not fail the turn; the text already reached
	// the client.
	p.synthesize(ctx, sessionID, fullResponse, sink)

	p.deps.Metrics.RecordTurn("completed")
	p.deps.Logger.Info("voice turn complete",
		"session_id", sessionID,
		"duration_ms", time.Since(turnStart).Milliseconds())
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, sessionID string, audio []byte, sink EventSink) (string, error) {
	inst, ok := p.deps.Registry.GetHealthy("stt")
	if !ok {
		p.sendError(ctx, sink, "STT service unavailable")
		return "", registry.ErrUnavailable
	}

	start := time.Now()
	transcript, err := p.deps.STT.Transcribe(ctx, inst.URL, audio, sessionID)
	p.deps.Metrics.RecordStage("stt", time.Since(start))
	if err != nil {
		p.deps.Metrics.RecordError("stt", errorType(err))
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			p.sendError(ctx, sink, fmt.Sprintf("STT error: %d", statusErr.StatusCode))
		} else {
			p.sendError(ctx, sink, "Transcription failed")
		}
		return "", err
	}
	if transcript.Text == "" {
		p.deps.Logger.Warn("transcription returned empty text", "session_id", sessionID)
		p.sendError(ctx, sink, "Could not understand audio")
		return "", errors.New("empty transcription")
	}
	p.deps.Logger.Info("transcription success", "session_id", sessionID, "text", transcript.Text)
	return transcript.Text, nil
}

func (p *Pipeline) generate(ctx context.Context, sessionID string, sink EventSink) (string, error) {
	inst, ok := p.deps.Registry.GetHealthy("llm")
	if !ok {
		p.sendError(ctx, sink, "LLM service unavailable")
		return "", registry.ErrUnavailable
	}

	entries, err := p.deps.Store.Context(ctx, sessionID, p.deps.ContextMaxMessages)
	if err != nil {
		p.sendError(ctx, sink, "LLM processing failed")
		return "", err
	}
	msgs := make([]backend.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, backend.Message{Role: e.Role, Content: e.Content})
	}

	start := time.Now()
	defer func() {
		p.deps.Metrics.RecordStage("llm", time.Since(start))
	}()

	var fullResponse string
	for round := 0; ; round++ {
		var pendingCalls []backend.ToolCall

		err := p.deps.LLM.GenerateStream(ctx, inst.URL, backend.GenerateRequest{
			SessionID: sessionID,
			Messages:  msgs,
		}, func(chunk backend.Chunk) error {
			if len(chunk.ToolCalls) > 0 {
				pendingCalls = append(pendingCalls, chunk.ToolCalls...)
			}
			if chunk.Chunk != "" {
				fullResponse += chunk.Chunk
				return p.send(ctx, sink, protocol.NewLLMChunk(chunk.Chunk))
			}
			return nil
		})
		if err != nil {
			p.deps.Metrics.RecordError("llm", errorType(err))
			p.sendError(ctx, sink, "LLM processing failed")
			return "", err
		}

		if len(pendingCalls) == 0 {
			break
		}
		if round+1 >= p.deps.MaxToolRounds {
			p.deps.Logger.Warn("tool round budget exhausted",
				"session_id", sessionID, "rounds", round+1)
			break
		}
		msgs = p.runTools(ctx, sessionID, msgs, pendingCalls)
	}

	if err := p.send(ctx, sink, protocol.NewLLMFinal(fullResponse)); err != nil {
		return "", err
	}
	return fullResponse, nil
}

// runTools executes the model's tool calls and extends the context with the
// call and its results. A failing or unknown tool becomes an error-result
// message; the turn itself never fails here.
func (p *Pipeline) runTools(ctx context.Context, sessionID string, msgs []backend.Message, calls []backend.ToolCall) []backend.Message {
	msgs = append(msgs, backend.Message{Role: "assistant", ToolCalls: calls})
	for _, call := range calls {
		input := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				p.deps.Logger.Warn("malformed tool arguments",
					"session_id", sessionID, "tool", call.Name, "error", err)
			}
		}
		input["session_id"] = sessionID

		result, err := p.deps.Tools.Execute(ctx, call.Name, input)
		if err != nil {
			p.deps.Metrics.RecordError("tools", "execute")
			result = fmt.Sprintf("tool error: %v", err)
		}
		p.deps.Logger.Info("tool executed", "session_id", sessionID, "tool", call.Name)
		msgs = append(msgs, backend.Message{Role: "tool", Content: result})
	}
	return msgs
}

func (p *Pipeline) synthesize(ctx context.Context, sessionID, text string, sink EventSink) {
	inst, ok := p.deps.Registry.GetHealthy("tts")
	if !ok {
		p.sendError(ctx, sink, "TTS service unavailable")
		return
	}

	start := time.Now()
	result, err := p.deps.TTS.Synthesize(ctx, inst.URL, backend.SynthesizeRequest{
		SessionID: sessionID,
		Text:      text,
		VoiceID:   p.deps.DefaultVoice,
	})
	p.deps.Metrics.RecordStage("tts", time.Since(start))
	if err != nil {
		p.deps.Metrics.RecordError("tts", errorType(err))
		p.deps.Logger.Error("tts synthesis failed", "session_id", sessionID, "error", err)
		p.sendError(ctx, sink, "TTS generation failed")
		return
	}

	audioB64 := base64.StdEncoding.EncodeToString(result.Audio)
	if err := p.send(ctx, sink, protocol.NewTTSAudio(audioB64, result.Format)); err != nil {
		p.deps.Logger.Warn("failed to deliver tts audio", "session_id", sessionID, "error", err)
	}
}

// send delivers an event unless the turn is already canceled.
func (p *Pipeline) send(ctx context.Context, sink EventSink, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return sink.Send(event)
}

func (p *Pipeline) sendError(ctx context.Context, sink EventSink, message string) {
	if err := p.send(ctx, sink, protocol.NewError(message)); err != nil {
		p.deps.Logger.Debug("dropped error event", "error", err)
	}
}

func turnStatus(ctx context.Context, fallback string) string {
	if ctx.Err() != nil {
		return "canceled"
	}
	return fallback
}

func errorType(err error) string {
	switch {
	case errors.Is(err, backend.ErrUpstreamStatus):
		return "upstream_status"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport"
	}
}

// Package session runs one live voice connection.
//
// Each WebSocket gets its own actor: a Run loop that owns the audio buffer
// and connection state, a read pump feeding it frames, and a writer
// goroutine serializing outbound events. Turns execute in their own
// goroutine with a cancelable context so a new utterance or an interrupt
// can stop an in-flight one.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speechgate/speechgate/pkg/gateway/live/protocol"
	"github.com/speechgate/speechgate/pkg/gateway/metrics"
	"github.com/speechgate/speechgate/pkg/gateway/pipeline"
)

type state int

const (
	stateAwaitingAudio state = iota
	stateProcessing
)

func (s state) String() string {
	if s == stateProcessing {
		return "processing"
	}
	return "awaiting_audio"
}

// TurnRunner executes one voice turn. Implemented by pipeline.Pipeline.
type TurnRunner interface {
	Run(ctx context.Context, sessionID string, audio []byte, sink pipeline.EventSink) error
}

type Config struct {
	// MaxMessageBytes caps a single inbound WS frame. Zero means no cap.
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration

	// ChunkLogInterval logs every Nth audio chunk. Defaults to 10.
	ChunkLogInterval int
	// OutboundQueueSize bounds the event queue. Defaults to 128.
	OutboundQueueSize int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Runner    TurnRunner
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	SessionID string
	Config    Config
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type LiveSession struct {
	conn      *websocket.Conn
	runner    TurnRunner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sessionID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	events chan any

	// turnDone carries the sequence number of a finished turn back to the
	// Run goroutine, which owns all state transitions.
	turnDone chan int

	// Owned by the Run goroutine.
	state       state
	audioBuffer []byte
	chunkCount  int
	turnSeq     int

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnWG     sync.WaitGroup
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if deps.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.ChunkLogInterval <= 0 {
		deps.Config.ChunkLogInterval = 10
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:      deps.Conn,
		runner:    deps.Runner,
		logger:    deps.Logger.With("session_id", deps.SessionID),
		metrics:   deps.Metrics,
		sessionID: deps.SessionID,
		cfg:       deps.Config,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan any, deps.Config.OutboundQueueSize),
		turnDone:  make(chan int, 8),
	}, nil
}

// Cancel stops the session from outside, e.g. on shutdown.
func (s *LiveSession) Cancel() {
	if s == nil {
		return
	}
	s.cancel()
}

// Notify queues a server-initiated event for this connection.
func (s *LiveSession) Notify(event any) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	return s.Send(event)
}

// Send queues an outbound event. It blocks only while the queue is full and
// fails once the session is shutting down. Implements pipeline.EventSink.
func (s *LiveSession) Send(event any) error {
	select {
	case s.events <- event:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Run drives the connection until the client disconnects or the session is
// canceled. It always cancels any in-flight turn before returning.
func (s *LiveSession) Run() error {
	defer func() {
		s.cancel()
		s.cancelTurn()
		s.turnWG.Wait()
	}()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			conn:         s.conn,
			ctx:          s.ctx,
			events:       s.events,
			writeTimeout: s.cfg.WriteTimeout,
			pingInterval: s.cfg.PingInterval,
		}
		writerErrCh <- w.Run()
	}()

	s.logger.Info("live session connected")

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Warn("writer failed", "error", err)
			}
			return err
		case seq := <-s.turnDone:
			// A done signal from a superseded turn is stale; only the
			// current turn flips the session back.
			if seq == s.turnSeq {
				s.state = stateAwaitingAudio
			}
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					s.logger.Info("client disconnected")
					return nil
				}
				s.logger.Warn("read failed", "error", frame.err)
				return frame.err
			}
			switch frame.messageType {
			case websocket.BinaryMessage:
				s.handleAudio(frame.data)
			case websocket.TextMessage:
				s.handleControl(frame.data)
			}
		}
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// handleAudio appends a binary frame to the utterance buffer. Audio is
// accepted in every state so the client can keep talking while a turn is
// processing.
func (s *LiveSession) handleAudio(data []byte) {
	s.audioBuffer = append(s.audioBuffer, data...)
	if s.chunkCount%s.cfg.ChunkLogInterval == 0 {
		s.logger.Debug("received audio chunk",
			"size", len(data),
			"total_buffer", len(s.audioBuffer))
	}
	s.chunkCount++
	s.metrics.RecordLiveAudio(len(data))
}

func (s *LiveSession) handleControl(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.logger.Warn("ignoring malformed control frame", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		if err := s.Send(protocol.NewPong()); err != nil {
			s.logger.Debug("dropped pong", "error", err)
		}

	case protocol.TypeStartRecording:
		s.logger.Info("starting new recording, clearing buffer")
		s.resetBuffer()

	case protocol.TypeEndOfSpeech:
		s.handleEndOfSpeech()

	case protocol.TypeInterrupt:
		s.handleInterrupt()
	}
}

func (s *LiveSession) handleEndOfSpeech() {
	if len(s.audioBuffer) == 0 {
		s.logger.Warn("end_of_speech with empty audio buffer")
		return
	}

	utterance := make([]byte, len(s.audioBuffer))
	copy(utterance, s.audioBuffer)
	// The buffer is cleared for every end_of_speech attempt, success or not.
	s.resetBuffer()

	s.logger.Info("processing end of speech", "size", len(utterance), "state", s.state.String())

	// A turn still in flight belongs to a superseded utterance.
	if s.state == stateProcessing {
		s.cancelTurn()
	}
	s.state = stateProcessing
	s.turnSeq++
	seq := s.turnSeq

	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnMu.Lock()
	s.turnCancel = cancel
	s.turnMu.Unlock()

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		defer cancel()
		if err := s.runner.Run(turnCtx, s.sessionID, utterance, turnSink{session: s, ctx: turnCtx}); err != nil {
			s.logger.Warn("turn failed", "error", err)
		}
		select {
		case s.turnDone <- seq:
		case <-s.ctx.Done():
		}
	}()
}

func (s *LiveSession) handleInterrupt() {
	s.resetBuffer()
	s.cancelTurn()
	s.state = stateAwaitingAudio
	if err := s.Send(protocol.NewInterrupted()); err != nil {
		s.logger.Debug("dropped interrupted ack", "error", err)
	}
}

func (s *LiveSession) resetBuffer() {
	s.audioBuffer = s.audioBuffer[:0]
	s.chunkCount = 0
}

func (s *LiveSession) cancelTurn() {
	s.turnMu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	s.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// turnSink delivers pipeline events for one turn. Once the turn context is
// canceled no further events reach the client.
type turnSink struct {
	session *LiveSession
	ctx     context.Context
}

func (ts turnSink) Send(event any) error {
	if err := ts.ctx.Err(); err != nil {
		return err
	}
	select {
	case ts.session.events <- event:
		return nil
	case <-ts.ctx.Done():
		return ts.ctx.Err()
	}
}

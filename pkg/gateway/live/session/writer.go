package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the single goroutine allowed to write to the socket.
// Events are JSON-encoded text frames; pings keep intermediaries from
// dropping idle connections.
type outboundWriter struct {
	conn         wsWriter
	ctx          context.Context
	events       <-chan any
	writeTimeout time.Duration
	pingInterval time.Duration
}

func (w *outboundWriter) Run() error {
	if w == nil || w.conn == nil {
		return nil
	}

	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			deadline := time.Now().Add(writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = w.conn.Close()
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		case event := <-w.events:
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		}
	}
}

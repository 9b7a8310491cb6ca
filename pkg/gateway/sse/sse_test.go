package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_SetsStreamHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := New(rec); err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestSendData_WritesDataFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := New(rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := w.SendData(map[string]any{"chunk": "hello", "done": false}); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	want := "data: {\"chunk\":\"hello\",\"done\":false}\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Fatal("frame was not flushed")
	}
}

func TestComment_WritesCommentFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := New(rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := w.Comment("keepalive"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if got := rec.Body.String(); got != ": keepalive\n\n" {
		t.Fatalf("frame = %q", got)
	}
}

// nopWriter hides httptest.ResponseRecorder's Flush method.
type nopWriter struct{ rec *httptest.ResponseRecorder }

func (w nopWriter) Header() http.Header         { return w.rec.Header() }
func (w nopWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w nopWriter) WriteHeader(statusCode int)  { w.rec.WriteHeader(statusCode) }

func TestNew_RejectsNonFlusher(t *testing.T) {
	if _, err := New(nopWriter{httptest.NewRecorder()}); err == nil {
		t.Fatal("expected error for non-flushing writer")
	}
}

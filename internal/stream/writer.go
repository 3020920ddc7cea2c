package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/whisper/verdict-app/internal/protocol"
)

// ErrClosed is returned when an event is emitted after a terminal event.
var ErrClosed = errors.New("stream: closed")

// Emitter receives pipeline events in order.
type Emitter interface {
	Emit(ev protocol.Event) error
}

// NDJSONWriter writes one event per line and flushes after each, so the
// client sees progress as it happens.
type NDJSONWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	written int
}

// NewNDJSONWriter wraps w. If w is an http.Flusher every event is flushed.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	f, _ := w.(http.Flusher)
	return &NDJSONWriter{w: w, flusher: f}
}

// Emit implements Emitter.
func (nw *NDJSONWriter) Emit(ev protocol.Event) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if nw.closed {
		return ErrClosed
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := nw.w.Write(data); err != nil {
		nw.closed = true
		return fmt.Errorf("stream: write event: %w", err)
	}
	if nw.flusher != nil {
		nw.flusher.Flush()
	}
	nw.written++
	if ev.Terminal() {
		nw.closed = true
	}
	return nil
}

// Written returns the number of events written.
func (nw *NDJSONWriter) Written() int {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.written
}

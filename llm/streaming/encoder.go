package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/BaSui01/convoflow/types"
)

// ErrStreamClosed is returned by Encode after a terminal frame.
var ErrStreamClosed = errors.New("stream closed")

// Encoder writes SSE frames. It is safe for concurrent use, although
// frames from one turn are expected to come from a single goroutine.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	buf     bytes.Buffer
}

// NewEncoder creates an encoder writing to w. When w is an http.Flusher
// every frame is flushed as soon as it is written.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// SetHeaders prepares an HTTP response for an event stream.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Encode writes ev as one frame.
func (e *Encoder) Encode(ev types.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	p, err := Payload(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}

	e.buf.Reset()
	e.buf.WriteString("event: ")
	e.buf.WriteString(string(ev.Kind))
	e.buf.WriteString("\ndata: ")
	e.buf.Write(data)
	e.buf.WriteString("\n\n")

	// A terminal frame closes the stream even when the write fails.
	if ev.Kind.Terminal() {
		e.closed = true
	}
	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Kind, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Closed reports whether a terminal frame has been written.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

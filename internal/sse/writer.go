package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer emits data frames to an HTTP response, flushing after every event so
// clients see tokens as they arrive.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter prepares w for chunked event output. It fails when the
// ResponseWriter cannot flush (e.g. a buffering proxy in tests).
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{w: w, f: f}, nil
}

// WriteJSON marshals v and writes it as one data frame.
func (sw *Writer) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return sw.writeFrame(string(payload))
}

// WriteDone writes the terminal sentinel frame.
func (sw *Writer) WriteDone() error {
	return sw.writeFrame(DoneData)
}

func (sw *Writer) writeFrame(data string) error {
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	sw.f.Flush()
	return nil
}

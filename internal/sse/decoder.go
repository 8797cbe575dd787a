// Package sse implements the newline-delimited "data: <payload>" framing used
// to relay token-by-token completion output, on both the read and write side.
package sse

import (
	"bytes"
	"io"
	"strings"
)

// DoneData is the terminal sentinel payload closing a stream.
const DoneData = "[DONE]"

const dataPrefix = "data: "

// Event is one decoded data frame.
type Event struct {
	Data string
	Done bool
}

// Decoder is a pull-based framing decoder: feed it arbitrary byte slices and
// pull complete frames out. Bytes that do not yet form a full line stay
// buffered. Non-data lines (comments, blank keep-alives, unknown fields) are
// skipped silently; they carry no payload in this protocol.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete data frame, or ok=false when no full frame
// is buffered yet.
func (d *Decoder) Next() (Event, bool) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return Event{}, false
		}

		line := strings.TrimSpace(string(d.buf[:i]))
		d.buf = d.buf[i+1:]

		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == DoneData {
			return Event{Done: true}, true
		}
		return Event{Data: data}, true
	}
}

// Buffered reports whether the decoder holds an incomplete trailing line.
func (d *Decoder) Buffered() bool {
	return len(bytes.TrimSpace(d.buf)) > 0
}

// Scanner pulls frames from an io.Reader through a Decoder.
type Scanner struct {
	r    io.Reader
	dec  Decoder
	read [4096]byte
	err  error
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Next returns the next frame. It returns io.EOF when the reader is exhausted
// without a terminal sentinel; callers that require the sentinel treat that as
// a truncated stream.
func (s *Scanner) Next() (Event, error) {
	for {
		if ev, ok := s.dec.Next(); ok {
			return ev, nil
		}
		if s.err != nil {
			return Event{}, s.err
		}

		n, err := s.r.Read(s.read[:])
		if n > 0 {
			s.dec.Feed(s.read[:n])
		}
		if err != nil {
			// Drain frames completed by the final read before surfacing err.
			s.err = err
		}
	}
}

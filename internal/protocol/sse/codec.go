// Package sse implements the Event Codec: reading a line-oriented
// Server-Sent-Events byte stream into logical frames, and writing typed
// events back out in the same grammar. It is deliberately hand-rolled
// rather than built on an upstream SDK's stream decoder — translating
// between wire protocols at the frame level is the thing this proxy exists
// to do, not something to delegate.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxLineSize bounds a single SSE line so one bloated data: payload (a
// large tool_use argument blob) cannot grow the scanner's buffer without
// limit; scanner.Buffer grows up to this cap on demand.
const maxLineSize = 4 * 1024 * 1024

// initialLineSize is the scanner's starting buffer size.
const initialLineSize = 64 * 1024

// Frame is one decoded SSE frame: the event name (if any "event:" line was
// present) and the raw JSON payload bytes from its "data:" line(s).
type Frame struct {
	Event string
	Data  []byte
}

// Done reports whether this frame is the foreign stream's literal
// terminator ("data: [DONE]"), which is not JSON and must be special-cased
// by callers before attempting to unmarshal Data.
func (f Frame) Done() bool {
	return strings.TrimSpace(string(f.Data)) == "[DONE]"
}

// Decoder reads a byte stream line by line and yields Frames. Lines that
// are not a "data:" line are ignored per spec; blank lines separate
// frames; malformed JSON is caught by the caller (the decoder itself does
// not parse JSON, only frames raw bytes), matching the spec's "malformed
// JSON is non-fatal" posture — Decode returns whatever bytes followed
// "data:" and leaves validation to the translator.
type Decoder struct {
	scanner *bufio.Scanner
	event   string
}

// NewDecoder wraps r for frame-at-a-time reading.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineSize), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next advances to the next frame. It returns io.EOF when the underlying
// reader is exhausted without producing another frame.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			// Blank line: frame separator. If we were mid-frame with no
			// data line seen (only an event: line), reset and continue;
			// a real frame is only ever reported once a data: line fires.
			d.event = ""
			continue
		}

		if rest, ok := cutPrefix(line, "event:"); ok {
			d.event = strings.TrimSpace(rest)
			continue
		}

		if rest, ok := cutPrefix(line, "data:"); ok {
			payload := strings.TrimPrefix(rest, " ")
			frame := Frame{Event: d.event, Data: []byte(payload)}
			d.event = ""
			return frame, nil
		}

		// Any other line (comments, id:, retry:, unrecognized fields) is
		// ignored per spec.
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("sse: reading stream: %w", err)
	}
	return Frame{}, io.EOF
}

// cutPrefix reports whether line begins with prefix and, if so, returns the
// remainder. Unlike strings.TrimPrefix it distinguishes "no match" from "an
// empty remainder".
func cutPrefix(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return line[len(prefix):], true
}

// DecodeJSON is a convenience for callers that want typed frames: it
// unmarshals the Data of an already-read frame into v. A malformed payload is
// reported as an error but is not itself fatal to the stream — callers
// should log and continue rather than abort, per spec §4.1.
func DecodeJSON(f Frame, v interface{}) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("sse: malformed json frame: %w", err)
	}
	return nil
}

// Encoder writes typed events to an http.ResponseWriter as SSE frames,
// flushing after each one so a slow translator cannot let the client stall
// waiting for a batch that never fills.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

// NewEncoder wraps w. It returns an error if w does not support flushing
// (the transport cannot do streaming at all).
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	return &Encoder{w: w, flusher: flusher}, nil
}

// Failed reports whether a previous Encode observed a write failure
// (typically the client disconnected); callers should stop driving the
// translator once this is true.
func (e *Encoder) Failed() bool {
	return e.failed
}

// Encode writes one SSE frame: "event: <name>\ndata: <compact json>\n\n",
// as a single Write call, then flushes.
func (e *Encoder) Encode(event string, payload interface{}) error {
	if e.failed {
		return fmt.Errorf("sse: encoder already failed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s event: %w", event, err)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(body)
	buf.WriteString("\n\n")

	if _, err := e.w.Write(buf.Bytes()); err != nil {
		e.failed = true
		logrus.WithError(err).Debug("sse: client write failed, marking stream terminal")
		return err
	}
	e.flusher.Flush()
	return nil
}

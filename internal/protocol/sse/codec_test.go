package sse

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderReadsDataFrames(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\n"
	dec := NewDecoder(strings.NewReader(input))

	f1, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f1.Data))
	assert.False(t, f1.Done())

	f2, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(f2.Data))

	f3, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, f3.Done())

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	input := ": comment\nid: 5\nretry: 100\ndata: {\"ok\":true}\n\n"
	dec := NewDecoder(strings.NewReader(input))

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(f.Data))
}

func TestDecoderCapturesEventName(t *testing.T) {
	input := "event: ping\ndata: {}\n\n"
	dec := NewDecoder(strings.NewReader(input))

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", f.Event)
}

func TestDecoderTailAcrossMultipleLines(t *testing.T) {
	// Two data: lines for distinct frames, no blank line between -- the
	// decoder must not require an explicit separator to emit a frame, only
	// to reset the captured event name.
	input := "data: {\"a\":1}\ndata: {\"a\":2}\n"
	dec := NewDecoder(strings.NewReader(input))

	f1, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f1.Data))

	f2, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(f2.Data))
}

func TestDecoderMalformedJSONIsCallerConcern(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: {not json}\n\n"))
	f, err := dec.Next()
	require.NoError(t, err)

	var v map[string]any
	err = DecodeJSON(f, &v)
	assert.Error(t, err)
}

func TestEncoderWritesSingleWriteFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)

	require.NoError(t, enc.Encode("ping", map[string]string{"type": "ping"}))

	got := rec.Body.String()
	assert.Equal(t, "event: ping\ndata: {\"type\":\"ping\"}\n\n", got)
}

func TestEncoderRoundTripsThroughDecoder(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)

	type payload struct {
		Index int `json:"index"`
	}
	require.NoError(t, enc.Encode("content_block_stop", payload{Index: 3}))

	dec := NewDecoder(strings.NewReader(rec.Body.String()))
	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "content_block_stop", f.Event)

	var p payload
	require.NoError(t, DecodeJSON(f, &p))
	assert.Equal(t, 3, p.Index)
}

// flusherlessWriter implements http.ResponseWriter-compatible Write/Header
// but not http.Flusher, to exercise NewEncoder's capability check.
type flusherlessWriter struct {
	headers map[string][]string
	buf     strings.Builder
}

func (w *flusherlessWriter) Header() http.Header         { return w.headers }
func (w *flusherlessWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *flusherlessWriter) WriteHeader(int)             {}

func TestNewEncoderRequiresFlusher(t *testing.T) {
	_, err := NewEncoder(&flusherlessWriter{headers: http.Header{}})
	assert.Error(t, err)
}

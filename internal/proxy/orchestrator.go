// Package proxy implements the Proxy Orchestrator: the per-request flow
// that ties the Request/Streaming Translators and the Observation Store
// together, in both Direct (verbatim passthrough) and Translated
// (Anthropic-to-OpenAI) routing modes.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/sse"
)

// headerTrackingWriter wraps an http.ResponseWriter to record whether
// headers have already gone out, so a failure mid-stream can fall back to
// a native error event instead of a JSON error body (design step 5).
type headerTrackingWriter struct {
	http.ResponseWriter
	sent bool
}

func (h *headerTrackingWriter) WriteHeader(status int) {
	h.sent = true
	h.ResponseWriter.WriteHeader(status)
}

func (h *headerTrackingWriter) Write(b []byte) (int, error) {
	h.sent = true
	return h.ResponseWriter.Write(b)
}

func (h *headerTrackingWriter) Flush() {
	if f, ok := h.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Orchestrator drives one inbound /v1/messages request through the
// configured routing mode and records it in the Store.
type Orchestrator struct {
	Config *config.Manager
	Store  *observability.Store
	Client *http.Client
}

// NewOrchestrator builds an Orchestrator with a shared upstream HTTP client.
func NewOrchestrator(cfgMgr *config.Manager, store *observability.Store) *Orchestrator {
	return &Orchestrator{
		Config: cfgMgr,
		Store:  store,
		Client: &http.Client{},
	}
}

// InboundRequest is the parsed shape of an inbound /v1/messages call, the
// collaborator's job (HTTP framework, header extraction) already done.
type InboundRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Handle runs the full 5-step orchestration described in the design: start
// the record, dispatch by mode, finish the record, and translate any
// failure into a sanitized client-facing error. w must support
// http.Flusher for streaming requests to work; non-streaming requests
// don't need it.
func (o *Orchestrator) Handle(ctx context.Context, w http.ResponseWriter, in InboundRequest) {
	tw := &headerTrackingWriter{ResponseWriter: w}
	w = tw
	cfg := config.LoadEnvOverrides().Apply(o.Config.Get())

	masked := observability.MaskHeaders(in.Headers, nil)
	recID := o.Store.Start(observability.RequestSnapshot{
		Method: in.Method,
		Path:   in.Path,
		Body:   json.RawMessage(in.Body),
	}, masked)

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var streaming bool
	var raw map[string]interface{}
	if err := json.Unmarshal(in.Body, &raw); err == nil {
		if s, ok := raw["stream"].(bool); ok {
			streaming = s
		}
	}

	var err error
	switch cfg.Mode {
	case config.ModeDirect:
		err = o.handleDirect(reqCtx, w, in, cfg, recID, streaming)
	default:
		err = o.handleTranslated(reqCtx, w, in, cfg, recID, streaming)
	}

	if err == nil {
		return
	}

	if reqCtx.Err() == context.Canceled {
		o.handleClientDisconnect(recID)
		return
	}

	o.handleInternalError(tw, recID, err)
}

// handleClientDisconnect implements design step 4: the inbound connection
// closed mid-flight. If any chunk was already delivered the response is
// considered successfully (if partially) consumed; otherwise it's an error.
func (o *Orchestrator) handleClientDisconnect(recID string) {
	rec, ok := o.Store.Get(recID)
	if !ok {
		return
	}
	if rec.ChunksCount > 0 {
		o.Store.End(recID, observability.ResponseSnapshot{StatusCode: http.StatusOK})
		return
	}
	o.Store.SetError(recID, observability.ErrorDetail{Message: "client disconnected before any content was sent"})
}

// handleInternalError implements design step 5. Sanitize strips
// credential-shaped substrings before the message reaches the client or the
// record.
func (o *Orchestrator) handleInternalError(w *headerTrackingWriter, recID string, cause error) {
	msg := Sanitize(cause.Error())
	o.Store.SetError(recID, observability.ErrorDetail{Message: msg})

	status := http.StatusBadGateway
	if err, ok := cause.(*upstreamError); ok && err.status != 0 {
		status = err.status
	}

	logrus.WithError(cause).WithField("record_id", recID).Warn("proxy: request failed")

	errPayload := anthropic.ErrorPayload{
		Type: "error",
		Error: anthropic.ErrorDetail{
			Type:    "api_error",
			Message: msg,
		},
	}

	if w.sent {
		// Headers (and likely some SSE frames) already went out; the only
		// honest way to report failure now is a native error event on the
		// same stream, not a fresh JSON body.
		if enc, err := sse.NewEncoder(w.ResponseWriter); err == nil {
			_ = enc.Encode(anthropic.EventError, errPayload)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errPayload)
}

// upstreamError carries the upstream's HTTP status alongside a Go error so
// handleInternalError can mirror it back to the client.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.status, e.body)
}

func readUpstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &upstreamError{status: resp.StatusCode, body: string(body)}
}

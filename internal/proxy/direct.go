package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/sse"
)

// forwardedHeaders are the inbound headers carried through verbatim to an
// Anthropic-compatible upstream in Direct mode.
var forwardedHeaders = []string{
	"x-api-key", "authorization", "anthropic-version", "anthropic-beta",
	"user-agent",
}

// handleDirect implements §4.5 step 2's Direct-mode branch: forward the
// request bytes and selected headers unchanged, stream (or buffer) the
// upstream's response back to the client, and reconstruct a merged-content
// summary from the outgoing SSE frames.
func (o *Orchestrator) handleDirect(ctx context.Context, w http.ResponseWriter, in InboundRequest, cfg config.Config, recID string, streaming bool) error {
	target := strings.TrimRight(cfg.AnthropicBaseURL, "/") + in.Path

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(in.Body))
	if err != nil {
		return err
	}
	upReq.Header.Set("content-type", "application/json")
	if upReq.Header.Get("anthropic-version") == "" {
		upReq.Header.Set("anthropic-version", "2023-06-01")
	}
	for _, h := range forwardedHeaders {
		if v, ok := in.Headers[h]; ok {
			upReq.Header.Set(h, v)
		}
	}

	resp, err := o.Client.Do(upReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readUpstreamError(resp)
	}

	if !streaming {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(body)

		merged, usage := mergedFromReply(body)
		o.Store.SetMerged(recID, merged, usage.InputTokens, usage.OutputTokens)
		o.Store.End(recID, observability.ResponseSnapshot{StatusCode: resp.StatusCode, Body: body})
		return nil
	}

	enc, err := sse.NewEncoder(w)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	dec := sse.NewDecoder(resp.Body)
	var textBuf, thinkingBuf strings.Builder
	toolCalls := 0
	var finalUsage anthropic.Usage
	var sawUsage bool

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		o.Store.AddChunk(recID, frame.Data)
		if enc.Failed() {
			break
		}
		if err := forwardFrame(enc, frame); err != nil {
			logrus.WithError(err).Debug("proxy: direct stream forward failed")
		}

		switch frame.Event {
		case anthropic.EventContentBlockDelta:
			var payload anthropic.ContentBlockDeltaPayload
			if err := sse.DecodeJSON(frame, &payload); err == nil {
				switch payload.Delta.Type {
				case anthropic.DeltaText:
					textBuf.WriteString(payload.Delta.Text)
				case anthropic.DeltaThinking:
					thinkingBuf.WriteString(payload.Delta.Thinking)
				}
			}
		case anthropic.EventContentBlockStart:
			var payload anthropic.ContentBlockStartPayload
			if err := sse.DecodeJSON(frame, &payload); err == nil && payload.ContentBlock.Type == anthropic.BlockToolUse {
				toolCalls++
			}
		case anthropic.EventMessageDelta:
			var payload anthropic.MessageDeltaPayload
			if err := sse.DecodeJSON(frame, &payload); err == nil {
				finalUsage.OutputTokens = payload.Usage.OutputTokens
				sawUsage = true
			}
		case anthropic.EventMessageStop:
			merged := observability.MergedContent{
				Text:      textBuf.String(),
				ToolCalls: toolCalls,
				Final:     true,
			}
			var inputTokens int64
			if sawUsage {
				inputTokens = finalUsage.InputTokens
			}
			o.Store.SetMerged(recID, merged, inputTokens, finalUsage.OutputTokens)
		}
	}

	o.Store.End(recID, observability.ResponseSnapshot{StatusCode: resp.StatusCode})
	return nil
}

// forwardFrame re-emits a decoded upstream SSE frame byte-for-byte; Direct
// mode does no translation, only pass-through plus observation.
func forwardFrame(enc *sse.Encoder, frame sse.Frame) error {
	var raw json.RawMessage = frame.Data
	return enc.Encode(frame.Event, raw)
}

func mergedFromReply(body []byte) (observability.MergedContent, anthropic.Usage) {
	var reply anthropic.Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return observability.MergedContent{Final: true}, anthropic.Usage{}
	}
	text := ""
	toolCalls := 0
	for _, b := range reply.Content {
		switch b.Type {
		case anthropic.BlockText:
			text += b.Text
		case anthropic.BlockToolUse:
			toolCalls++
		}
	}
	return observability.MergedContent{Text: text, ToolCalls: toolCalls, Final: true}, reply.Usage
}

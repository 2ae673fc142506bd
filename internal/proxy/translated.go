package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/sse"
	"github.com/kingoliang/anthropic-proxy/internal/translate"
)

// handleTranslated implements §4.5 step 2's Translated-mode branch: rewrite
// the native request with the Request Translator, dispatch to OpenRouter,
// and drive either the Streaming Translator or the non-streaming reply
// converter depending on the request's own stream flag.
func (o *Orchestrator) handleTranslated(ctx context.Context, w http.ResponseWriter, in InboundRequest, cfg config.Config, recID string, streaming bool) error {
	var nativeReq anthropic.Request
	if err := json.Unmarshal(in.Body, &nativeReq); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	opts := translate.RequestOptions{
		ModelMapping: cfg.ModelMapping,
		DefaultModel: cfg.DefaultModel,
	}
	if len(cfg.BlockedTools) > 0 {
		opts.BlockedTools = make(map[string]bool, len(cfg.BlockedTools))
		for _, name := range cfg.BlockedTools {
			opts.BlockedTools[name] = true
		}
	}

	foreignReq := translate.ToOpenAIRequest(&nativeReq, opts)
	foreignReq.Stream = streaming

	body, err := json.Marshal(foreignReq)
	if err != nil {
		return err
	}

	target := strings.TrimRight(cfg.OpenRouterBaseURL, "/") + "/chat/completions"
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Authorization", "Bearer "+os.Getenv("OPENROUTER_API_KEY"))

	resp, err := o.Client.Do(upReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readUpstreamError(resp)
	}

	messageID := "msg_" + recID
	if !streaming {
		return o.handleTranslatedNonStream(resp, w, recID, foreignReq.Model)
	}
	return o.handleTranslatedStream(resp, w, recID, messageID, foreignReq.Model, cfg)
}

func (o *Orchestrator) handleTranslatedNonStream(resp *http.Response, w http.ResponseWriter, recID, model string) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var completion openai.Completion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return fmt.Errorf("decoding upstream completion: %w", err)
	}

	reply := translate.ToAnthropicReply(&completion, model)
	out, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)

	merged := observability.MergedContent{Final: true}
	for _, b := range reply.Content {
		switch b.Type {
		case anthropic.BlockText:
			merged.Text += b.Text
		case anthropic.BlockToolUse:
			merged.ToolCalls++
		}
	}
	o.Store.SetMerged(recID, merged, reply.Usage.InputTokens, reply.Usage.OutputTokens)
	o.Store.End(recID, observability.ResponseSnapshot{StatusCode: http.StatusOK, Body: out})
	return nil
}

// storeSink adapts the Observation Store's per-chunk recording into the
// same EventSink interface the Streaming Translator writes through,
// wrapping a real sse.Encoder so each native event is both recorded and
// sent to the client.
type storeSink struct {
	store *observability.Store
	recID string
	enc   *sse.Encoder
}

func (s storeSink) Encode(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err == nil {
		s.store.AddChunk(s.recID, data)
	}
	return s.enc.Encode(event, payload)
}

func (o *Orchestrator) handleTranslatedStream(resp *http.Response, w http.ResponseWriter, recID, messageID, model string, cfg config.Config) error {
	enc, err := sse.NewEncoder(w)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	state := translate.NewStreamState(storeSink{store: o.Store, recID: recID, enc: enc}, messageID, model)
	state.DisableTokenFallback = !cfg.TokenFallback

	dec := sse.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if frame.Done() {
			break
		}
		if enc.Failed() {
			break
		}

		var chunk openai.StreamChunk
		if err := sse.DecodeJSON(frame, &chunk); err != nil {
			continue
		}
		if err := state.HandleChunk(chunk); err != nil {
			return err
		}
	}

	summary := state.Finish()
	merged := observability.MergedContent{
		Text:      summary.Text,
		ToolCalls: summary.ToolCalls,
		Final:     true,
	}
	o.Store.SetMerged(recID, merged, summary.InputTokens, summary.OutputTokens)
	o.Store.End(recID, observability.ResponseSnapshot{StatusCode: http.StatusOK})
	return nil
}

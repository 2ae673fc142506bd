package translate

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
)

// EventSink receives the native SSE events a StreamState produces. It is
// satisfied by *sse.Encoder in production and by a plain recorder in tests.
type EventSink interface {
	Encode(event string, payload interface{}) error
}

// toolState is the per-index bookkeeping for one tool call being assembled
// from streamed deltas.
type toolState struct {
	id   string
	name string
	args string
}

// Summary is the terminal accounting handed back to the Proxy Orchestrator
// once a stream finishes, for populating the observation record.
type Summary struct {
	MessageID    string
	Text         string
	Thinking     string
	ToolCalls    int
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// StreamState is the Streaming Translator's state machine: one instance
// handles exactly one request's foreign delta stream and emits the native
// event sequence through sink.
type StreamState struct {
	sink      EventSink
	messageID string
	model     string

	// DisableTokenFallback, when true, makes a missing
	// usage.completion_tokens report output_tokens:0 instead of the
	// whitespace-token approximation.
	DisableTokenFallback bool

	started     bool
	textStarted bool
	sawToolCall bool
	toolOrder   []int
	tools       map[int]*toolState
	textBuf     strings.Builder
	thinkingBuf strings.Builder
	usage       *openai.Usage
	lastFinish  string
}

// NewStreamState creates a translator for one request. messageID should be
// synthesized by the caller if the upstream never supplies one.
func NewStreamState(sink EventSink, messageID, model string) *StreamState {
	return &StreamState{
		sink:      sink,
		messageID: messageID,
		model:     model,
		tools:     make(map[int]*toolState),
	}
}

// HandleChunk processes one foreign delta frame. err is non-nil only for an
// error frame observed before the preamble was ever emitted — the caller
// should abort the whole request in that case rather than try to emit a
// half-open stream.
func (s *StreamState) HandleChunk(chunk openai.StreamChunk) error {
	if chunk.Error != nil {
		return s.handleError(*chunk.Error)
	}

	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	hasContent := delta.Content != "" || delta.Reasoning != "" || len(delta.ToolCalls) > 0
	if hasContent && !s.started {
		s.start()
	}

	if delta.Content != "" {
		s.emitTextDelta(delta.Content)
	}
	if delta.Reasoning != "" {
		s.emitThinkingDelta(delta.Reasoning)
	}
	for _, tc := range delta.ToolCalls {
		s.handleToolDelta(tc)
	}

	if choice.FinishReason != "" {
		s.lastFinish = choice.FinishReason
	}

	return nil
}

func (s *StreamState) start() {
	s.sink.Encode(anthropic.EventMessageStart, anthropic.MessageStartPayload{
		Type: "message_start",
		Message: anthropic.Reply{
			ID:      s.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   s.model,
			Content: []anthropic.ContentBlock{},
			Usage:   anthropic.Usage{},
		},
	})
	s.sink.Encode(anthropic.EventPing, anthropic.PingPayload{Type: "ping"})
	s.started = true
}

func (s *StreamState) emitTextDelta(text string) {
	if !s.textStarted {
		s.sink.Encode(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
			Type:         "content_block_start",
			Index:        0,
			ContentBlock: anthropic.ContentBlock{Type: anthropic.BlockText, Text: ""},
		})
		s.textStarted = true
	}
	s.sink.Encode(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: 0,
		Delta: anthropic.Delta{Type: anthropic.DeltaText, Text: text},
	})
	s.textBuf.WriteString(text)
}

// emitThinkingDelta shares index 0 with text: whichever of the two arrives
// first opens the block, the other continues appending to it.
func (s *StreamState) emitThinkingDelta(reasoning string) {
	if !s.textStarted {
		s.sink.Encode(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
			Type:         "content_block_start",
			Index:        0,
			ContentBlock: anthropic.ContentBlock{Type: anthropic.BlockText, Text: ""},
		})
		s.textStarted = true
	}
	s.sink.Encode(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: 0,
		Delta: anthropic.Delta{Type: anthropic.DeltaThinking, Thinking: reasoning},
	})
	s.thinkingBuf.WriteString(reasoning)
}

func (s *StreamState) handleToolDelta(tc openai.ToolCall) {
	st, exists := s.tools[tc.Index]
	if !exists {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_synth_%d", tc.Index)
		}
		if tc.Function.Name == "" {
			logrus.Warn("translate: tool call opened without a name on its first frame")
		}
		st = &toolState{id: id, name: tc.Function.Name}
		s.tools[tc.Index] = st
		s.toolOrder = append(s.toolOrder, tc.Index)
		s.sawToolCall = true

		s.sink.Encode(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
			Type:  "content_block_start",
			Index: tc.Index,
			ContentBlock: anthropic.ContentBlock{
				Type:  anthropic.BlockToolUse,
				ID:    st.id,
				Name:  st.name,
				Input: []byte("{}"),
			},
		})
	}

	newArgs := tc.Function.Arguments
	switch {
	case len(newArgs) > len(st.args):
		partial := newArgs[len(st.args):]
		s.sink.Encode(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
			Type:  "content_block_delta",
			Index: tc.Index,
			Delta: anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: partial},
		})
		st.args = newArgs
	case len(newArgs) < len(st.args):
		logrus.Warn("translate: tool call arguments shrank mid-stream, discarding frame")
	}
}

func (s *StreamState) handleError(upstream openai.StreamError) error {
	if !s.started {
		return fmt.Errorf("upstream stream error before any content: %s", upstream.Message)
	}
	s.sink.Encode(anthropic.EventError, anthropic.ErrorPayload{
		Type: "error",
		Error: anthropic.ErrorDetail{
			Type:    "api_error",
			Message: upstream.Message,
		},
	})
	return nil
}

// Finish processes the [DONE] sentinel: closes every opened block, emits
// message_delta and message_stop, and returns the terminal summary.
func (s *StreamState) Finish() Summary {
	if s.textStarted {
		s.sink.Encode(anthropic.EventContentBlockStop, anthropic.ContentBlockStopPayload{
			Type: "content_block_stop", Index: 0,
		})
	}
	for _, idx := range s.toolOrder {
		if idx == 0 && s.textStarted {
			// text already owns index 0; a tool call colliding with it
			// (upstream assigned index 0 to a call when no text preceded
			// it) would be unusual but is guarded against double-stop.
			continue
		}
		s.sink.Encode(anthropic.EventContentBlockStop, anthropic.ContentBlockStopPayload{
			Type: "content_block_stop", Index: idx,
		})
	}

	stopReason := mapStopReason(s.lastFinish)
	if s.sawToolCall {
		stopReason = anthropic.StopToolUse
	}

	outputTokens := s.fallbackOutputTokens()
	s.sink.Encode(anthropic.EventMessageDelta, anthropic.MessageDeltaPayload{
		Type:  "message_delta",
		Delta: anthropic.MessageDeltaFields{StopReason: &stopReason, StopSequence: nil},
		Usage: anthropic.MessageDeltaUsage{OutputTokens: outputTokens},
	})
	s.sink.Encode(anthropic.EventMessageStop, anthropic.MessageStopPayload{Type: "message_stop"})

	var inputTokens int64
	if s.usage != nil {
		inputTokens = s.usage.PromptTokens
	}

	return Summary{
		MessageID:    s.messageID,
		Text:         s.textBuf.String(),
		Thinking:     s.thinkingBuf.String(),
		ToolCalls:    len(s.tools),
		StopReason:   stopReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
}

func (s *StreamState) fallbackOutputTokens() int64 {
	if s.usage != nil && s.usage.CompletionTokens > 0 {
		return s.usage.CompletionTokens
	}
	if s.DisableTokenFallback {
		return 0
	}
	return int64(countWhitespaceTokens(s.textBuf.String()) + countWhitespaceTokens(s.thinkingBuf.String()))
}

// countWhitespaceTokens is the documented fallback approximation: the
// number of whitespace-separated groups, not a real tokenizer count.
func countWhitespaceTokens(s string) int {
	return len(strings.Fields(s))
}

// mapStopReason converts a foreign finish_reason to a native stop_reason.
func mapStopReason(finish string) string {
	switch finish {
	case openai.FinishStop:
		return anthropic.StopEndTurn
	case openai.FinishLength:
		return anthropic.StopMaxTokens
	case openai.FinishToolCalls, openai.FinishFunctionCall:
		return anthropic.StopToolUse
	case openai.FinishContentFilter, openai.FinishSafety:
		return anthropic.StopSequenceStop
	case "":
		return anthropic.StopEndTurn
	default:
		logrus.WithField("finish_reason", finish).Warn("translate: unrecognized finish_reason, defaulting to end_turn")
		return anthropic.StopEndTurn
	}
}

package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
)

// recordingSink collects every event Encode call for assertion, mirroring
// what a real sse.Encoder would write to the wire.
type recordingSink struct {
	events []recordedEvent
}

type recordedEvent struct {
	name    string
	payload interface{}
}

func (r *recordingSink) Encode(event string, payload interface{}) error {
	r.events = append(r.events, recordedEvent{name: event, payload: payload})
	return nil
}

func (r *recordingSink) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func TestStreamStatePreambleOnlyOnFirstContent(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	// a frame carrying only usage must not trigger the preamble
	require.NoError(t, s.HandleChunk(openai.StreamChunk{Usage: &openai.Usage{PromptTokens: 5}}))
	assert.Empty(t, sink.events)

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "hi"}}},
	}))
	assert.Equal(t, []string{
		anthropic.EventMessageStart,
		anthropic.EventPing,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockDelta,
	}, sink.names())
}

func TestStreamStateTextAccumulationAndTermination(t *testing.T) {
	// S1-style: pure text stream
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "Hello "}}},
	}))
	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "world"}, FinishReason: "stop"}},
	}))

	summary := s.Finish()
	assert.Equal(t, "Hello world", summary.Text)
	assert.Equal(t, anthropic.StopEndTurn, summary.StopReason)

	names := sink.names()
	assert.Equal(t, anthropic.EventContentBlockStop, names[len(names)-3])
	assert.Equal(t, anthropic.EventMessageDelta, names[len(names)-2])
	assert.Equal(t, anthropic.EventMessageStop, names[len(names)-1])
}

func TestStreamStateInterleavedTextAndTool(t *testing.T) {
	// S3
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "A"}}},
	}))
	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCall{
			{Index: 1, ID: "call_1", Function: openai.ToolCallFunc{Name: "f", Arguments: "{}"}},
		}}}},
	}))
	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "B"}, FinishReason: "tool_calls"}},
	}))

	summary := s.Finish()
	assert.Equal(t, anthropic.StopToolUse, summary.StopReason)

	var stopIndices []int
	for _, e := range sink.events {
		if e.name == anthropic.EventContentBlockStop {
			stopIndices = append(stopIndices, e.payload.(anthropic.ContentBlockStopPayload).Index)
		}
	}
	assert.ElementsMatch(t, []int{0, 1}, stopIndices)
}

func TestStreamStateToolCallArgumentDiffing(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCall{
			{Index: 0, ID: "call_1", Function: openai.ToolCallFunc{Name: "get_weather", Arguments: `{"city":`}},
		}}}},
	}))
	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCall{
			{Index: 0, Function: openai.ToolCallFunc{Arguments: `{"city":"nyc"}`}},
		}}}},
	}))

	var partials []string
	for _, e := range sink.events {
		if e.name == anthropic.EventContentBlockDelta {
			d := e.payload.(anthropic.ContentBlockDeltaPayload)
			if d.Delta.Type == anthropic.DeltaInputJSON {
				partials = append(partials, d.Delta.PartialJSON)
			}
		}
	}
	require.Len(t, partials, 2)
	assert.Equal(t, `{"city":`, partials[0])
	assert.Equal(t, `"nyc"}`, partials[1])
}

func TestStreamStateReasoningSharesIndexZeroWithText(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Reasoning: "thinking..."}}},
	}))
	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "answer"}, FinishReason: "stop"}},
	}))

	starts := 0
	for _, e := range sink.events {
		if e.name == anthropic.EventContentBlockStart {
			starts++
		}
	}
	assert.Equal(t, 1, starts)

	summary := s.Finish()
	assert.Equal(t, "thinking...", summary.Thinking)
	assert.Equal(t, "answer", summary.Text)
}

func TestStreamStateFallbackTokenCountWhenUsageAbsent(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "one two three"}, FinishReason: "stop"}},
	}))
	summary := s.Finish()
	assert.Equal(t, int64(3), summary.OutputTokens)
}

func TestStreamStateDisableTokenFallback(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")
	s.DisableTokenFallback = true

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "one two three"}, FinishReason: "stop"}},
	}))
	summary := s.Finish()
	assert.Equal(t, int64(0), summary.OutputTokens)
}

func TestStreamStateUsageReportedWins(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "one two three"}, FinishReason: "stop"}},
		Usage:   &openai.Usage{CompletionTokens: 42},
	}))
	summary := s.Finish()
	assert.Equal(t, int64(42), summary.OutputTokens)
}

func TestStreamStateErrorBeforeStartAborts(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	err := s.HandleChunk(openai.StreamChunk{Error: &openai.StreamError{Message: "boom"}})
	assert.Error(t, err)
	assert.Empty(t, sink.events)
}

func TestStreamStateErrorAfterStartEmitsErrorEvent(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamState(sink, "msg_1", "prov/model")

	require.NoError(t, s.HandleChunk(openai.StreamChunk{
		Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: "partial"}}},
	}))
	err := s.HandleChunk(openai.StreamChunk{Error: &openai.StreamError{Message: "upstream died"}})
	require.NoError(t, err)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, anthropic.EventError, last.name)
}

func TestMapStopReasonTable(t *testing.T) {
	cases := map[string]string{
		"stop":           anthropic.StopEndTurn,
		"length":         anthropic.StopMaxTokens,
		"tool_calls":     anthropic.StopToolUse,
		"function_call":  anthropic.StopToolUse,
		"content_filter": anthropic.StopSequenceStop,
		"safety":         anthropic.StopSequenceStop,
		"":               anthropic.StopEndTurn,
		"bogus":          anthropic.StopEndTurn,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStopReason(in), "finish_reason=%q", in)
	}
}

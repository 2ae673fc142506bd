// Package openai defines the foreign chat-completions wire types: the
// request shape sent to OpenRouter and the delta/non-streamed reply shapes
// read back from it.
package openai

import "encoding/json"

// Message is one entry of Request.Messages.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a single function invocation, either fully materialized (on a
// request message) or accumulated from streamed deltas.
type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc is the function payload of a ToolCall: Name on the opening
// delta, Arguments as a cumulative (not incremental) JSON string.
type ToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool is a single function tool definition sent upstream.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function schema nested in a Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is the foreign chat-completions request sent upstream.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
}

// Usage reports token accounting on both streamed and non-streamed replies.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Delta is the incremental content of one streamed choice. Reasoning is an
// OpenRouter extension (not part of the stock OpenAI wire format) carrying
// a model's "thinking" trace.
type Delta struct {
	Content   string     `json:"content,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChoice is one element of a StreamChunk's Choices.
type StreamChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamChunk is one "data:" frame of the foreign delta stream.
type StreamChunk struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`

	// Error is non-nil when the upstream embeds an error object in the SSE
	// body rather than using the HTTP status line (some OpenRouter
	// failures are reported this way mid-stream).
	Error *StreamError `json:"error,omitempty"`
}

// StreamError is an upstream error embedded in a stream frame.
type StreamError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CompletionChoice is one element of a non-streamed Completion's Choices.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Completion is a complete, non-streamed foreign chat-completions reply.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// Finish reason values.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishFunctionCall  = "function_call"
	FinishContentFilter = "content_filter"
	FinishSafety        = "safety"
)

// DoneSentinel is the literal payload that terminates a foreign delta
// stream; it is never itself valid JSON. The SSE decoder returns it as an
// ordinary frame, so readers must check for it (sse.Frame.Done) before
// attempting to unmarshal it.
const DoneSentinel = "[DONE]"

// Package anthropic defines the native Messages wire types: the request and
// reply shapes the client speaks, and the SSE event grammar used to stream a
// reply back. Content blocks and stream events are modeled as tagged sums
// with an explicit Type discriminator, dispatched on by every consumer,
// rather than duck-typed maps.
package anthropic

import "encoding/json"

// Request is an inbound native Messages request.
type Request struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	Tools         []Tool          `json:"tools,omitempty"`
	MaxTokens     int64           `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// SystemBlock is one element of a multi-block system prompt.
type SystemBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// Message is one entry of Request.Messages. Content is either a plain string
// or an ordered list of ContentBlock; RawContent carries whichever the
// client sent, decoded lazily by Blocks().
type Message struct {
	Role       string          `json:"role"`
	RawContent json.RawMessage `json:"content"`
}

// Text returns m.RawContent interpreted as a bare string, with ok=false if
// it is not one.
func (m Message) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(m.RawContent, &s); err != nil {
		return "", false
	}
	return s, true
}

// Blocks returns m.RawContent interpreted as an ordered content block list,
// with ok=false if it is a bare string instead.
func (m Message) Blocks() ([]ContentBlock, bool) {
	var blocks []ContentBlock
	if err := json.Unmarshal(m.RawContent, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// Block type discriminators.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ContentBlock is a polymorphic message content entry. Only the fields
// relevant to Type are populated; consumers must dispatch on Type before
// reading any other field.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ResultText returns the textual content of a tool_result block, following
// the content-or-text fallback the request translator uses: a bare string
// in Content, the concatenated "text" fields of a block array in Content, or
// the literal Text field.
func (b ContentBlock) ResultText() (string, bool) {
	if b.Text != "" {
		return b.Text, true
	}
	if len(b.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s, true
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		out := ""
		for _, blk := range blocks {
			out += blk.Text
		}
		return out, out != ""
	}
	return "", false
}

// Tool is an entry of Request.Tools, the input_schema already in native
// JSON-schema form.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Usage reports token accounting, carried on both the full Reply and the
// streaming message_delta event.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Reply is a complete, non-streamed native Messages reply.
type Reply struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Stop reason values.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopSequenceStop = "stop_sequence"
)

// --- SSE event grammar (§3.1) ---

// Event type names, used as the SSE "event:" field.
const (
	EventMessageStart      = "message_start"
	EventPing              = "ping"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// MessageStartPayload is the "data:" payload of a message_start event. The
// embedded Reply is the skeletal message that opens a stream: empty
// content, zeroed usage, nil stop fields, filled in incrementally by the
// events that follow.
type MessageStartPayload struct {
	Type    string `json:"type"`
	Message Reply  `json:"message"`
}

// PingPayload is the (empty) payload of a ping event.
type PingPayload struct {
	Type string `json:"type"`
}

// ContentBlockStartPayload opens a content block at Index.
type ContentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// Delta variant type discriminators.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
)

// Delta is a polymorphic content_block_delta payload.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
}

// ContentBlockDeltaPayload carries one Delta for the block at Index.
type ContentBlockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// ContentBlockStopPayload closes the block at Index.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaFields is the top-level delta carried by message_delta:
// everything about the reply that is only known at the end.
type MessageDeltaFields struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaUsage is the partial usage object on message_delta: only
// output_tokens is known at this point in the stream.
type MessageDeltaUsage struct {
	OutputTokens int64 `json:"output_tokens"`
}

// MessageDeltaPayload is the data: payload of a message_delta event.
type MessageDeltaPayload struct {
	Type  string             `json:"type"`
	Delta MessageDeltaFields `json:"delta"`
	Usage MessageDeltaUsage  `json:"usage"`
}

// MessageStopPayload is the (empty) payload of a message_stop event.
type MessageStopPayload struct {
	Type string `json:"type"`
}

// ErrorDetail is the nested error object of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorPayload is the data: payload of an error event.
type ErrorPayload struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// Package translate implements the Request Translator and Streaming
// Translator: converting a native Anthropic Messages request into a foreign
// OpenAI chat-completions request, and converting the foreign reply (streamed
// or not) back into the native shape.
package translate

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
)

// defaultBlockedTools are dropped from the tool list sent upstream; the
// batch tool has no sane single-call translation and is excluded unless the
// caller overrides the set.
var defaultBlockedTools = map[string]bool{
	"BatchTool": true,
}

// ModelMapping resolves a native model family name to a configured upstream
// model string. Keys are the lower-cased family substrings ("sonnet",
// "opus", "haiku") matched against the input model name.
type ModelMapping map[string]string

// RequestOptions configures the Request Translator's behavior beyond the
// request body itself.
type RequestOptions struct {
	// ModelMapping maps family substrings to upstream model identifiers.
	ModelMapping ModelMapping
	// DefaultModel is used when the input model is empty and no family
	// substring matches.
	DefaultModel string
	// BlockedTools overrides defaultBlockedTools when non-nil.
	BlockedTools map[string]bool
}

// ToOpenAIRequest converts a native Messages request into a foreign chat
// request per the translation algorithm.
func ToOpenAIRequest(req *anthropic.Request, opts RequestOptions) *openai.Request {
	out := &openai.Request{
		Model:       mapModel(req.Model, opts),
		Temperature: 1,
		Stream:      req.Stream,
	}

	out.Messages = append(out.Messages, systemMessages(req.System)...)

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, translateMessage(m)...)
	}

	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = req.TopP
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	out.Tools = translateTools(req.Tools, blockedSet(opts))

	return out
}

func blockedSet(opts RequestOptions) map[string]bool {
	if opts.BlockedTools != nil {
		return opts.BlockedTools
	}
	return defaultBlockedTools
}

// systemMessages expands req.System (a bare string or a block sequence) into
// zero or more leading system messages.
func systemMessages(raw json.RawMessage) []openai.Message {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []openai.Message{{Role: "system", Content: s}}
	}

	var blocks []anthropic.SystemBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		logrus.WithError(err).Warn("translate: system field is neither a string nor a block sequence, dropping")
		return nil
	}

	var out []openai.Message
	for _, b := range blocks {
		text := b.Text
		if text == "" {
			text = b.Content
		}
		if text == "" {
			continue
		}
		out = append(out, openai.Message{Role: "system", Content: text})
	}
	return out
}

// translateMessage expands one native message into its foreign equivalents:
// the main message (if it carries content or tool calls) followed by one
// role:"tool" message per tool_result block.
func translateMessage(m anthropic.Message) []openai.Message {
	var out []openai.Message

	if text, ok := m.Text(); ok {
		if text != "" {
			out = append(out, openai.Message{Role: m.Role, Content: text})
		}
		return out
	}

	blocks, ok := m.Blocks()
	if !ok {
		return out
	}

	var toolCalls []openai.ToolCall
	var toolResults []openai.Message
	var textParts []string

	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockText:
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case anthropic.BlockToolUse:
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openai.ToolCallFunc{
					Name:      b.Name,
					Arguments: args,
				},
			})
		case anthropic.BlockToolResult:
			if b.ToolUseID == "" {
				logrus.Warn("translate: tool_result missing tool_use_id, dropping")
				continue
			}
			text, _ := b.ResultText()
			toolResults = append(toolResults, openai.Message{
				Role:       "tool",
				Content:    text,
				ToolCallID: b.ToolUseID,
			})
		}
	}

	content := strings.Join(textParts, " ")
	if content != "" || len(toolCalls) > 0 {
		out = append(out, openai.Message{
			Role:      m.Role,
			Content:   content,
			ToolCalls: toolCalls,
		})
	}

	out = append(out, toolResults...)
	return out
}

// translateTools converts native tool definitions to the foreign function
// shape, dropping blocked tools and cleaning each input schema.
func translateTools(tools []anthropic.Tool, blocked map[string]bool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	var out []openai.Tool
	for _, t := range tools {
		if blocked[t.Name] {
			continue
		}
		out = append(out, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  cleanSchema(t.InputSchema),
			},
		})
	}
	return out
}

// maxSchemaDepth bounds cleanSchema's recursion so a cyclic or pathologically
// deep schema cannot blow the stack; beyond it the subtree is returned
// unchanged.
const maxSchemaDepth = 64

// cleanSchema walks a JSON schema tree and drops `format:"uri"` from any
// string-typed node, since the upstream's function-calling validator
// rejects that combination. Every other key is preserved untouched.
// Recursion stops at maxSchemaDepth, so a pathologically deep schema cannot
// exhaust the stack.
func cleanSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var node interface{}
	if err := json.Unmarshal(raw, &node); err != nil {
		return raw
	}

	cleaned := cleanNode(node, 0)

	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

// cleanNode dispatches on the decoded JSON shape. depth is the only cycle
// guard: a decoded JSON tree from encoding/json has no back edges (it is
// always a DAG rooted at node), so depth alone is sufficient to bound
// pathologically deep or wide schemas without tracking visited pointers.
func cleanNode(node interface{}, depth int) interface{} {
	if depth >= maxSchemaDepth {
		return node
	}

	switch v := node.(type) {
	case map[string]interface{}:
		return cleanObject(v, depth)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = cleanNode(elem, depth+1)
		}
		return out
	default:
		return node
	}
}

func cleanObject(obj map[string]interface{}, depth int) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	if t, _ := out["type"].(string); t == "string" {
		if f, _ := out["format"].(string); f == "uri" {
			delete(out, "format")
		}
	}

	if props, ok := out["properties"].(map[string]interface{}); ok {
		cleaned := make(map[string]interface{}, len(props))
		for k, v := range props {
			cleaned[k] = cleanNode(v, depth+1)
		}
		out["properties"] = cleaned
	}

	if items, ok := out["items"]; ok {
		out["items"] = cleanNode(items, depth+1)
	}

	if ap, ok := out["additionalProperties"]; ok {
		if _, isBool := ap.(bool); !isBool {
			out["additionalProperties"] = cleanNode(ap, depth+1)
		}
	}

	for _, key := range []string{"anyOf", "allOf", "oneOf"} {
		if list, ok := out[key].([]interface{}); ok {
			out[key] = cleanNode(list, depth+1)
		}
	}

	return out
}

// mapModel resolves req.Model to an upstream model name: an empty model
// takes the configured default, a family substring match takes its mapped
// model, and any other name passes through unchanged.
func mapModel(model string, opts RequestOptions) string {
	if model == "" {
		return opts.DefaultModel
	}

	lower := strings.ToLower(model)
	for _, family := range []string{"sonnet", "opus", "haiku"} {
		if strings.Contains(lower, family) {
			if mapped, ok := opts.ModelMapping[family]; ok && mapped != "" {
				return mapped
			}
		}
	}
	return model
}

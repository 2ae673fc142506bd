package translate

import (
	"encoding/json"
	"strings"

	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
)

// ToAnthropicReply converts a complete, non-streamed foreign chat completion
// into a native reply, per §4.3's non-streaming translation rule.
func ToAnthropicReply(completion *openai.Completion, model string) *anthropic.Reply {
	var content []anthropic.ContentBlock

	var choice openai.CompletionChoice
	if len(completion.Choices) > 0 {
		choice = completion.Choices[0]
	}

	if text := strings.TrimSpace(choice.Message.Content); text != "" {
		content = append(content, anthropic.ContentBlock{
			Type: anthropic.BlockText,
			Text: choice.Message.Content,
		})
	}

	sawToolCall := false
	for _, tc := range choice.Message.ToolCalls {
		sawToolCall = true
		var input json.RawMessage
		if tc.Function.Arguments != "" {
			input = json.RawMessage(tc.Function.Arguments)
		} else {
			input = json.RawMessage("{}")
		}
		content = append(content, anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	if content == nil {
		content = []anthropic.ContentBlock{}
	}

	stopReason := mapStopReason(choice.FinishReason)
	if sawToolCall {
		stopReason = anthropic.StopToolUse
	}

	return &anthropic.Reply{
		ID:         deriveMessageID(completion.ID),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: &stopReason,
		Usage: anthropic.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
}

// deriveMessageID rewrites a foreign completion id's "chatcmpl" prefix to
// "msg", or synthesizes one if absent.
func deriveMessageID(foreignID string) string {
	if foreignID == "" {
		return "msg_" + randomSuffix()
	}
	if strings.HasPrefix(foreignID, "chatcmpl") {
		return "msg" + strings.TrimPrefix(foreignID, "chatcmpl")
	}
	return foreignID
}

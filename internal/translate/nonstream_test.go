package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/openai"
)

func TestToAnthropicReplyTextOnly(t *testing.T) {
	completion := &openai.Completion{
		ID: "chatcmpl-abc123",
		Choices: []openai.CompletionChoice{
			{Message: openai.Message{Role: "assistant", Content: "hello there"}, FinishReason: "stop"},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 2},
	}

	reply := ToAnthropicReply(completion, "prov/model")
	require.Len(t, reply.Content, 1)
	assert.Equal(t, anthropic.BlockText, reply.Content[0].Type)
	assert.Equal(t, "hello there", reply.Content[0].Text)
	assert.Equal(t, "msg-abc123", reply.ID)
	require.NotNil(t, reply.StopReason)
	assert.Equal(t, anthropic.StopEndTurn, *reply.StopReason)
	assert.Equal(t, int64(10), reply.Usage.InputTokens)
	assert.Equal(t, int64(2), reply.Usage.OutputTokens)
}

func TestToAnthropicReplyToolCallsOverrideStopReason(t *testing.T) {
	completion := &openai.Completion{
		ID: "chatcmpl-xyz",
		Choices: []openai.CompletionChoice{
			{
				Message: openai.Message{
					Role: "assistant",
					ToolCalls: []openai.ToolCall{
						{ID: "call_1", Function: openai.ToolCallFunc{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
					},
				},
				FinishReason: "stop",
			},
		},
	}

	reply := ToAnthropicReply(completion, "prov/model")
	require.Len(t, reply.Content, 1)
	assert.Equal(t, anthropic.BlockToolUse, reply.Content[0].Type)
	assert.Equal(t, "get_weather", reply.Content[0].Name)
	require.NotNil(t, reply.StopReason)
	assert.Equal(t, anthropic.StopToolUse, *reply.StopReason)
}

func TestToAnthropicReplyEmptyTextOmitsBlock(t *testing.T) {
	completion := &openai.Completion{
		ID:      "chatcmpl-1",
		Choices: []openai.CompletionChoice{{Message: openai.Message{Content: "   "}, FinishReason: "stop"}},
	}
	reply := ToAnthropicReply(completion, "prov/model")
	assert.Empty(t, reply.Content)
}

func TestDeriveMessageID(t *testing.T) {
	assert.Equal(t, "msg-123", deriveMessageID("chatcmpl-123"))
	assert.Equal(t, "custom-id", deriveMessageID("custom-id"))
	assert.NotEmpty(t, deriveMessageID(""))
}

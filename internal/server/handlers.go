package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tiktoken-go/tokenizer"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
	"github.com/kingoliang/anthropic-proxy/internal/proxy"
)

// messages is the core proxy entry point: POST /v1/messages.
func (s *Server) messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", "failed to read request body"))
		return
	}

	s.orchestrator.Handle(c.Request.Context(), c.Writer, proxy.InboundRequest{
		Method:  c.Request.Method,
		Path:    c.Request.URL.Path,
		Headers: flattenHeaders(c.Request.Header),
		Body:    body,
	})
}

// countTokens implements POST /v1/messages/count_tokens. Direct mode
// forwards to the upstream's real endpoint; Translated mode has no
// Anthropic-compatible count_tokens to call, so it estimates locally.
func (s *Server) countTokens(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", "failed to read request body"))
		return
	}

	cfg := s.config.Get()
	if cfg.Mode == config.ModeDirect {
		s.orchestrator.Handle(c.Request.Context(), c.Writer, proxy.InboundRequest{
			Method:  c.Request.Method,
			Path:    c.Request.URL.Path,
			Headers: flattenHeaders(c.Request.Header),
			Body:    body,
		})
		return
	}

	var req anthropic.Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", "malformed request body"))
		return
	}

	count, err := countTokensWithTiktoken(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("api_error", "token counting failed: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": count})
}

// countTokensWithTiktoken approximates token count over the flattened
// system prompt and message text using the cl100k-family encoding, the
// closest local stand-in available when no real upstream count_tokens
// endpoint exists.
func countTokensWithTiktoken(req anthropic.Request) (int, error) {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return 0, err
	}

	var sb strings.Builder
	if s, ok := systemAsText(req.System); ok {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	for _, m := range req.Messages {
		if text, ok := m.Text(); ok {
			sb.WriteString(text)
			sb.WriteString("\n")
			continue
		}
		if blocks, ok := m.Blocks(); ok {
			for _, b := range blocks {
				if b.Type == anthropic.BlockText {
					sb.WriteString(b.Text)
					sb.WriteString("\n")
				}
			}
		}
	}

	ids, _, err := enc.Encode(sb.String())
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func systemAsText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var blocks []anthropic.SystemBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Text != "" {
				sb.WriteString(b.Text)
			} else {
				sb.WriteString(b.Content)
			}
			sb.WriteString("\n")
		}
		return sb.String(), true
	}
	return "", false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func errorBody(errType, message string) gin.H {
	return gin.H{"error": gin.H{"type": errType, "message": message}}
}

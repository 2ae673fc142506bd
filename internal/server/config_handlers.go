package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kingoliang/anthropic-proxy/internal/config"
)

// configGet implements GET /api/config: the full persisted configuration,
// no secrets included since none are ever stored on Config.
func (s *Server) configGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.config.Get())
}

// configUpdatePayload is the subset of config.Config a client may modify
// through the API; Store is intentionally omitted here since the store's
// capacity can't be changed once the process has started.
type configUpdatePayload struct {
	Mode                  *config.Mode      `json:"mode"`
	AnthropicBaseURL      *string           `json:"anthropic_base_url"`
	OpenRouterBaseURL     *string           `json:"openrouter_base_url"`
	ModelMapping          map[string]string `json:"model_mapping"`
	DefaultModel          *string           `json:"default_model"`
	BlockedTools          []string          `json:"blocked_tools"`
	RequestTimeoutSeconds *int              `json:"request_timeout_seconds"`
	BindAddress           *string           `json:"bind_address"`
	LogLevel              *string           `json:"log_level"`
	TokenFallback         *bool             `json:"token_fallback"`
}

// configUpdate implements PUT /api/config.
func (s *Server) configUpdate(c *gin.Context) {
	var payload configUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", err.Error()))
		return
	}

	err := s.config.Update(func(cfg *config.Config) {
		if payload.Mode != nil {
			cfg.Mode = *payload.Mode
		}
		if payload.AnthropicBaseURL != nil {
			cfg.AnthropicBaseURL = *payload.AnthropicBaseURL
		}
		if payload.OpenRouterBaseURL != nil {
			cfg.OpenRouterBaseURL = *payload.OpenRouterBaseURL
		}
		if payload.ModelMapping != nil {
			cfg.ModelMapping = payload.ModelMapping
		}
		if payload.DefaultModel != nil {
			cfg.DefaultModel = *payload.DefaultModel
		}
		if payload.BlockedTools != nil {
			cfg.BlockedTools = payload.BlockedTools
		}
		if payload.RequestTimeoutSeconds != nil {
			cfg.RequestTimeoutSeconds = *payload.RequestTimeoutSeconds
		}
		if payload.BindAddress != nil {
			cfg.BindAddress = *payload.BindAddress
		}
		if payload.LogLevel != nil {
			cfg.LogLevel = *payload.LogLevel
		}
		if payload.TokenFallback != nil {
			cfg.TokenFallback = *payload.TokenFallback
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("api_error", "failed to persist config: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, s.config.Get())
}

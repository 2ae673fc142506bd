// Package config manages the proxy's persisted configuration: routing
// mode, upstream base URLs, model family mapping, and monitoring bounds.
// No secrets are ever written to disk; API keys are read fresh from the
// environment on each use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mode is the routing mode: passthrough to a genuine Anthropic-compatible
// upstream, or rewritten to OpenAI chat-completions and sent to OpenRouter.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeTranslated Mode = "translated"
)

// StoreConfig bounds the in-memory Observation Store.
type StoreConfig struct {
	Capacity       int `json:"capacity"`
	RetentionHours int `json:"retention_hours"`
}

// Config is the persisted configuration shape. A Manager's mu guards its
// Config for concurrent reload via the fsnotify watcher.
type Config struct {
	Mode                  Mode              `json:"mode"`
	AnthropicBaseURL      string            `json:"anthropic_base_url"`
	OpenRouterBaseURL     string            `json:"openrouter_base_url"`
	ModelMapping          map[string]string `json:"model_mapping"`
	DefaultModel          string            `json:"default_model"`
	BlockedTools          []string          `json:"blocked_tools"`
	RequestTimeoutSeconds int               `json:"request_timeout_seconds"`
	BindAddress           string            `json:"bind_address"`
	LogLevel              string            `json:"log_level"`
	TokenFallback         bool              `json:"token_fallback"`
	Store                 StoreConfig       `json:"store"`
}

// Default returns the configuration a fresh install starts with.
func Default() *Config {
	return &Config{
		Mode:                  ModeTranslated,
		AnthropicBaseURL:      "https://api.anthropic.com",
		OpenRouterBaseURL:     "https://openrouter.ai/api/v1",
		ModelMapping:          map[string]string{},
		DefaultModel:          "",
		BlockedTools:          []string{"BatchTool"},
		RequestTimeoutSeconds: 120,
		BindAddress:           "127.0.0.1:8787",
		LogLevel:              "info",
		TokenFallback:         true,
		Store:                 StoreConfig{Capacity: 1000, RetentionHours: 24},
	}
}

// Manager owns the config file path and the in-memory Config, serializing
// reads and writes.
type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  *Config
}

// NewManager loads path if it exists, otherwise writes and returns Default().
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, cfg: Default()}

	if _, err := os.Stat(path); err == nil {
		if err := m.Load(); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
		return m, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("config: creating config dir: %w", err)
	}
	if err := m.Save(); err != nil {
		return nil, fmt.Errorf("config: writing initial config: %w", err)
	}
	return m, nil
}

// Get returns a copy of the current configuration, safe to read without
// holding any lock.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.cfg
	cp.ModelMapping = make(map[string]string, len(m.cfg.ModelMapping))
	for k, v := range m.cfg.ModelMapping {
		cp.ModelMapping[k] = v
	}
	cp.BlockedTools = append([]string(nil), m.cfg.BlockedTools...)
	return cp
}

// Update replaces the in-memory configuration and persists it.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	fn(m.cfg)
	cp := *m.cfg
	m.mu.Unlock()
	return m.save(&cp)
}

// Save persists the current in-memory configuration.
func (m *Manager) Save() error {
	m.mu.RLock()
	cp := *m.cfg
	m.mu.RUnlock()
	return m.save(&cp)
}

func (m *Manager) save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", m.path, err)
	}
	return nil
}

// Load re-reads the config file from disk into memory.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Path returns the backing file path, for the fsnotify watcher.
func (m *Manager) Path() string {
	return m.path
}

// Package factory builds llm.Adapter values by provider name. It lives
// outside llm so that llm does not import its own provider sub-packages.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/llm"
	"github.com/BaSui01/convoflow/llm/providers"
	claude "github.com/BaSui01/convoflow/llm/providers/anthropic"
	"github.com/BaSui01/convoflow/llm/providers/gemini"
	"github.com/BaSui01/convoflow/llm/providers/local"
	"github.com/BaSui01/convoflow/llm/providers/openai"
	"github.com/BaSui01/convoflow/types"
)

// ProviderConfig is the flat configuration accepted by NewAdapter.
// Provider-specific fields go in Extra.
type ProviderConfig struct {
	APIKey      string         `json:"api_key" yaml:"api_key"`
	BaseURL     string         `json:"base_url" yaml:"base_url"`
	Model       string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Temperature float32        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float32        `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type constructor func(base providers.BaseProviderConfig, extra map[string]any, logger *zap.Logger) llm.Adapter

var registry = map[string]constructor{
	"openai": func(base providers.BaseProviderConfig, extra map[string]any, logger *zap.Logger) llm.Adapter {
		cfg := providers.OpenAIConfig{BaseProviderConfig: base}
		if org, ok := extra["organization"].(string); ok {
			cfg.Organization = org
		}
		return openai.New(cfg, logger)
	},
	"claude": func(base providers.BaseProviderConfig, _ map[string]any, logger *zap.Logger) llm.Adapter {
		return claude.New(providers.ClaudeConfig{BaseProviderConfig: base}, logger)
	},
	"gemini": func(base providers.BaseProviderConfig, _ map[string]any, logger *zap.Logger) llm.Adapter {
		return gemini.New(providers.GeminiConfig{BaseProviderConfig: base}, logger)
	},
	"local": func(base providers.BaseProviderConfig, _ map[string]any, logger *zap.Logger) llm.Adapter {
		return local.New(providers.LocalConfig{BaseProviderConfig: base}, logger)
	},
}

var aliases = map[string]string{
	"anthropic": "claude",
	"ollama":    "local",
}

// SupportedProviders returns the registered provider names, sorted.
func SupportedProviders() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter creates the adapter registered under name and validates its
// configuration. A configuration error is returned rather than deferred to
// the first call.
func NewAdapter(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	build, ok := registry[key]
	if !ok {
		return nil, types.NewConfigError(name, fmt.Sprintf("unknown provider %q, supported: %s",
			name, strings.Join(SupportedProviders(), ", "))).WithAction(types.ActionReload)
	}

	adapter := build(providers.BaseProviderConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}, cfg.Extra, logger)

	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	logger.Debug("llm adapter created", zap.String("provider", adapter.Name()), zap.String("model", cfg.Model))
	return adapter, nil
}

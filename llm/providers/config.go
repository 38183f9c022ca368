package providers

import "time"

// BaseProviderConfig holds the fields every adapter shares. Provider configs
// embed it and add their own knobs.
type BaseProviderConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// ClaudeConfig configures the Anthropic adapter.
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// LocalConfig configures the local inference server adapter.
type LocalConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// TimeoutOr returns the configured timeout or def when unset.
func (c BaseProviderConfig) TimeoutOr(def time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return def
}

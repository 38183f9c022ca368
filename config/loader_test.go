package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Zero(t, cfg.Server.WriteTimeout)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Active().Model)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)

	assert.Equal(t, 20, cfg.Conversation.ContextWindow)
	assert.Equal(t, 16000, cfg.Conversation.MaxContextTokens)
	assert.True(t, cfg.Conversation.ToolsEnabled)
	assert.Equal(t, 5, cfg.Conversation.MaxToolRounds)
	assert.Equal(t, 30*time.Second, cfg.Conversation.ToolTimeout)

	assert.Equal(t, 5*time.Minute, cfg.Tools.CatalogTTL)
	assert.Equal(t, 100, cfg.RateLimit.MessagesPerHour)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.JWT.Enabled())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

llm:
  provider: claude
  claude:
    api_key: sk-ant
    model: claude-3-opus
  temperature: 0.2

conversation:
  context_window: 10
  max_tool_rounds: 3
  tools_enabled: false

tools:
  endpoint: http://tools.internal/rpc
  catalog_ttl: 1m

database:
  driver: postgres
  name: chats

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).WithEnvLookup(noEnv).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Equal(t, ProviderConfig{APIKey: "sk-ant", Model: "claude-3-opus"}, cfg.LLM.Active())
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	// untouched sections keep their defaults
	assert.Equal(t, "gpt-4o", cfg.LLM.OpenAI.Model)

	assert.Equal(t, 10, cfg.Conversation.ContextWindow)
	assert.Equal(t, 3, cfg.Conversation.MaxToolRounds)
	assert.False(t, cfg.Conversation.ToolsEnabled)

	assert.Equal(t, "http://tools.internal/rpc", cfg.Tools.Endpoint)
	assert.Equal(t, time.Minute, cfg.Tools.CatalogTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	env := map[string]string{
		"CONVOFLOW_SERVER_HTTP_PORT":             "7777",
		"CONVOFLOW_LLM_PROVIDER":                 "gemini",
		"CONVOFLOW_LLM_GEMINI_API_KEY":           "g-key",
		"CONVOFLOW_LLM_TEMPERATURE":              "0.9",
		"CONVOFLOW_CONVERSATION_CONTEXT_WINDOW":  "8",
		"CONVOFLOW_CONVERSATION_TOOL_TIMEOUT":    "5s",
		"CONVOFLOW_CONVERSATION_TOOLS_ENABLED":   "false",
		"CONVOFLOW_REDIS_ADDR":                   "env-redis:6379",
		"CONVOFLOW_SERVER_ALLOWED_ORIGINS":       "https://a.example, https://b.example",
		"CONVOFLOW_TELEMETRY_SAMPLE_RATE":        "0.5",
		"CONVOFLOW_RATE_LIMIT_MESSAGES_PER_HOUR": "42",
		"CONVOFLOW_JWT_SECRET":                   "s3cret",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.Active().APIKey)
	assert.InDelta(t, 0.9, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 8, cfg.Conversation.ContextWindow)
	assert.Equal(t, 5*time.Second, cfg.Conversation.ToolTimeout)
	assert.False(t, cfg.Conversation.ToolsEnabled)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, 42, cfg.RateLimit.MessagesPerHour)
	assert.True(t, cfg.JWT.Enabled())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
llm:
  openai:
    api_key: yaml-key
    model: yaml-model
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	env := map[string]string{
		"CONVOFLOW_SERVER_HTTP_PORT":   "9999",
		"CONVOFLOW_LLM_OPENAI_API_KEY": "env-key",
	}
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnvLookup(func(k string) string { return env[k] }).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-key", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "yaml-model", cfg.LLM.OpenAI.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	env := map[string]string{"MYAPP_SERVER_HTTP_PORT": "6666"}
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		WithEnvLookup(func(k string) string { return env[k] }).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	env := map[string]string{"CONVOFLOW_CONVERSATION_TOOL_TIMEOUT": "soon"}
	_, err := NewLoader().WithEnvLookup(func(k string) string { return env[k] }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVOFLOW_CONVERSATION_TOOL_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(noEnv).
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.openai.api_key is required")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		WithEnvLookup(noEnv).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).WithEnvLookup(noEnv).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.LLM.OpenAI.APIKey = "sk-test"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "local needs no key", mutate: func(c *Config) { c.LLM.Provider = "ollama"; c.LLM.OpenAI.APIKey = "" }},
		{name: "anthropic alias", mutate: func(c *Config) { c.LLM.Provider = "anthropic"; c.LLM.Claude.APIKey = "k" }},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "palm" }, wantErr: `unknown llm provider "palm"`},
		{name: "missing cloud key", mutate: func(c *Config) { c.LLM.Provider = "gemini" }, wantErr: "llm.gemini.api_key is required"},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "zero window", mutate: func(c *Config) { c.Conversation.ContextWindow = 0 }, wantErr: "context_window must be positive"},
		{name: "negative token budget", mutate: func(c *Config) { c.Conversation.MaxContextTokens = -1 }, wantErr: "max_context_tokens must not be negative"},
		{name: "zero rounds", mutate: func(c *Config) { c.Conversation.MaxToolRounds = 0 }, wantErr: "max_tool_rounds must be positive"},
		{name: "zero ttl", mutate: func(c *Config) { c.Tools.CatalogTTL = 0 }, wantErr: "catalog_ttl must be positive"},
		{name: "temperature", mutate: func(c *Config) { c.LLM.Temperature = 2.5 }, wantErr: "temperature"},
		{name: "driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "chats", SSLMode: "disable"}

	d.Driver = "postgres"
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=chats sslmode=disable", d.DSN())
	d.Driver, d.Port = "mysql", 3306
	assert.Equal(t, "u:p@tcp(db:3306)/chats?parseTime=true", d.DSN())
	d.Driver = "sqlite"
	assert.Equal(t, "chats", d.DSN())
	d.Driver = "oracle"
	assert.Empty(t, d.DSN())
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [\n"), 0o644))
	assert.Panics(t, func() { MustLoad(configPath) })
}

func noEnv(string) string { return "" }

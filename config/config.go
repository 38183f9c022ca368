package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	LLM          LLMConfig          `yaml:"llm" env:"LLM"`
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`
	Tools        ToolsConfig        `yaml:"tools" env:"TOOLS"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" env:"RATE_LIMIT"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	JWT          JWTConfig          `yaml:"jwt" env:"JWT"`
}

// ServerConfig configures the HTTP and metrics listeners.
type ServerConfig struct {
	HTTPPort    int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout of zero keeps long SSE streams open.
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	APIKeys         []string      `yaml:"api_keys" env:"API_KEYS"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// ProviderConfig holds the credentials and endpoint of one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// LLMConfig selects the active provider and its sampling parameters.
type LLMConfig struct {
	Provider     string         `yaml:"provider" env:"PROVIDER"`
	OpenAI       ProviderConfig `yaml:"openai" env:"OPENAI"`
	Claude       ProviderConfig `yaml:"claude" env:"CLAUDE"`
	Gemini       ProviderConfig `yaml:"gemini" env:"GEMINI"`
	Local        ProviderConfig `yaml:"local" env:"LOCAL"`
	Temperature  float32        `yaml:"temperature" env:"TEMPERATURE"`
	TopP         float32        `yaml:"top_p" env:"TOP_P"`
	MaxTokens    int            `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout      time.Duration  `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int            `yaml:"max_retries" env:"MAX_RETRIES"`
	SystemPrompt string         `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
}

// Active returns the settings of the selected provider.
func (c LLMConfig) Active() ProviderConfig {
	switch normalizeProvider(c.Provider) {
	case "openai":
		return c.OpenAI
	case "claude":
		return c.Claude
	case "gemini":
		return c.Gemini
	case "local":
		return c.Local
	}
	return ProviderConfig{}
}

// ConversationConfig bounds a single turn.
type ConversationConfig struct {
	ContextWindow int `yaml:"context_window" env:"CONTEXT_WINDOW"`
	// MaxContextTokens caps the prompt as estimated by the provider; 0 is
	// no cap.
	MaxContextTokens int           `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	ToolsEnabled     bool          `yaml:"tools_enabled" env:"TOOLS_ENABLED"`
	MaxToolRounds    int           `yaml:"max_tool_rounds" env:"MAX_TOOL_ROUNDS"`
	MaxParallel      int           `yaml:"max_parallel_tools" env:"MAX_PARALLEL_TOOLS"`
	ToolTimeout      time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// Retention is how long closed and idle sessions are kept.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// ToolsConfig configures the tool service client.
type ToolsConfig struct {
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	ServiceToken   string        `yaml:"service_token" env:"SERVICE_TOKEN"`
	ClientName     string        `yaml:"client_name" env:"CLIENT_NAME"`
	ClientVersion  string        `yaml:"client_version" env:"CLIENT_VERSION"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CatalogTTL     time.Duration `yaml:"catalog_ttl" env:"CATALOG_TTL"`
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl" env:"RESULT_CACHE_TTL"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// RateLimitConfig holds per-user quotas and the per-IP HTTP limiter.
type RateLimitConfig struct {
	MessagesPerHour int     `yaml:"messages_per_hour" env:"MESSAGES_PER_HOUR"`
	TokensPerDay    int     `yaml:"tokens_per_day" env:"TOKENS_PER_DAY"`
	MaxConcurrent   int     `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	HTTPRPS         float64 `yaml:"http_rps" env:"HTTP_RPS"`
	HTTPBurst       int     `yaml:"http_burst" env:"HTTP_BURST"`
}

// RedisConfig configures the shared cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig selects the session store driver.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres or mysql.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
}

// JWTConfig configures bearer authentication. With neither Secret nor
// PublicKey set, JWT auth is off.
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
	// ToolTokenClaim names the claim forwarded to the tool service.
	ToolTokenClaim string `yaml:"tool_token_claim" env:"TOOL_TOKEN_CLAIM"`
}

// Enabled reports whether a signing key is configured.
func (c JWTConfig) Enabled() bool {
	return c.Secret != "" || c.PublicKey != ""
}

var knownProviders = map[string]bool{"openai": true, "claude": true, "gemini": true, "local": true}

func normalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "anthropic":
		return "claude"
	case "ollama":
		return "local"
	}
	return name
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	provider := normalizeProvider(c.LLM.Provider)
	switch {
	case !knownProviders[provider]:
		errs = append(errs, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	case provider != "local" && strings.TrimSpace(c.LLM.Active().APIKey) == "":
		errs = append(errs, fmt.Sprintf("llm.%s.api_key is required", provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}

	if c.Conversation.ContextWindow <= 0 {
		errs = append(errs, "conversation.context_window must be positive")
	}
	if c.Conversation.MaxContextTokens < 0 {
		errs = append(errs, "conversation.max_context_tokens must not be negative")
	}
	if c.Conversation.MaxToolRounds <= 0 {
		errs = append(errs, "conversation.max_tool_rounds must be positive")
	}
	if c.Tools.CatalogTTL <= 0 {
		errs = append(errs, "tools.catalog_ttl must be positive")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

package config

import "time"

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		LLM:          DefaultLLMConfig(),
		Conversation: DefaultConversationConfig(),
		Tools:        DefaultToolsConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		JWT:          DefaultJWTConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:     "openai",
		OpenAI:       ProviderConfig{Model: "gpt-4o"},
		Claude:       ProviderConfig{Model: "claude-3-5-sonnet-latest"},
		Gemini:       ProviderConfig{Model: "gemini-1.5-pro"},
		Local:        ProviderConfig{BaseURL: "http://localhost:11434", Model: "llama3.1"},
		Temperature:  0.7,
		TopP:         1,
		MaxTokens:    4096,
		Timeout:      2 * time.Minute,
		MaxRetries:   2,
		SystemPrompt: "You are a helpful assistant.",
	}
}

func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		ContextWindow:    20,
		MaxContextTokens: 16000,
		ToolsEnabled:     true,
		MaxToolRounds:    5,
		MaxParallel:      4,
		ToolTimeout:      30 * time.Second,
		Retention:        30 * 24 * time.Hour,
	}
}

func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		ClientName:    "convoflow",
		ClientVersion: "1.0.0",
		Timeout:       30 * time.Second,
		CatalogTTL:    5 * time.Minute,
		MaxRetries:    2,
	}
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerHour: 100,
		TokensPerDay:    100000,
		MaxConcurrent:   3,
		HTTPRPS:         100,
		HTTPBurst:       200,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:    "convoflow:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "convoflow",
		Name:            "convoflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "convoflow",
		SampleRate:   0.1,
	}
}

func DefaultJWTConfig() JWTConfig {
	return JWTConfig{ToolTokenClaim: "tool_token"}
}

package llm

import (
	"context"

	"github.com/BaSui01/convoflow/types"
)

// Response is the terminal artifact of one adapter call.
type Response = types.ModelResponse

// Request is one model call: the windowed turns, the tool catalog and the
// system prompt, plus per-call sampling overrides. Zero-valued overrides
// fall back to the adapter's configured defaults.
type Request struct {
	Turns        []types.Message    `json:"turns"`
	Tools        []types.ToolSchema `json:"tools,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Model        string             `json:"model,omitempty"`
	Temperature  float32            `json:"temperature,omitempty"`
	TopP         float32            `json:"top_p,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
}

// Chunk is one partial of a streamed response. A stream carries any number
// of Delta and ToolCalls chunks and ends with exactly one chunk holding
// Final or Err, after which the channel is closed.
type Chunk struct {
	Delta     string           `json:"delta,omitempty"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
	Final     *Response        `json:"final,omitempty"`
	Err       *types.Error     `json:"error,omitempty"`
}

// Adapter hides a provider's request and response shapes behind one
// capability set. Implementations never retry; transport failures are
// returned as *types.Error and the caller decides.
type Adapter interface {
	// Respond performs a single-shot model call.
	Respond(ctx context.Context, req *Request) (*Response, error)

	// RespondStream performs a streaming model call. The returned channel is
	// finite and cannot be restarted.
	RespondStream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// DescribeTool converts a catalog entry into the provider's native tool
	// schema.
	DescribeTool(tool types.ToolSchema) any

	// ValidateConfig reports missing credentials or an unusable model.
	ValidateConfig() error

	// EstimateTokens approximates the prompt size of turns.
	EstimateTokens(turns []types.Message) int

	// Ping checks that the provider is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error

	// Name returns the provider name used for pricing and metrics.
	Name() string

	// SupportsNativeTools reports whether the provider accepts a tool list
	// directly rather than through the prompt.
	SupportsNativeTools() bool
}

// ChooseModel picks the request model, then the configured default, then
// the provider fallback.
func ChooseModel(req *Request, configured, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if configured != "" {
		return configured
	}
	return fallback
}

package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/convoflow/llm/retry"
	"github.com/BaSui01/convoflow/types"
)

// Config tunes a turn.
type Config struct {
	SystemPrompt  string
	Model         string
	Temperature   float32
	TopP          float32
	MaxTokens     int
	ContextWindow int // turns kept from history; <= 0 keeps everything

	// MaxContextTokens prunes the oldest history further until the adapter
	// estimates the prompt fits; <= 0 disables it.
	MaxContextTokens int

	ToolsEnabled  bool
	MaxToolRounds int
	MaxParallel   int // concurrent tool calls per round; <= 0 is unbounded
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	MaxRetries    int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:  "You are a helpful assistant.",
		ContextWindow: 20,
		ToolsEnabled:  true,
		MaxToolRounds: 5,
		ModelTimeout:  120 * time.Second,
		ToolTimeout:   30 * time.Second,
		MaxRetries:    2,
	}
}

// Validate rejects settings that would make the loop unbounded.
func (c Config) Validate() error {
	if c.MaxToolRounds <= 0 {
		return types.NewConfigError("", "orchestrator: max tool rounds must be positive")
	}
	if c.ModelTimeout <= 0 || c.ToolTimeout <= 0 {
		return types.NewConfigError("", "orchestrator: timeouts must be positive")
	}
	if c.MaxRetries < 0 {
		return types.NewConfigError("", "orchestrator: max retries must not be negative")
	}
	return nil
}

// ToolProvider lists and invokes the tools offered to the model. CallTool
// never fails; failures are reported inside the result.
type ToolProvider interface {
	ListTools(ctx context.Context, principal string, useCache bool) ([]types.ToolSchema, error)
	CallTool(ctx context.Context, principal string, call types.ToolCall) types.ToolResult
}

// Recorder receives per-turn measurements.
type Recorder interface {
	RecordModelCall(provider, model, status string, d time.Duration, usage types.TokenUsage, cost float64)
	RecordToolCall(tool, status string, d time.Duration)
	RecordTurn(status string, rounds int, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordModelCall(_, _, _ string, _ time.Duration, _ types.TokenUsage, _ float64) {}

func (nopRecorder) RecordToolCall(_, _ string, _ time.Duration) {}

func (nopRecorder) RecordTurn(_ string, _ int, _ time.Duration) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateHook observes every state transition.
func WithStateHook(h StateHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRetryPolicy overrides the backoff used for model calls. MaxRetries
// from Config still applies.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = *p
		}
	}
}

// WithResultFormatter sets how a tool result is rendered into the tool turn
// the model sees.
func WithResultFormatter(f func(types.ToolResult) string) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.format = f
		}
	}
}

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/internal/tlsutil"
	"github.com/BaSui01/convoflow/llm"
	"github.com/BaSui01/convoflow/llm/providers"
	"github.com/BaSui01/convoflow/llm/tokenizer"
	"github.com/BaSui01/convoflow/types"
)

const (
	providerName   = "local"
	defaultBaseURL = "http://localhost:11434"
	fallbackModel  = "llama3"
)

var toolBlockPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// Adapter talks to an Ollama-compatible /api/generate endpoint. The server
// has no tool support, so the catalog is written into the prompt and calls
// are recovered from fenced JSON blocks in the reply.
type Adapter struct {
	cfg    providers.LocalConfig
	client *http.Client
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// New creates a local adapter.
func New(cfg providers.LocalConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Adapter{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.TimeoutOr(120 * time.Second)),
		tok:    tokenizer.NewWordEstimator(1.3),
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (a *Adapter) Name() string              { return providerName }
func (a *Adapter) SupportsNativeTools() bool { return false }

func (a *Adapter) ValidateConfig() error {
	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewConfigError(providerName, "local: invalid base url "+a.cfg.BaseURL).WithAction(types.ActionReload)
	}
	return nil
}

func (a *Adapter) EstimateTokens(turns []types.Message) int {
	return tokenizer.CountTurns(a.tok, turns)
}

func (a *Adapter) Ping(ctx context.Context) error {
	return providers.GetOK(ctx, a.client, a.endpoint("/api/tags"), nil, providerName)
}

// DescribeTool returns the one-line prompt description of a tool.
func (a *Adapter) DescribeTool(tool types.ToolSchema) any {
	desc := tool.Description
	if desc == "" {
		desc = "No description"
	}
	line := fmt.Sprintf("- %s: %s", tool.Name, desc)
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if len(tool.Parameters) > 0 && json.Unmarshal(tool.Parameters, &schema) == nil && len(schema.Properties) > 0 {
		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		line += " (parameters: " + strings.Join(names, ", ") + ")"
	}
	return line
}

func (a *Adapter) Respond(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	prompt := a.buildPrompt(req)
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/api/generate"), nil, a.buildRequest(req, prompt, false), providerName)
	if err != nil {
		return nil, err
	}
	var out wireResponse
	if err := providers.DecodeJSON(resp, &out, providerName); err != nil {
		return nil, err
	}
	return a.finish(req, prompt, out.Response, out), nil
}

func (a *Adapter) RespondStream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	prompt := a.buildPrompt(req)
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/api/generate"), nil, a.buildRequest(req, prompt, true), providerName)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer providers.SafeCloseBody(resp.Body)

		var (
			content strings.Builder
			last    wireResponse
			done    bool
			failed  *types.Error
		)
		scanErr := providers.ScanLines(ctx, resp.Body, func(line []byte) bool {
			var chunk wireResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				failed = types.NewMalformedError(providerName, err)
				return false
			}
			if chunk.Error != "" {
				failed = types.NewError(types.ErrUpstreamError, chunk.Error).WithProvider(providerName)
				return false
			}
			if chunk.Response != "" {
				content.WriteString(chunk.Response)
				if !llm.SendChunk(ctx, ch, llm.Chunk{Delta: chunk.Response}) {
					return false
				}
			}
			if chunk.Done {
				last, done = chunk, true
				return false
			}
			return true
		})

		if failed == nil && scanErr != nil {
			failed = providers.MapTransportError(scanErr, providerName)
		}
		if failed == nil && !done {
			if ctx.Err() != nil {
				return
			}
			failed = types.NewMalformedError(providerName, fmt.Errorf("stream ended before done"))
		}
		if failed != nil {
			llm.SendChunk(ctx, ch, llm.Chunk{Err: failed})
			return
		}

		final := a.finish(req, prompt, content.String(), last)
		if len(final.ToolCalls) > 0 && !llm.SendChunk(ctx, ch, llm.Chunk{ToolCalls: final.ToolCalls}) {
			return
		}
		llm.SendChunk(ctx, ch, llm.Chunk{Final: final})
	}()
	return ch, nil
}

func (a *Adapter) finish(req *llm.Request, prompt, content string, out wireResponse) *llm.Response {
	result := &llm.Response{
		Content:      content,
		Model:        llm.ChooseModel(req, a.cfg.Model, fallbackModel),
		Provider:     providerName,
		FinishReason: types.FinishStop,
	}
	if out.DoneReason == "length" {
		result.FinishReason = types.FinishLength
	}
	if len(req.Tools) > 0 {
		if calls := ExtractToolCalls(content); len(calls) > 0 {
			result.ToolCalls = calls
			result.FinishReason = types.FinishToolCalls
		}
	}

	result.Usage = types.TokenUsage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount}
	if result.Usage.InputTokens == 0 {
		result.Usage.InputTokens, _ = a.tok.CountTokens(prompt)
	}
	if result.Usage.OutputTokens == 0 {
		result.Usage.OutputTokens, _ = a.tok.CountTokens(content)
	}
	return result
}

func (a *Adapter) buildRequest(req *llm.Request, prompt string, stream bool) wireRequest {
	opts := &wireOptions{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		NumPredict:  req.MaxTokens,
	}
	if opts.Temperature == 0 {
		opts.Temperature = a.cfg.Temperature
	}
	if opts.TopP == 0 {
		opts.TopP = a.cfg.TopP
	}
	if opts.NumPredict == 0 {
		opts.NumPredict = a.cfg.MaxTokens
	}
	if *opts == (wireOptions{}) {
		opts = nil
	}
	return wireRequest{
		Model:   llm.ChooseModel(req, a.cfg.Model, fallbackModel),
		Prompt:  prompt,
		Stream:  stream,
		Options: opts,
	}
}

// buildPrompt flattens the request into the single prompt string the
// generate endpoint takes.
func (a *Adapter) buildPrompt(req *llm.Request) string {
	var parts []string
	if req.SystemPrompt != "" {
		parts = append(parts, "System: "+req.SystemPrompt)
	}
	if len(req.Tools) > 0 {
		lines := make([]string, 0, len(req.Tools))
		for _, t := range req.Tools {
			lines = append(lines, a.DescribeTool(t).(string))
		}
		parts = append(parts, "\nAvailable Tools:\n"+strings.Join(lines, "\n")+
			"\nTo call a tool reply with a ```json {\"tool\": \"<name>\", \"arguments\": {...}}``` block.")
	}
	for _, t := range req.Turns {
		switch t.Role {
		case types.RoleUser:
			parts = append(parts, "\nUser: "+t.Content)
		case types.RoleAssistant:
			text := t.Content
			for _, tc := range t.ToolCalls {
				text += fmt.Sprintf("\n```json\n{\"tool\": %q, \"arguments\": %s}\n```", tc.Name, providers.ToolArgumentsObject(tc.Arguments))
			}
			parts = append(parts, "\nAssistant: "+text)
		case types.RoleSystem:
			parts = append(parts, "\nSystem: "+t.Content)
		case types.RoleTool:
			parts = append(parts, fmt.Sprintf("\nTool Result (%s): %s", t.Name, t.Content))
		}
	}
	parts = append(parts, "\nAssistant:")
	return strings.Join(parts, "\n")
}

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

// ExtractToolCalls recovers tool calls from fenced ```json blocks of the
// form {"tool": name, "arguments": {...}}. Blocks that do not parse or lack
// either key are ignored. Calls get ids local_<index>.
func ExtractToolCalls(content string) []types.ToolCall {
	var calls []types.ToolCall
	for _, m := range toolBlockPattern.FindAllStringSubmatch(content, -1) {
		var block struct {
			Tool      *string         `json:"tool"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &block); err != nil || block.Tool == nil || block.Arguments == nil {
			continue
		}
		calls = append(calls, types.ToolCall{
			ID:        fmt.Sprintf("local_%d", len(calls)),
			Name:      *block.Tool,
			Arguments: providers.ToolArgumentsObject(block.Arguments),
		})
	}
	return calls
}

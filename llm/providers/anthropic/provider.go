package claude

import (
	"context"
	"encoding/json"
	"net/http"
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
	providerName     = "claude"
	defaultBaseURL   = "https://api.anthropic.com"
	fallbackModel    = "claude-3-5-sonnet-20241022"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adapter talks to the Anthropic Messages API.
type Adapter struct {
	cfg    providers.ClaudeConfig
	client *http.Client
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// New creates a Claude adapter.
func New(cfg providers.ClaudeConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Adapter{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.TimeoutOr(60 * time.Second)),
		tok:    tokenizer.NewEstimator(),
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (a *Adapter) Name() string              { return providerName }
func (a *Adapter) SupportsNativeTools() bool { return true }

func (a *Adapter) ValidateConfig() error {
	if err := providers.RequireAPIKey(a.cfg.BaseProviderConfig, providerName); err != nil {
		return err
	}
	if model := llm.ChooseModel(nil, a.cfg.Model, fallbackModel); !strings.HasPrefix(model, "claude-") {
		return types.NewConfigError(providerName, "claude: unknown model "+model)
	}
	return nil
}

func (a *Adapter) EstimateTokens(turns []types.Message) int {
	return tokenizer.CountTurns(a.tok, turns)
}

func (a *Adapter) Ping(ctx context.Context) error {
	return providers.GetOK(ctx, a.client, a.endpoint("/v1/models"), a.headers(), providerName)
}

// DescribeTool returns the Messages API tool shape.
func (a *Adapter) DescribeTool(tool types.ToolSchema) any {
	schema := tool.Parameters
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return wireTool{Name: tool.Name, Description: tool.Description, InputSchema: schema}
}

func (a *Adapter) Respond(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/v1/messages"), a.headers(), a.buildRequest(req, false), providerName)
	if err != nil {
		return nil, err
	}
	var out wireResponse
	if err := providers.DecodeJSON(resp, &out, providerName); err != nil {
		return nil, err
	}

	result := &llm.Response{
		Model:        out.Model,
		Provider:     providerName,
		FinishReason: mapStopReason(out.StopReason),
	}
	var text strings.Builder
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: providers.ToolArgumentsObject(block.Input),
			})
		}
	}
	result.Content = text.String()
	if out.Usage != nil {
		result.Usage = types.TokenUsage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}
	}
	return result, nil
}

func (a *Adapter) RespondStream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/v1/messages"), a.headers(), a.buildRequest(req, true), providerName)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer providers.SafeCloseBody(resp.Body)

		var (
			content strings.Builder
			pending = map[int]*types.ToolCall{}
			args    = map[int]*strings.Builder{}
			done    = map[int]types.ToolCall{}
			final   = &llm.Response{Provider: providerName, FinishReason: types.FinishStop}
			failed  *types.Error
		)

		scanErr := providers.ScanSSE(ctx, resp.Body, func(_, data string) bool {
			var ev wireStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				failed = types.NewMalformedError(providerName, err)
				return false
			}
			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					final.Model = ev.Message.Model
					if ev.Message.Usage != nil {
						final.Usage.InputTokens = ev.Message.Usage.InputTokens
					}
				}
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					pending[ev.Index] = &types.ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
					args[ev.Index] = &strings.Builder{}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					return true
				}
				switch ev.Delta.Type {
				case "text_delta":
					content.WriteString(ev.Delta.Text)
					return llm.SendChunk(ctx, ch, llm.Chunk{Delta: ev.Delta.Text})
				case "input_json_delta":
					if b, ok := args[ev.Index]; ok {
						b.WriteString(ev.Delta.PartialJSON)
					}
				}
			case "content_block_stop":
				if tc, ok := pending[ev.Index]; ok {
					tc.Arguments = providers.ToolArgumentsObject(json.RawMessage(args[ev.Index].String()))
					done[ev.Index] = *tc
					delete(pending, ev.Index)
					return llm.SendChunk(ctx, ch, llm.Chunk{ToolCalls: []types.ToolCall{*tc}})
				}
			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					final.FinishReason = mapStopReason(ev.Delta.StopReason)
				}
				if ev.Usage != nil {
					final.Usage.OutputTokens = ev.Usage.OutputTokens
				}
			case "error":
				failed = types.NewError(types.ErrUpstreamUnavailable, "stream error").
					WithProvider(providerName).
					WithRetryable(true)
				if ev.Error != nil {
					failed.Message = ev.Error.Message
				}
				return false
			case "message_stop":
				return false
			}
			return true
		})

		if failed == nil && scanErr != nil {
			failed = providers.MapTransportError(scanErr, providerName)
		}
		if failed != nil {
			llm.SendChunk(ctx, ch, llm.Chunk{Err: failed})
			return
		}

		final.Content = content.String()
		idx := make([]int, 0, len(done))
		for i := range done {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			final.ToolCalls = append(final.ToolCalls, done[i])
		}
		if len(final.ToolCalls) > 0 {
			final.FinishReason = types.FinishToolCalls
		}
		llm.SendChunk(ctx, ch, llm.Chunk{Final: final})
	}()
	return ch, nil
}

func (a *Adapter) buildRequest(req *llm.Request, stream bool) wireRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.cfg.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	system, msgs := toWireMessages(req.SystemPrompt, req.Turns)
	out := wireRequest{
		Model:       llm.ChooseModel(req, a.cfg.Model, fallbackModel),
		System:      system,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if out.Temperature == 0 {
		out.Temperature = a.cfg.Temperature
	}
	if out.TopP == 0 {
		out.TopP = a.cfg.TopP
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, a.DescribeTool(t).(wireTool))
	}
	return out
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": apiVersion,
		"Accept":            "application/json",
	}
}

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

// toWireMessages pulls system turns into the system field and folds tool
// turns into user messages of tool_result blocks. Consecutive tool turns
// share one user message.
func toWireMessages(system string, turns []types.Message) (string, []wireMessage) {
	var systems []string
	if system != "" {
		systems = append(systems, system)
	}
	var out []wireMessage
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			systems = append(systems, t.Content)
			continue
		case types.RoleTool:
			block := wireContent{Type: "tool_result", ToolUseID: t.ToolCallID, Content: t.Content}
			if n := len(out); n > 0 && out[n-1].Role == "user" && out[n-1].Content[0].Type == "tool_result" {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, wireMessage{Role: "user", Content: []wireContent{block}})
			}
			continue
		}

		m := wireMessage{Role: string(t.Role)}
		if t.Content != "" {
			m.Content = append(m.Content, wireContent{Type: "text", Text: t.Content})
		}
		for _, tc := range t.ToolCalls {
			m.Content = append(m.Content, wireContent{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: providers.ToolArgumentsObject(tc.Arguments),
			})
		}
		if len(m.Content) > 0 {
			out = append(out, m)
		}
	}
	return strings.Join(systems, "\n\n"), out
}

func mapStopReason(reason string) types.FinishReason {
	switch reason {
	case "tool_use":
		return types.FinishToolCalls
	case "max_tokens":
		return types.FinishLength
	default:
		return types.FinishStop
	}
}

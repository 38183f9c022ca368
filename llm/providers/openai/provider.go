package openai

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
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com"
	fallbackModel  = "gpt-4o"
)

// knownModels are the chat models ValidateConfig accepts.
var knownModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", "o1", "o3"}

// Adapter talks to the OpenAI Chat Completions API.
type Adapter struct {
	cfg    providers.OpenAIConfig
	client *http.Client
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// New creates an OpenAI adapter.
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	model := llm.ChooseModel(nil, cfg.Model, fallbackModel)
	return &Adapter{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.TimeoutOr(60 * time.Second)),
		tok:    tokenizer.NewTiktoken(model),
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (a *Adapter) Name() string              { return providerName }
func (a *Adapter) SupportsNativeTools() bool { return true }

func (a *Adapter) ValidateConfig() error {
	if err := providers.RequireAPIKey(a.cfg.BaseProviderConfig, providerName); err != nil {
		return err
	}
	model := llm.ChooseModel(nil, a.cfg.Model, fallbackModel)
	for _, known := range knownModels {
		if strings.HasPrefix(model, known) {
			return nil
		}
	}
	return types.NewConfigError(providerName, "openai: unknown model "+model)
}

func (a *Adapter) EstimateTokens(turns []types.Message) int {
	return tokenizer.CountTurns(a.tok, turns)
}

func (a *Adapter) Ping(ctx context.Context) error {
	return providers.GetOK(ctx, a.client, a.endpoint("/v1/models"), a.headers(), providerName)
}

// DescribeTool returns the Chat Completions "function" tool shape.
func (a *Adapter) DescribeTool(tool types.ToolSchema) any {
	params := tool.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return wireTool{
		Type: "function",
		Function: wireFunction{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		},
	}
}

func (a *Adapter) Respond(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body := a.buildRequest(req, false)
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/v1/chat/completions"), a.headers(), body, providerName)
	if err != nil {
		return nil, err
	}
	var out wireResponse
	if err := providers.DecodeJSON(resp, &out, providerName); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, types.NewMalformedError(providerName, nil).WithRetryable(false)
	}

	choice := out.Choices[0]
	result := &llm.Response{
		Content:      choice.Message.Content,
		ToolCalls:    fromWireCalls(choice.Message.ToolCalls),
		FinishReason: mapFinishReason(choice.FinishReason),
		Model:        out.Model,
		Provider:     providerName,
	}
	if out.Usage != nil {
		result.Usage = types.TokenUsage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = types.FinishToolCalls
	}
	return result, nil
}

func (a *Adapter) RespondStream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	body := a.buildRequest(req, true)
	resp, err := providers.PostJSON(ctx, a.client, a.endpoint("/v1/chat/completions"), a.headers(), body, providerName)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer providers.SafeCloseBody(resp.Body)

		var (
			content strings.Builder
			calls   = map[int]*wireToolCall{}
			final   = &llm.Response{Provider: providerName, FinishReason: types.FinishStop}
			failed  *types.Error
		)

		scanErr := providers.ScanSSE(ctx, resp.Body, func(_, data string) bool {
			var chunk wireResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				failed = types.NewMalformedError(providerName, err)
				return false
			}
			if chunk.Model != "" {
				final.Model = chunk.Model
			}
			if chunk.Usage != nil {
				final.Usage = types.TokenUsage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta != nil {
					if choice.Delta.Content != "" {
						content.WriteString(choice.Delta.Content)
						if !llm.SendChunk(ctx, ch, llm.Chunk{Delta: choice.Delta.Content}) {
							return false
						}
					}
					for _, tc := range choice.Delta.ToolCalls {
						acc, ok := calls[tc.Index]
						if !ok {
							acc = &wireToolCall{Type: "function"}
							calls[tc.Index] = acc
						}
						if tc.ID != "" {
							acc.ID = tc.ID
						}
						if tc.Function.Name != "" {
							acc.Function.Name = tc.Function.Name
						}
						acc.Function.Arguments += tc.Function.Arguments
					}
				}
				if choice.FinishReason != "" {
					final.FinishReason = mapFinishReason(choice.FinishReason)
				}
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
		if len(calls) > 0 {
			final.ToolCalls = orderedCalls(calls)
			final.FinishReason = types.FinishToolCalls
			if !llm.SendChunk(ctx, ch, llm.Chunk{ToolCalls: final.ToolCalls}) {
				return
			}
		}
		llm.SendChunk(ctx, ch, llm.Chunk{Final: final})
	}()
	return ch, nil
}

func (a *Adapter) buildRequest(req *llm.Request, stream bool) wireRequest {
	out := wireRequest{
		Model:       llm.ChooseModel(req, a.cfg.Model, fallbackModel),
		Messages:    toWireMessages(req.SystemPrompt, req.Turns),
		Temperature: pick(req.Temperature, a.cfg.Temperature),
		TopP:        pick(req.TopP, a.cfg.TopP),
		MaxTokens:   pickInt(req.MaxTokens, a.cfg.MaxTokens),
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, a.DescribeTool(t).(wireTool))
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

func (a *Adapter) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}
	if a.cfg.Organization != "" {
		h["OpenAI-Organization"] = a.cfg.Organization
	}
	return h
}

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func toWireMessages(system string, turns []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(turns)+1)
	if system != "" {
		out = append(out, wireMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		m := wireMessage{Role: string(t.Role), Content: t.Content, ToolCallID: t.ToolCallID}
		if t.Role == types.RoleTool {
			m.Name = t.Name
		}
		for _, c := range t.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, wireToolCall{
				ID:   c.ID,
				Type: "function",
				Function: wireCallFunction{
					Name:      c.Name,
					Arguments: string(providers.ToolArgumentsObject(c.Arguments)),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func fromWireCalls(calls []wireToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, types.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: providers.ToolArgumentsObject(json.RawMessage(c.Function.Arguments)),
		})
	}
	return out
}

func orderedCalls(calls map[int]*wireToolCall) []types.ToolCall {
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	flat := make([]wireToolCall, 0, len(idx))
	for _, i := range idx {
		flat = append(flat, *calls[i])
	}
	return fromWireCalls(flat)
}

func mapFinishReason(reason string) types.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return types.FinishToolCalls
	case "length":
		return types.FinishLength
	case "", "stop", "content_filter":
		return types.FinishStop
	default:
		return types.FinishStop
	}
}

func pick(v, def float32) float32 {
	if v != 0 {
		return v
	}
	return def
}

func pickInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

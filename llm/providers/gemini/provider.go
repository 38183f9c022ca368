package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	fallbackModel  = "gemini-1.5-pro"
)

// Adapter talks to the Gemini generateContent API.
type Adapter struct {
	cfg    providers.GeminiConfig
	client *http.Client
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// New creates a Gemini adapter.
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Adapter {
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
	if model := llm.ChooseModel(nil, a.cfg.Model, fallbackModel); !strings.HasPrefix(model, "gemini-") {
		return types.NewConfigError(providerName, "gemini: unknown model "+model)
	}
	return nil
}

func (a *Adapter) EstimateTokens(turns []types.Message) int {
	return tokenizer.CountTurns(a.tok, turns)
}

func (a *Adapter) Ping(ctx context.Context) error {
	return providers.GetOK(ctx, a.client, a.endpoint("/v1beta/models"), a.headers(), providerName)
}

// DescribeTool returns a functionDeclarations entry.
func (a *Adapter) DescribeTool(tool types.ToolSchema) any {
	decl := wireFunctionDeclaration{Name: tool.Name, Description: tool.Description}
	if len(tool.Parameters) > 0 && string(tool.Parameters) != "null" {
		decl.Parameters = tool.Parameters
	}
	return decl
}

func (a *Adapter) Respond(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := llm.ChooseModel(req, a.cfg.Model, fallbackModel)
	url := a.endpoint(fmt.Sprintf("/v1beta/models/%s:generateContent", model))
	resp, err := providers.PostJSON(ctx, a.client, url, a.headers(), a.buildRequest(req), providerName)
	if err != nil {
		return nil, err
	}
	var out wireResponse
	if err := providers.DecodeJSON(resp, &out, providerName); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, types.NewMalformedError(providerName, fmt.Errorf("no candidates")).WithRetryable(false)
	}

	result := &llm.Response{Model: model, Provider: providerName}
	var text strings.Builder
	result.ToolCalls = collectParts(out.Candidates[0].Content.Parts, &text, 0)
	result.Content = text.String()
	result.FinishReason = mapFinishReason(out.Candidates[0].FinishReason, len(result.ToolCalls) > 0)
	if out.UsageMetadata != nil {
		result.Usage = types.TokenUsage{InputTokens: out.UsageMetadata.PromptTokenCount, OutputTokens: out.UsageMetadata.CandidatesTokenCount}
	}
	return result, nil
}

func (a *Adapter) RespondStream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model := llm.ChooseModel(req, a.cfg.Model, fallbackModel)
	url := a.endpoint(fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse", model))
	resp, err := providers.PostJSON(ctx, a.client, url, a.headers(), a.buildRequest(req), providerName)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer providers.SafeCloseBody(resp.Body)

		var (
			content strings.Builder
			final   = &llm.Response{Model: model, Provider: providerName}
			reason  string
			failed  *types.Error
		)

		scanErr := providers.ScanSSE(ctx, resp.Body, func(_, data string) bool {
			var chunk wireResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				failed = types.NewMalformedError(providerName, err)
				return false
			}
			if chunk.UsageMetadata != nil {
				final.Usage = types.TokenUsage{InputTokens: chunk.UsageMetadata.PromptTokenCount, OutputTokens: chunk.UsageMetadata.CandidatesTokenCount}
			}
			if len(chunk.Candidates) == 0 {
				return true
			}
			cand := chunk.Candidates[0]
			if cand.FinishReason != "" {
				reason = cand.FinishReason
			}
			var text strings.Builder
			calls := collectParts(cand.Content.Parts, &text, len(final.ToolCalls))
			if text.Len() > 0 {
				content.WriteString(text.String())
				if !llm.SendChunk(ctx, ch, llm.Chunk{Delta: text.String()}) {
					return false
				}
			}
			if len(calls) > 0 {
				final.ToolCalls = append(final.ToolCalls, calls...)
				return llm.SendChunk(ctx, ch, llm.Chunk{ToolCalls: calls})
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
		final.FinishReason = mapFinishReason(reason, len(final.ToolCalls) > 0)
		llm.SendChunk(ctx, ch, llm.Chunk{Final: final})
	}()
	return ch, nil
}

func (a *Adapter) buildRequest(req *llm.Request) wireRequest {
	out := wireRequest{Contents: toWireContents(req.Turns)}

	var systems []string
	if req.SystemPrompt != "" {
		systems = append(systems, req.SystemPrompt)
	}
	for _, t := range req.Turns {
		if t.Role == types.RoleSystem {
			systems = append(systems, t.Content)
		}
	}
	if len(systems) > 0 {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: strings.Join(systems, "\n\n")}}}
	}

	gen := wireGenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
	}
	if gen.Temperature == 0 {
		gen.Temperature = a.cfg.Temperature
	}
	if gen.TopP == 0 {
		gen.TopP = a.cfg.TopP
	}
	if gen.MaxOutputTokens == 0 {
		gen.MaxOutputTokens = a.cfg.MaxTokens
	}
	if gen != (wireGenerationConfig{}) {
		out.GenerationConfig = &gen
	}

	if len(req.Tools) > 0 {
		tool := wireTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, a.DescribeTool(t).(wireFunctionDeclaration))
		}
		out.Tools = []wireTool{tool}
	}
	return out
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"x-goog-api-key": a.cfg.APIKey}
}

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

// toWireContents maps turns onto Gemini roles. Assistant turns become
// "model"; tool turns become user functionResponse parts, grouped when
// consecutive.
func toWireContents(turns []types.Message) []wireContent {
	var out []wireContent
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			continue
		case types.RoleTool:
			part := wirePart{FunctionResponse: &wireFunctionResponse{Name: t.Name, Response: responseObject(t.Content)}}
			if n := len(out); n > 0 && out[n-1].Role == "user" && out[n-1].Parts[0].FunctionResponse != nil {
				out[n-1].Parts = append(out[n-1].Parts, part)
			} else {
				out = append(out, wireContent{Role: "user", Parts: []wirePart{part}})
			}
			continue
		}

		c := wireContent{Role: "user"}
		if t.Role == types.RoleAssistant {
			c.Role = "model"
		}
		if t.Content != "" {
			c.Parts = append(c.Parts, wirePart{Text: t.Content})
		}
		for _, tc := range t.ToolCalls {
			c.Parts = append(c.Parts, wirePart{FunctionCall: &wireFunctionCall{Name: tc.Name, Args: providers.ToolArgumentsObject(tc.Arguments)}})
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// responseObject wraps tool output as the JSON object functionResponse
// requires.
func responseObject(content string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return trimmed
	}
	wrapped, _ := json.Marshal(map[string]string{"result": content})
	return wrapped
}

// collectParts appends text parts to text and returns the function calls,
// giving each the id call_<name>_<index> since Gemini does not issue ids.
func collectParts(parts []wirePart, text *strings.Builder, offset int) []types.ToolCall {
	var calls []types.ToolCall
	for _, p := range parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			calls = append(calls, types.ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", p.FunctionCall.Name, offset+len(calls)),
				Name:      p.FunctionCall.Name,
				Arguments: providers.ToolArgumentsObject(p.FunctionCall.Args),
			})
		}
	}
	return calls
}

func mapFinishReason(reason string, hasCalls bool) types.FinishReason {
	if hasCalls {
		return types.FinishToolCalls
	}
	switch reason {
	case "MAX_TOKENS":
		return types.FinishLength
	default:
		return types.FinishStop
	}
}

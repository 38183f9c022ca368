package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/llm"
	"github.com/BaSui01/convoflow/llm/providers"
	"github.com/BaSui01/convoflow/types"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.OpenAIConfig{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	}}, zap.NewNop())
}

func TestValidateConfig(t *testing.T) {
	a := New(providers.OpenAIConfig{}, nil)
	err := a.ValidateConfig()
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	a = New(providers.OpenAIConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k", Model: "davinci"}}, nil)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(a.ValidateConfig()))

	a = New(providers.OpenAIConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k", Model: "gpt-4o-2024-08-06"}}, nil)
	assert.NoError(t, a.ValidateConfig())
}

func TestRespond_ToolCalls(t *testing.T) {
	var got wireRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		fmt.Fprint(w, `{"id":"x","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"list_documents","arguments":"{\"doctype\":\"Sales Order\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`)
	})

	resp, err := a.Respond(context.Background(), &llm.Request{
		SystemPrompt: "be brief",
		Turns:        []types.Message{types.NewUserMessage("list my pending orders")},
		Tools:        []types.ToolSchema{{Name: "list_documents", Description: "list docs"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(got.Tools[0].Function.Parameters))

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"doctype":"Sales Order"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, types.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, types.TokenUsage{InputTokens: 12, OutputTokens: 5}, resp.Usage)
}

func TestRespond_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		code   types.ErrorCode
		retry  bool
	}{
		{http.StatusUnauthorized, types.ErrUnauthorized, false},
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusServiceUnavailable, types.ErrUpstreamUnavailable, true},
		{http.StatusGatewayTimeout, types.ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			})
			_, err := a.Respond(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("hi")}})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retry, types.IsRetryable(err))
		})
	}
}

func TestRespondStream_ContentThenToolCalls(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Let me "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"check."}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"search","arguments":"{\"q\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"orders\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := a.RespondStream(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("orders?")}})
	require.NoError(t, err)

	var deltas []string
	var announced []types.ToolCall
	var final *llm.Response
	for c := range ch {
		require.Nil(t, c.Err)
		switch {
		case c.Delta != "":
			require.Empty(t, announced, "content must precede tool announcements")
			deltas = append(deltas, c.Delta)
		case len(c.ToolCalls) > 0:
			announced = c.ToolCalls
		case c.Final != nil:
			final = c.Final
		}
	}
	assert.Equal(t, []string{"Let me ", "check."}, deltas)
	require.Len(t, announced, 1)
	assert.Equal(t, "call_a", announced[0].ID)
	assert.JSONEq(t, `{"q":"orders"}`, string(announced[0].Arguments))
	require.NotNil(t, final)
	assert.Equal(t, "Let me check.", final.Content)
	assert.Equal(t, types.FinishToolCalls, final.FinishReason)
	assert.Equal(t, 10, final.Usage.Total())
}

func TestRespondStream_MalformedFrame(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\n")
	})
	ch, err := a.RespondStream(context.Background(), &llm.Request{})
	require.NoError(t, err)

	var last llm.Chunk
	for c := range ch {
		last = c
	}
	require.NotNil(t, last.Err)
	assert.Equal(t, types.ErrMalformedResponse, last.Err.Code)
}

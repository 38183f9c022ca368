package claude

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
	return New(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "ak-test",
		BaseURL: srv.URL,
	}}, zap.NewNop())
}

func TestToWireMessages_ToolResultsGrouped(t *testing.T) {
	turns := []types.Message{
		types.NewSystemMessage("history note"),
		types.NewUserMessage("compare"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{
			{ID: "t1", Name: "a", Arguments: json.RawMessage(`{}`)},
			{ID: "t2", Name: "b"},
		}),
		types.NewToolMessage("t1", "a", "ra"),
		types.NewToolMessage("t2", "b", "rb"),
	}

	system, msgs := toWireMessages("be brief", turns)
	assert.Equal(t, "be brief\n\nhistory note", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].Content, 2)
	assert.JSONEq(t, `{}`, string(msgs[1].Content[1].Input))

	assert.Equal(t, "user", msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	assert.Equal(t, "t1", msgs[2].Content[0].ToolUseID)
	assert.Equal(t, "t2", msgs[2].Content[1].ToolUseID)
}

func TestRespond_Headers_And_ToolUse(t *testing.T) {
	var got wireRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		fmt.Fprint(w, `{"id":"m","model":"claude-3-5-sonnet-20241022","stop_reason":"tool_use",
			"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"tu_1","name":"list_documents","input":{"doctype":"Sales Order"}}],
			"usage":{"input_tokens":20,"output_tokens":9}}`)
	})

	resp, err := a.Respond(context.Background(), &llm.Request{
		Turns: []types.Message{types.NewUserMessage("orders")},
		Tools: []types.ToolSchema{{Name: "list_documents", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	assert.Equal(t, fallbackModel, got.Model)
	require.Len(t, got.Tools, 1)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Tools[0].InputSchema))

	assert.Equal(t, "Checking.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, types.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 29, resp.Usage.Total())
}

func TestRespond_OverloadedIsRetryable(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})
	_, err := a.Respond(context.Background(), &llm.Request{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestRespondStream(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		events := []string{
			`{"type":"message_start","message":{"id":"m","model":"claude-3-5-haiku-20241022","usage":{"input_tokens":15,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"You have "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"3 orders"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_9","name":"report"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"name\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Sales\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":22}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	})

	ch, err := a.RespondStream(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("hi")}})
	require.NoError(t, err)

	var text string
	var final *llm.Response
	announced := 0
	for c := range ch {
		require.Nil(t, c.Err)
		text += c.Delta
		announced += len(c.ToolCalls)
		if c.Final != nil {
			final = c.Final
		}
	}
	assert.Equal(t, "You have 3 orders", text)
	assert.Equal(t, 1, announced)
	require.NotNil(t, final)
	assert.Equal(t, "claude-3-5-haiku-20241022", final.Model)
	assert.Equal(t, types.TokenUsage{InputTokens: 15, OutputTokens: 22}, final.Usage)
	require.Len(t, final.ToolCalls, 1)
	assert.JSONEq(t, `{"name":"Sales"}`, string(final.ToolCalls[0].Arguments))
	assert.Equal(t, types.FinishToolCalls, final.FinishReason)
}

func TestValidateConfig(t *testing.T) {
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(New(providers.ClaudeConfig{}, nil).ValidateConfig()))

	bad := New(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k", Model: "gpt-4o"}}, nil)
	assert.Error(t, bad.ValidateConfig())

	ok := New(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k"}}, nil)
	assert.NoError(t, ok.ValidateConfig())
}

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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
	return New(providers.LocalConfig{BaseProviderConfig: providers.BaseProviderConfig{
		BaseURL: srv.URL,
		Model:   "llama3:8b",
	}}, zap.NewNop())
}

func TestExtractToolCalls(t *testing.T) {
	content := "Let me check.\n```json\n{\"tool\": \"get_weather\", \"arguments\": {\"city\": \"Oslo\"}}\n```\n" +
		"```json\n{\"note\": \"not a call\"}\n```\n" +
		"```json\n{broken\n```\n" +
		"```json\n{\"tool\": \"get_time\", \"arguments\": {}}\n```"

	calls := ExtractToolCalls(content)
	require.Len(t, calls, 2)
	assert.Equal(t, "local_0", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(calls[0].Arguments))
	assert.Equal(t, "local_1", calls[1].ID)
	assert.Equal(t, "get_time", calls[1].Name)

	assert.Empty(t, ExtractToolCalls("plain answer"))
}

func TestValidateConfig(t *testing.T) {
	a := New(providers.LocalConfig{}, nil)
	assert.NoError(t, a.ValidateConfig())

	bad := New(providers.LocalConfig{BaseProviderConfig: providers.BaseProviderConfig{BaseURL: "localhost"}}, nil)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(bad.ValidateConfig()))
}

func TestBuildPrompt(t *testing.T) {
	a := New(providers.LocalConfig{}, nil)
	prompt := a.buildPrompt(&llm.Request{
		SystemPrompt: "be brief",
		Tools: []types.ToolSchema{{
			Name:        "search",
			Description: "Search records",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{},"limit":{}}}`),
		}},
		Turns: []types.Message{
			types.NewUserMessage("find x"),
			types.NewToolMessage("local_0", "search", `{"count":1}`),
		},
	})
	assert.True(t, strings.HasPrefix(prompt, "System: be brief"))
	assert.Contains(t, prompt, "- search: Search records (parameters: limit, query)")
	assert.Contains(t, prompt, "\nUser: find x")
	assert.Contains(t, prompt, `Tool Result (search): {"count":1}`)
	assert.True(t, strings.HasSuffix(prompt, "\nAssistant:"))
}

func TestRespond_ExtractsToolsOnlyWhenOffered(t *testing.T) {
	reply := "```json\n{\"tool\": \"search\", \"arguments\": {\"q\": \"a\"}}\n```"
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3:8b", req.Model)
		_ = json.NewEncoder(w).Encode(wireResponse{Response: reply, Done: true, PromptEvalCount: 12, EvalCount: 8})
	})

	resp, err := a.Respond(context.Background(), &llm.Request{
		Turns: []types.Message{types.NewUserMessage("q")},
		Tools: []types.ToolSchema{{Name: "search"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, types.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.Total())
	assert.Zero(t, llm.EstimateCost(resp.Provider, resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens))

	resp, err = a.Respond(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("q")}})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, types.FinishStop, resp.FinishReason)
}

func TestRespondStream_NDJSON(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hello ","done":false}`)
		fmt.Fprintln(w, `{"response":"world","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true,"done_reason":"stop"}`)
	})

	ch, err := a.RespondStream(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("hi")}})
	require.NoError(t, err)

	var deltas []string
	var final *llm.Response
	for c := range ch {
		require.Nil(t, c.Err)
		if c.Delta != "" {
			deltas = append(deltas, c.Delta)
		}
		if c.Final != nil {
			final = c.Final
		}
	}
	assert.Equal(t, []string{"Hello ", "world"}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "Hello world", final.Content)
	// No counts reported: words x 1.3, rounded.
	assert.Equal(t, 3, final.Usage.OutputTokens)
}

func TestRespondStream_TruncatedIsMalformed(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
	})
	ch, err := a.RespondStream(context.Background(), &llm.Request{})
	require.NoError(t, err)
	var last llm.Chunk
	for c := range ch {
		last = c
	}
	assert.Nil(t, last.Final)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(last.Err))
}

func TestPing(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"models":[]}`)
	})
	assert.NoError(t, a.Ping(context.Background()))
}

package gemini

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
	return New(providers.GeminiConfig{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "g-test",
		BaseURL: srv.URL,
		Model:   "gemini-1.5-flash",
	}}, zap.NewNop())
}

func TestToWireContents(t *testing.T) {
	turns := []types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("q"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{ID: "call_search_0", Name: "search"}}),
		types.NewToolMessage("call_search_0", "search", `{"count":3}`),
		types.NewToolMessage("call_search_1", "search", "plain text"),
	}
	out := toWireContents(turns)
	require.Len(t, out, 3)
	assert.Equal(t, "model", out[1].Role)
	assert.JSONEq(t, `{}`, string(out[1].Parts[0].FunctionCall.Args))
	require.Len(t, out[2].Parts, 2)
	assert.JSONEq(t, `{"count":3}`, string(out[2].Parts[0].FunctionResponse.Response))
	assert.JSONEq(t, `{"result":"plain text"}`, string(out[2].Parts[1].FunctionResponse.Response))
}

func TestRespond_FunctionCallIDs(t *testing.T) {
	var got wireRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-test", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"search","args":{"q":"a"}}},
			{"functionCall":{"name":"search","args":{"q":"b"}}}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6}}`)
	})

	resp, err := a.Respond(context.Background(), &llm.Request{
		SystemPrompt: "sys",
		Turns:        []types.Message{types.NewUserMessage("find")},
		Tools:        []types.ToolSchema{{Name: "search"}},
	})
	require.NoError(t, err)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "sys", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Tools, 1)
	assert.Nil(t, got.Tools[0].FunctionDeclarations[0].Parameters)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_search_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "call_search_1", resp.ToolCalls[1].ID)
	assert.Equal(t, types.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.Total())
}

func TestRespondStream_TextChunks(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"MAX_TOKENS\"}],\"usageMetadata\":{\"promptTokenCount\":2,\"candidatesTokenCount\":2}}\n\n")
	})

	ch, err := a.RespondStream(context.Background(), &llm.Request{Turns: []types.Message{types.NewUserMessage("hi")}})
	require.NoError(t, err)
	var resp *llm.Response
	for c := range ch {
		require.Nil(t, c.Err)
		if c.Final != nil {
			resp = c.Final
		}
	}
	require.NotNil(t, resp)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, types.FinishLength, resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.Total())
}

func TestRespond_NoCandidatesIsMalformed(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})
	_, err := a.Respond(context.Background(), &llm.Request{})
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))
}

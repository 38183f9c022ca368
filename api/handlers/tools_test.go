package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/types"
)

type fakeCatalog struct {
	tools       []types.ToolSchema
	err         error
	useCache    []bool
	invalidated []string
}

func (f *fakeCatalog) ListTools(_ context.Context, _ string, useCache bool) ([]types.ToolSchema, error) {
	f.useCache = append(f.useCache, useCache)
	return f.tools, f.err
}

func (f *fakeCatalog) InvalidateTools(_ context.Context, principal string) error {
	f.invalidated = append(f.invalidated, principal)
	return nil
}

func TestToolHandler_List(t *testing.T) {
	catalog := &fakeCatalog{tools: []types.ToolSchema{
		{Name: "search", Description: "web search", Parameters: json.RawMessage(`{"type":"object"}`)},
	}}
	h := NewToolHandler(catalog, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, newRequest(http.MethodGet, "/api/v1/tools", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ToolList
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "search", list.Tools[0].Name)

	w = httptest.NewRecorder()
	h.HandleList(w, newRequest(http.MethodGet, "/api/v1/tools?refresh=true", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []bool{true, false}, catalog.useCache)
}

func TestToolHandler_CatalogUnavailable(t *testing.T) {
	catalog := &fakeCatalog{err: types.NewError(types.ErrCatalogUnavailable, "tool service down").WithRetryable(true)}
	h := NewToolHandler(catalog, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, newRequest(http.MethodGet, "/api/v1/tools", "alice", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestToolHandler_NoService(t *testing.T) {
	h := NewToolHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, newRequest(http.MethodGet, "/api/v1/tools", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tools":[],"count":0}`, string(decodeEnvelope(t, w).Data))
}

func TestToolHandler_ClearCache(t *testing.T) {
	catalog := &fakeCatalog{}
	h := NewToolHandler(catalog, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleClearCache(w, newRequest(http.MethodPost, "/api/v1/tools/cache/clear", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, catalog.invalidated)
}

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
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/types"
)

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) api.Session {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sess api.Session
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &sess))
	return sess
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	h := NewSessionHandler(st, "claude", "claude-3-5-sonnet-latest", zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleGetOrCreate(w, newRequest(http.MethodPost, "/api/v1/sessions", "alice", nil))
	first := decodeSession(t, w)
	assert.Equal(t, "Active", first.Status)
	assert.Equal(t, "claude", first.Provider)

	w = httptest.NewRecorder()
	h.HandleGetOrCreate(w, newRequest(http.MethodPost, "/api/v1/sessions", "alice", nil))
	assert.Equal(t, first.ID, decodeSession(t, w).ID)

	w = httptest.NewRecorder()
	h.HandleNew(w, newRequest(http.MethodPost, "/api/v1/sessions/new", "alice", nil))
	second := decodeSession(t, w)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := st.GetSession(context.Background(), first.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.SessionClosed, old.Status)

	w = httptest.NewRecorder()
	h.HandleClose(w, newRequest(http.MethodPost, "/", "bob", nil, "id", second.ID))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	h.HandleClose(w, newRequest(http.MethodPost, "/", "alice", nil, "id", second.ID))
	assert.Equal(t, http.StatusOK, w.Code)

	closed, err := st.GetSession(context.Background(), second.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.SessionClosed, closed.Status)
}

func TestSessionHandler_RequiresPrincipal(t *testing.T) {
	h := NewSessionHandler(newTestStore(t), "openai", "gpt-4o", zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleGetOrCreate(w, newRequest(http.MethodPost, "/api/v1/sessions", "", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ActionAuthorize, env.Error.Action)
}

func TestSessionHandler_Messages(t *testing.T) {
	st := newTestStore(t)
	h := NewSessionHandler(st, "openai", "gpt-4o", zap.NewNop())
	ctx := context.Background()

	sess, err := st.GetOrCreateSession(ctx, "alice", "openai", "gpt-4o")
	require.NoError(t, err)
	_, err = st.AppendTurns(ctx, sess.ID, []types.Message{
		types.NewUserMessage("one"),
		types.NewAssistantMessage("two"),
		types.NewUserMessage("three"),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.HandleListMessages(w, newRequest(http.MethodGet, "/?limit=2&offset=1", "alice", nil, "id", sess.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var page api.MessagePage
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &page))
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Content)
	assert.Equal(t, "three", page.Messages[1].Content)

	for _, q := range []string{"?limit=0", "?limit=abc", "?limit=1000", "?offset=-1"} {
		w = httptest.NewRecorder()
		h.HandleListMessages(w, newRequest(http.MethodGet, "/"+q, "alice", nil, "id", sess.ID))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = httptest.NewRecorder()
	h.HandleListMessages(w, newRequest(http.MethodGet, "/", "bob", nil, "id", sess.ID))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	h.HandleClearMessages(w, newRequest(http.MethodDelete, "/", "alice", nil, "id", sess.ID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":3}`, string(decodeEnvelope(t, w).Data))

	history, err := st.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

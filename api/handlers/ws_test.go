package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/convoflow/internal/ratelimit"
	"github.com/BaSui01/convoflow/llm/streaming"
	"github.com/BaSui01/convoflow/types"
)

func newWSServer(t *testing.T, h *ChatHandler, user string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}/ws", h.HandleWebSocket)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(types.WithPrincipal(r.Context(), user)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) streaming.Envelope {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestChatHandler_WebSocket(t *testing.T) {
	f := newChatFixture(t, ratelimit.Config{})
	done := types.Done(types.ModelResponse{Content: "hey", FinishReason: types.FinishStop})
	done.Turns = []types.Message{types.NewAssistantMessage("hey")}
	f.conv.events = []types.StreamEvent{types.ContentDelta("hey"), done}

	srv := newWSServer(t, f.handler, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + f.session.ID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"hi"}`)))
	var kinds []types.EventKind
	for {
		env := readEnvelope(t, ctx, conn)
		kinds = append(kinds, env.Type)
		if env.Type.Terminal() {
			break
		}
	}
	assert.Equal(t, []types.EventKind{types.EventAck, types.EventContent, types.EventDone}, kinds)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`not json`)))
	env := readEnvelope(t, ctx, conn)
	assert.Equal(t, types.EventError, env.Type)
	assert.Contains(t, string(env.Data), string(types.ErrInvalidRequest))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	history, err := f.store.History(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hey", history[1].Content)
}

func TestChatHandler_WebSocket_ForeignSession(t *testing.T) {
	f := newChatFixture(t, ratelimit.Config{})
	srv := newWSServer(t, f.handler, "mallory")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + f.session.ID + "/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatHandler_WebSocket_ClientCloseCancelsTurn(t *testing.T) {
	f := newChatFixture(t, ratelimit.Config{})
	f.conv.block = true
	f.conv.cancelled = make(chan struct{})

	srv := newWSServer(t, f.handler, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + f.session.ID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"long task"}`)))
	assert.Equal(t, types.EventAck, readEnvelope(t, ctx, conn).Type)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	select {
	case <-f.conv.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not cancelled after the client closed")
	}
	assert.Eventually(t, func() bool { return !f.conv.isLocked(f.session.ID) }, 2*time.Second, 10*time.Millisecond)

	history, err := f.store.History(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "long task", history[0].Content)
}

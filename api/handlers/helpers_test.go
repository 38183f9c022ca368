package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/agent/orchestrator"
	"github.com/BaSui01/convoflow/config"
	"github.com/BaSui01/convoflow/internal/database"
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}
	db, err := database.Open(dbCfg, zap.NewNop())
	require.NoError(t, err)
	poolCfg := database.PoolConfigFrom(dbCfg)
	poolCfg.HealthCheckInterval = 0
	pool, err := database.NewPoolManager(db, poolCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	s := store.New(pool, zap.NewNop())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fakeConversation struct {
	mu        sync.Mutex
	turns     []orchestrator.Turn
	result    *orchestrator.Result
	err       error
	events    []types.StreamEvent
	streamErr error
	busy      bool
	locked    map[string]bool

	// block makes Stream wait for cancellation and report it on cancelled.
	block     bool
	cancelled chan struct{}
}

func (f *fakeConversation) Acquire(sessionID string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy || f.locked[sessionID] {
		return nil, types.NewError(types.ErrSessionBusy, "a turn is already in progress for this session")
	}
	if f.locked == nil {
		f.locked = map[string]bool{}
	}
	f.locked[sessionID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.locked, sessionID)
		})
	}, nil
}

func (f *fakeConversation) isLocked(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[sessionID]
}

func (f *fakeConversation) record(turn orchestrator.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

func (f *fakeConversation) lastTurn() orchestrator.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns[len(f.turns)-1]
}

func (f *fakeConversation) Respond(_ context.Context, turn orchestrator.Turn) (*orchestrator.Result, error) {
	f.record(turn)
	return f.result, f.err
}

func (f *fakeConversation) Stream(ctx context.Context, turn orchestrator.Turn) (<-chan types.StreamEvent, error) {
	f.record(turn)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.block {
		ch := make(chan types.StreamEvent, 1)
		go func() {
			defer close(ch)
			<-ctx.Done()
			close(f.cancelled)
			ch <- types.Failed(types.NewError(types.ErrCancelled, "turn cancelled"))
		}()
		return ch, nil
	}
	ch := make(chan types.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// lockCheckStore records whether the session was locked on every append.
type lockCheckStore struct {
	*store.Store
	conv *fakeConversation

	mu     sync.Mutex
	locked []bool
}

func (s *lockCheckStore) AppendTurns(ctx context.Context, sessionID string, turns []types.Message) ([]store.ChatMessage, error) {
	s.mu.Lock()
	s.locked = append(s.locked, s.conv.isLocked(sessionID))
	s.mu.Unlock()
	return s.Store.AppendTurns(ctx, sessionID, turns)
}

func (s *lockCheckStore) appends() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.locked...)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

// newRequest builds a request as the router and auth middleware would
// hand it over: principal in the context and path values set.
func newRequest(method, target, user string, body any, pathValues ...string) *http.Request {
	var r *http.Request
	if body != nil {
		data, _ := json.Marshal(body)
		r = httptest.NewRequest(method, target, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		r = r.WithContext(types.WithPrincipal(r.Context(), user))
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		r.SetPathValue(pathValues[i], pathValues[i+1])
	}
	return r
}

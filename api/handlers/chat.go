package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/convoflow/agent/orchestrator"
	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/internal/ratelimit"
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/llm/streaming"
	"github.com/BaSui01/convoflow/types"
	"go.uber.org/zap"
)

// maxMessageRunes bounds one user message.
const maxMessageRunes = 32000

// persistTimeout bounds writes made after the client may have gone away.
const persistTimeout = 5 * time.Second

// SessionStore is the persistence the handlers need.
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, user, provider, model string) (*store.Session, error)
	CreateNewSession(ctx context.Context, user, provider, model string) (*store.Session, error)
	GetSession(ctx context.Context, id, user string) (*store.Session, error)
	CloseSession(ctx context.Context, id, user string) error
	History(ctx context.Context, sessionID string) ([]types.Message, error)
	AppendTurns(ctx context.Context, sessionID string, turns []types.Message) ([]store.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]store.ChatMessage, error)
	ClearMessages(ctx context.Context, sessionID string) (int64, error)
	AddUsage(ctx context.Context, sessionID string, tokens int, cost float64) error
	SubmitFeedback(ctx context.Context, user string, in store.FeedbackInput) (*store.Feedback, error)
	FeedbackStats(ctx context.Context, sessionID string) (store.FeedbackStats, error)
}

// Conversation runs turns. Acquire takes a session's turn lock; turns
// started with Locked set leave releasing it to the caller.
type Conversation interface {
	Acquire(sessionID string) (func(), error)
	Respond(ctx context.Context, turn orchestrator.Turn) (*orchestrator.Result, error)
	Stream(ctx context.Context, turn orchestrator.Turn) (<-chan types.StreamEvent, error)
}

// Limiter enforces per-user quotas.
type Limiter interface {
	Acquire(ctx context.Context, user string) (func(), error)
	RecordTokens(ctx context.Context, user string, tokens int)
	Status(ctx context.Context, user string) (ratelimit.Status, error)
}

// ChatHandler serves the message endpoints.
type ChatHandler struct {
	store    SessionStore
	conv     Conversation
	limiter  Limiter
	provider string
	model    string
	origins  []string
	logger   *zap.Logger
}

// ChatOption configures a ChatHandler.
type ChatOption func(*ChatHandler)

// WithAllowedOrigins sets the origin patterns accepted on WebSocket
// upgrades. Same-host requests are always accepted.
func WithAllowedOrigins(patterns []string) ChatOption {
	return func(h *ChatHandler) { h.origins = patterns }
}

// NewChatHandler creates a chat handler. provider and model are recorded
// on sessions it creates.
func NewChatHandler(st SessionStore, conv Conversation, limiter Limiter, provider, model string, logger *zap.Logger, opts ...ChatOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		store:    st,
		conv:     conv,
		limiter:  limiter,
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// pendingTurn is a user message that has been stored and admitted.
type pendingTurn struct {
	user    string
	turn    orchestrator.Turn
	stored  store.ChatMessage
	release func()
}

// admit checks the session and quotas, locks the session and stores the
// user message. The lock is held until release, so the reply is stored
// before another turn can read the history.
func (h *ChatHandler) admit(ctx context.Context, user, sessionID, text string) (*pendingTurn, *types.Error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "message is required").WithHTTPStatus(http.StatusBadRequest)
	}
	if len([]rune(text)) > maxMessageRunes {
		return nil, types.NewError(types.ErrInvalidRequest, "message is too long").WithHTTPStatus(http.StatusRequestEntityTooLarge)
	}

	sess, err := h.store.GetSession(ctx, sessionID, user)
	if err != nil {
		return nil, ToError(err)
	}
	if sess.Status != store.SessionActive {
		return nil, types.NewError(types.ErrInvalidRequest, "session is closed").WithHTTPStatus(http.StatusConflict)
	}
	unlock, err := h.conv.Acquire(sessionID)
	if err != nil {
		return nil, ToError(err)
	}

	release := unlock
	if h.limiter != nil {
		done, err := h.limiter.Acquire(ctx, user)
		if err != nil {
			unlock()
			return nil, ToError(err)
		}
		release = func() {
			done()
			unlock()
		}
	}

	history, err := h.store.History(ctx, sessionID)
	if err != nil {
		release()
		return nil, ToError(err)
	}
	stored, err := h.store.AppendTurns(ctx, sessionID, []types.Message{types.NewUserMessage(text)})
	if err != nil {
		release()
		return nil, ToError(err)
	}

	return &pendingTurn{
		user: user,
		turn: orchestrator.Turn{
			SessionID: sessionID,
			Principal: user,
			History:   history,
			UserText:  text,
			Locked:    true,
		},
		stored:  stored[0],
		release: release,
	}, nil
}

// admitHTTP decodes the request body and admits it. On failure the
// response has been written.
func (h *ChatHandler) admitHTTP(w http.ResponseWriter, r *http.Request) (*pendingTurn, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}
	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	user, ok := principal(w, r, h.logger)
	if !ok {
		return nil, false
	}
	p, err := h.admit(r.Context(), user, r.PathValue("id"), req.Message)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return nil, false
	}
	return p, true
}

// complete stores the turns of a finished reply and books its usage.
func (h *ChatHandler) complete(ctx context.Context, p *pendingTurn, turns []types.Message, resp *types.ModelResponse) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	log := h.logger.With(zap.String("session_id", p.turn.SessionID))
	lastID := ""
	if len(turns) > 0 {
		rows, err := h.store.AppendTurns(ctx, p.turn.SessionID, turns)
		if err != nil {
			log.Error("failed to store reply", zap.Error(err))
		} else {
			lastID = rows[len(rows)-1].ID
		}
	}
	if resp == nil {
		return lastID
	}
	total := resp.Usage.Total()
	if err := h.store.AddUsage(ctx, p.turn.SessionID, total, resp.Cost); err != nil {
		log.Warn("failed to record session usage", zap.Error(err))
	}
	if h.limiter != nil && total > 0 {
		h.limiter.RecordTokens(ctx, p.user, total)
	}
	return lastID
}

// HandleSend runs a turn and returns the whole reply.
// @Summary Send a message
// @Tags chat
// @Accept json
// @Produce json
// @Param id path string true "session id"
// @Param request body api.SendMessageRequest true "message"
// @Success 200 {object} api.SendMessageResponse
// @Failure 429 {object} Response
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/messages [post]
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	p, ok := h.admitHTTP(w, r)
	if !ok {
		return
	}
	defer p.release()

	res, err := h.conv.Respond(r.Context(), p.turn)
	if err != nil {
		terr := ToError(err)
		if terr.Code == types.ErrToolLoopLimit && res != nil {
			// Nothing is stored, but the tokens were spent.
			h.complete(r.Context(), p, nil, &res.Response)
			WriteErrorWithData(w, r, terr, sendResponse("", res), h.logger)
			return
		}
		WriteError(w, r, terr, h.logger)
		return
	}

	msgID := h.complete(r.Context(), p, res.Turns, &res.Response)
	WriteSuccess(w, r, sendResponse(msgID, res))
}

func sendResponse(msgID string, res *orchestrator.Result) api.SendMessageResponse {
	return api.SendMessageResponse{
		MessageID:    msgID,
		Content:      res.Response.Content,
		ToolCalls:    nonNilCalls(res.Response.ToolCalls),
		Usage:        res.Response.Usage,
		Cost:         res.Response.Cost,
		FinishReason: res.Response.FinishReason,
		Model:        res.Response.Model,
		Rounds:       res.Rounds,
	}
}

// HandleStream runs a turn and streams its progress as Server-Sent Events.
// @Summary Stream a reply
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param id path string true "session id"
// @Param request body api.SendMessageRequest true "message"
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	p, ok := h.admitHTTP(w, r)
	if !ok {
		return
	}
	defer p.release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.conv.Stream(ctx, p.turn)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}

	streaming.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	enc := streaming.NewEncoder(w)
	if err := enc.Encode(h.ack(p)); err != nil {
		cancel()
		drain(events)
		return
	}

	err = streaming.Pipe(events, enc, cancel, h.observe(ctx, p))
	if err != nil {
		h.logger.Debug("stream consumer went away",
			zap.String("session_id", p.turn.SessionID), zap.Error(err))
		drain(events)
	}
}

func (h *ChatHandler) ack(p *pendingTurn) types.StreamEvent {
	return types.Acknowledged(types.Ack{
		ID:        p.stored.ID,
		Content:   p.stored.Content,
		Timestamp: p.stored.Timestamp,
	})
}

// observe returns a stream observer that stores the reply on Done. A failed
// turn that still carries a partial response only books its usage.
func (h *ChatHandler) observe(ctx context.Context, p *pendingTurn) func(types.StreamEvent) {
	return func(ev types.StreamEvent) {
		switch ev.Kind {
		case types.EventDone:
			h.complete(ctx, p, ev.Turns, ev.Final)
		case types.EventError:
			if ev.Final != nil {
				h.complete(ctx, p, nil, ev.Final)
			}
			if ev.Err != nil {
				h.logger.Warn("turn failed",
					zap.String("session_id", p.turn.SessionID),
					zap.String("code", string(ev.Err.Code)),
					zap.String("message", ev.Err.Message))
			}
		}
	}
}

// HandleRateLimitStatus reports the caller's quota usage.
// @Summary Rate limit status
// @Tags chat
// @Produce json
// @Success 200 {object} ratelimit.Status
// @Security BearerAuth
// @Router /api/v1/rate-limit [get]
func (h *ChatHandler) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	if h.limiter == nil {
		WriteSuccess(w, r, ratelimit.Status{})
		return
	}
	st, err := h.limiter.Status(r.Context(), user)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, st)
}

// drain consumes the rest of a cancelled turn so the producer can exit.
func drain(events <-chan types.StreamEvent) {
	for range events {
	}
}

func nonNilCalls(calls []types.ToolCall) []types.ToolCall {
	if calls == nil {
		return []types.ToolCall{}
	}
	return calls
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/types"
	"go.uber.org/zap"
)

const maxPageSize = 200

// SessionHandler serves session lifecycle and history endpoints.
type SessionHandler struct {
	store    SessionStore
	provider string
	model    string
	logger   *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st SessionStore, provider, model string, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		store:    st,
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// HandleGetOrCreate returns the caller's active session, creating one if
// there is none.
// @Summary Get or create the active session
// @Tags sessions
// @Produce json
// @Success 200 {object} api.Session
// @Security BearerAuth
// @Router /api/v1/sessions [post]
func (h *SessionHandler) HandleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	sess, err := h.store.GetOrCreateSession(r.Context(), user, h.provider, h.model)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, toAPISession(sess))
}

// HandleNew closes the caller's active sessions and starts a new one.
// @Summary Start a new session
// @Tags sessions
// @Produce json
// @Success 200 {object} api.Session
// @Security BearerAuth
// @Router /api/v1/sessions/new [post]
func (h *SessionHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	sess, err := h.store.CreateNewSession(r.Context(), user, h.provider, h.model)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, toAPISession(sess))
}

// HandleClose closes a session.
// @Summary Close a session
// @Tags sessions
// @Param id path string true "session id"
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/close [post]
func (h *SessionHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.store.CloseSession(r.Context(), id, user); err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, map[string]string{"id": id, "status": string(store.SessionClosed)})
}

// HandleListMessages returns a page of a session's messages, oldest first.
// @Summary List messages
// @Tags sessions
// @Produce json
// @Param id path string true "session id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} api.MessagePage
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/messages [get]
func (h *SessionHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset, perr := pageParams(r)
	if perr != nil {
		WriteError(w, r, perr, h.logger)
		return
	}
	id := r.PathValue("id")
	if _, err := h.store.GetSession(r.Context(), id, user); err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	rows, err := h.store.ListMessages(r.Context(), id, limit, offset)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}

	page := api.MessagePage{Messages: make([]api.Message, 0, len(rows)), Limit: limit, Offset: offset}
	for _, m := range rows {
		page.Messages = append(page.Messages, toAPIMessage(m))
	}
	WriteSuccess(w, r, page)
}

// HandleClearMessages deletes a session's messages.
// @Summary Clear messages
// @Tags sessions
// @Param id path string true "session id"
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/messages [delete]
func (h *SessionHandler) HandleClearMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := h.store.GetSession(r.Context(), id, user); err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	n, err := h.store.ClearMessages(r.Context(), id)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, map[string]int64{"deleted": n})
}

func pageParams(r *http.Request) (int, int, *types.Error) {
	limit, offset := store.DefaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return 0, 0, types.NewError(types.ErrInvalidRequest, "limit must be between 1 and "+strconv.Itoa(maxPageSize))
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, types.NewError(types.ErrInvalidRequest, "offset must not be negative")
		}
		offset = n
	}
	return limit, offset, nil
}

func toAPISession(s *store.Session) api.Session {
	return api.Session{
		ID:            s.ID,
		Title:         s.Title,
		Status:        string(s.Status),
		Provider:      s.Provider,
		Model:         s.Model,
		TotalMessages: s.TotalMessages,
		TotalTokens:   s.TotalTokens,
		EstimatedCost: s.EstimatedCost,
		StartedAt:     s.StartedAt,
		LastActivity:  s.LastActivity,
	}
}

func toAPIMessage(m store.ChatMessage) api.Message {
	return api.Message{
		ID:         m.ID,
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
		TokenCount: m.TokenCount,
		Timestamp:  m.Timestamp,
	}
}

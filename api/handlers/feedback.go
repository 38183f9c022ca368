package handlers

import (
	"net/http"

	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/internal/store"
	"go.uber.org/zap"
)

// FeedbackHandler serves message feedback.
type FeedbackHandler struct {
	store  SessionStore
	logger *zap.Logger
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(st SessionStore, logger *zap.Logger) *FeedbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackHandler{store: st, logger: logger.With(zap.String("component", "feedback_handler"))}
}

// HandleSubmit records feedback on a message.
// @Summary Submit feedback
// @Tags feedback
// @Accept json
// @Param request body api.FeedbackRequest true "feedback"
// @Security BearerAuth
// @Router /api/v1/feedback [post]
func (h *FeedbackHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.FeedbackRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	fb, err := h.store.SubmitFeedback(r.Context(), user, store.FeedbackInput{
		MessageID: req.MessageID,
		Type:      store.FeedbackType(req.Type),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, fb)
}

// HandleStats summarises feedback. With session_id the caller must own the
// session; without it every session is counted.
// @Summary Feedback statistics
// @Tags feedback
// @Param session_id query string false "session id"
// @Success 200 {object} store.FeedbackStats
// @Security BearerAuth
// @Router /api/v1/feedback/stats [get]
func (h *FeedbackHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID != "" {
		if _, err := h.store.GetSession(r.Context(), sessionID, user); err != nil {
			WriteError(w, r, ToError(err), h.logger)
			return
		}
	}
	stats, err := h.store.FeedbackStats(r.Context(), sessionID)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, stats)
}

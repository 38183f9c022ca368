package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedbackInput is what a user submits about one message.
type FeedbackInput struct {
	MessageID string       `json:"message_id"`
	Type      FeedbackType `json:"feedback_type"`
	Rating    int          `json:"rating,omitempty"`
	Comment   string       `json:"comment,omitempty"`
}

// SubmitFeedback records feedback on a message in one of user's sessions.
func (s *Store) SubmitFeedback(ctx context.Context, user string, in FeedbackInput) (*Feedback, error) {
	if !in.Type.Valid() {
		return nil, invalid("feedback_type must be like, dislike or report")
	}
	if in.Rating < 0 || in.Rating > 5 {
		return nil, invalid("rating must be between 1 and 5")
	}

	var msg ChatMessage
	if err := s.db(ctx).Select("id", "session_id").First(&msg, "id = ?", in.MessageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("message")
		}
		return nil, storeError("load message", err)
	}
	if _, err := s.GetSession(ctx, msg.SessionID, user); err != nil {
		return nil, err
	}

	fb := &Feedback{
		ID:        uuid.NewString(),
		SessionID: msg.SessionID,
		MessageID: msg.ID,
		User:      user,
		Type:      in.Type,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: s.now(),
	}
	if err := s.db(ctx).Create(fb).Error; err != nil {
		return nil, storeError("save feedback", err)
	}
	return fb, nil
}

// FeedbackStats counts feedback by type and averages the given ratings.
// An empty sessionID covers every session.
func (s *Store) FeedbackStats(ctx context.Context, sessionID string) (FeedbackStats, error) {
	var row struct {
		Total    int64
		Likes    int64
		Dislikes int64
		Reports  int64
		Rated    int64
		Ratings  int64
	}
	q := s.db(ctx).Model(&Feedback{}).Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN feedback_type = 'like' THEN 1 ELSE 0 END), 0) AS likes, " +
			"COALESCE(SUM(CASE WHEN feedback_type = 'dislike' THEN 1 ELSE 0 END), 0) AS dislikes, " +
			"COALESCE(SUM(CASE WHEN feedback_type = 'report' THEN 1 ELSE 0 END), 0) AS reports, " +
			"COALESCE(SUM(CASE WHEN rating > 0 THEN 1 ELSE 0 END), 0) AS rated, " +
			"COALESCE(SUM(rating), 0) AS ratings")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if err := q.Scan(&row).Error; err != nil {
		return FeedbackStats{}, storeError("feedback stats", err)
	}

	stats := FeedbackStats{Total: row.Total, Likes: row.Likes, Dislikes: row.Dislikes, Reports: row.Reports}
	if row.Rated > 0 {
		stats.AverageRating = float64(row.Ratings) / float64(row.Rated)
	}
	return stats, nil
}

package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// blendedCostPerMillion prices a million tokens when the per-model split
// is unknown.
const blendedCostPerMillion = 3.0

// CleanupOlderThan deletes Active and Closed sessions idle since before
// cutoff, with their messages and feedback. Archived sessions are kept.
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	if err := s.db(ctx).Model(&Session{}).
		Where("status IN ? AND last_activity < ?", []SessionStatus{SessionActive, SessionClosed}, cutoff.UTC()).
		Pluck("id", &ids).Error; err != nil {
		return 0, storeError("find expired sessions", err)
	}
	if len(ids) == 0 {
		s.logger.Debug("no expired sessions")
		return 0, nil
	}

	var deleted int64
	err := s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&ChatMessage{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Session{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, storeError("delete expired sessions", err)
	}
	s.logger.Info("expired sessions deleted", zap.Int64("count", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

// ArchiveOlderThan marks sessions idle since before cutoff Archived.
func (s *Store) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).Model(&Session{}).
		Where("status <> ? AND last_activity < ?", SessionArchived, cutoff.UTC()).
		Update("status", SessionArchived)
	if res.Error != nil {
		return 0, storeError("archive sessions", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("sessions archived", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// DailyUsage aggregates the messages stored on day (UTC).
func (s *Store) DailyUsage(ctx context.Context, day time.Time) (UsageReport, error) {
	start := startOfDay(day)
	end := start.Add(24 * time.Hour)

	var row struct {
		Sessions    int64
		Messages    int64
		Tokens      int64
		ActiveUsers int64
	}
	err := s.db(ctx).Table("chat_messages").
		Select("COUNT(DISTINCT chat_messages.session_id) AS sessions, "+
			"COUNT(*) AS messages, "+
			"COALESCE(SUM(chat_messages.token_count), 0) AS tokens, "+
			"COUNT(DISTINCT chat_sessions.user_id) AS active_users").
		Joins("JOIN chat_sessions ON chat_sessions.id = chat_messages.session_id").
		Where("chat_messages.sent_at >= ? AND chat_messages.sent_at < ?", start, end).
		Scan(&row).Error
	if err != nil {
		return UsageReport{}, storeError("daily usage", err)
	}

	return UsageReport{
		Date:          start.Format("2006-01-02"),
		Sessions:      row.Sessions,
		Messages:      row.Messages,
		Tokens:        row.Tokens,
		ActiveUsers:   row.ActiveUsers,
		EstimatedCost: float64(row.Tokens) / 1e6 * blendedCostPerMillion,
	}, nil
}

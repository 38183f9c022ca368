package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/convoflow/types"
)

// DefaultPageSize is used when ListMessages gets no limit.
const DefaultPageSize = 50

// History returns the session's turns in creation order.
func (s *Store) History(ctx context.Context, sessionID string) ([]types.Message, error) {
	var rows []ChatMessage
	if err := s.db(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, storeError("load history", err)
	}
	out := make([]types.Message, len(rows))
	for i, row := range rows {
		out[i] = row.ToMessage()
	}
	return out, nil
}

// AppendTurns stores turns after the session's existing messages, in the
// order given, and bumps the message counter and last activity.
func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []types.Message) ([]ChatMessage, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	var rows []ChatMessage
	err := s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Select("id", "model", "total_messages").First(&sess, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("session")
			}
			return err
		}

		now := s.now()
		rows = make([]ChatMessage, len(turns))
		for i, turn := range turns {
			ts := turn.Timestamp
			if ts.IsZero() {
				ts = now
			}
			rows[i] = ChatMessage{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				Position:   sess.TotalMessages + i,
				Role:       turn.Role,
				Content:    turn.Content,
				ToolCalls:  turn.ToolCalls,
				ToolCallID: turn.ToolCallID,
				Name:       turn.Name,
				TokenCount: countTokens(sess.Model, turn),
				Timestamp:  ts.UTC(),
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).Where("id = ?", sessionID).Updates(map[string]any{
			"total_messages": gorm.Expr("total_messages + ?", len(rows)),
			"last_activity":  now,
		}).Error
	})
	if err != nil {
		return nil, storeError("append turns", err)
	}
	s.logger.Debug("turns stored", zap.String("session_id", sessionID), zap.Int("count", len(rows)))
	return rows, nil
}

// ListMessages returns one page of the session's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	rows := []ChatMessage{}
	err := s.db(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, storeError("list messages", err)
}

// ClearMessages deletes every message of the session and its feedback.
// The session's counters are kept.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) (int64, error) {
	var deleted int64
	err := s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		res := tx.Where("session_id = ?", sessionID).Delete(&ChatMessage{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, storeError("clear messages", err)
	}
	s.logger.Info("session history cleared", zap.String("session_id", sessionID), zap.Int64("deleted", deleted))
	return deleted, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/convoflow/internal/database"
	"github.com/BaSui01/convoflow/llm/tokenizer"
	"github.com/BaSui01/convoflow/types"
)

// txRetries bounds retried transactions on lock contention.
const txRetries = 3

// Store is the GORM-backed session store.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

// New returns a store over pool. Call Migrate before first use.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates the store's tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db(ctx).AutoMigrate(&Session{}, &ChatMessage{}, &Feedback{}); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

func notFound(what string) *types.Error {
	return types.NewError(types.ErrNotFound, what+" not found").WithHTTPStatus(http.StatusNotFound)
}

func invalid(msg string) *types.Error {
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(http.StatusBadRequest)
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.WrapError(err, types.ErrInternalError, op+" failed")
}

func (s *Store) newSession(user, provider, model string) *Session {
	now := s.now()
	return &Session{
		ID:           uuid.NewString(),
		User:         user,
		Title:        "Chat on " + now.Format("2006-01-02 15:04"),
		Status:       SessionActive,
		Provider:     provider,
		Model:        model,
		StartedAt:    now,
		LastActivity: now,
	}
}

// GetOrCreateSession returns the user's most recently active session, or
// starts a new one when none is active.
func (s *Store) GetOrCreateSession(ctx context.Context, user, provider, model string) (*Session, error) {
	if strings.TrimSpace(user) == "" {
		return nil, invalid("user is required")
	}
	var sess Session
	err := s.db(ctx).
		Where("user_id = ? AND status = ?", user, SessionActive).
		Order("last_activity DESC").
		First(&sess).Error
	switch {
	case err == nil:
		return &sess, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storeError("load session", err)
	}

	created := s.newSession(user, provider, model)
	if err := s.db(ctx).Create(created).Error; err != nil {
		return nil, storeError("create session", err)
	}
	s.logger.Info("session created", zap.String("session_id", created.ID), zap.String("user", user))
	return created, nil
}

// CreateNewSession closes the user's active sessions and starts a new one.
func (s *Store) CreateNewSession(ctx context.Context, user, provider, model string) (*Session, error) {
	if strings.TrimSpace(user) == "" {
		return nil, invalid("user is required")
	}
	created := s.newSession(user, provider, model)
	err := s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		if err := tx.Model(&Session{}).
			Where("user_id = ? AND status = ?", user, SessionActive).
			Update("status", SessionClosed).Error; err != nil {
			return err
		}
		return tx.Create(created).Error
	})
	if err != nil {
		return nil, storeError("create session", err)
	}
	s.logger.Info("session created", zap.String("session_id", created.ID), zap.String("user", user))
	return created, nil
}

// GetSession loads a session owned by user. Another user's session is
// reported as forbidden.
func (s *Store) GetSession(ctx context.Context, id, user string) (*Session, error) {
	var sess Session
	if err := s.db(ctx).First(&sess, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("session")
		}
		return nil, storeError("load session", err)
	}
	if sess.User != user {
		return nil, types.NewError(types.ErrForbidden, "access to this session is denied").WithHTTPStatus(http.StatusForbidden)
	}
	return &sess, nil
}

// CloseSession marks the session Closed.
func (s *Store) CloseSession(ctx context.Context, id, user string) error {
	if _, err := s.GetSession(ctx, id, user); err != nil {
		return err
	}
	err := s.db(ctx).Model(&Session{}).Where("id = ?", id).Update("status", SessionClosed).Error
	return storeError("close session", err)
}

// AddUsage adds one model call's token count and cost to the session.
func (s *Store) AddUsage(ctx context.Context, sessionID string, tokens int, cost float64) error {
	res := s.db(ctx).Model(&Session{}).Where("id = ?", sessionID).Updates(map[string]any{
		"total_tokens":   gorm.Expr("total_tokens + ?", tokens),
		"estimated_cost": gorm.Expr("estimated_cost + ?", cost),
	})
	if res.Error != nil {
		return storeError("add usage", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("session")
	}
	return nil
}

// countTokens sizes a turn for analytics with the model's tokenizer.
func countTokens(model string, turn types.Message) int {
	return tokenizer.CountTurns(tokenizer.ForModel(model), []types.Message{turn})
}

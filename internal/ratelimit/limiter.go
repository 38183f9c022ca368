package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/internal/cache"
	"github.com/BaSui01/convoflow/types"
)

// Limit names used in rejections and metrics.
const (
	LimitMessages   = "messages_per_hour"
	LimitTokens     = "tokens_per_day"
	LimitConcurrent = "concurrent"
)

const (
	messageWindow = time.Hour
	tokenWindow   = 25 * time.Hour
	// concurrentTTL clears counters leaked by crashed requests.
	concurrentTTL = 5 * time.Minute
)

// Config holds the per-user quotas. A zero quota is not enforced.
type Config struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	TokensPerDay    int `yaml:"tokens_per_day" json:"tokens_per_day"`
	MaxConcurrent   int `yaml:"max_concurrent" json:"max_concurrent"`
}

// Status is a user's current usage against each quota.
type Status struct {
	MessagesThisHour int64 `json:"messages_this_hour"`
	MessagesLimit    int   `json:"messages_limit"`
	TokensToday      int64 `json:"tokens_today"`
	TokensLimit      int   `json:"tokens_limit"`
	Concurrent       int64 `json:"concurrent"`
	ConcurrentLimit  int   `json:"concurrent_limit"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRejectHook is called with the limit name on every rejection.
func WithRejectHook(fn func(limit string)) Option {
	return func(l *Limiter) { l.onReject = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter enforces Config for every user.
type Limiter struct {
	cfg      Config
	store    counters
	logger   *zap.Logger
	now      func() time.Time
	onReject func(limit string)
}

// New returns a limiter backed by shared, or by process memory when
// shared is nil.
func New(cfg Config, shared *cache.Manager, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ratelimit")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if shared != nil {
		l.store = redisCounters{m: shared}
	} else {
		l.store = newMemoryCounters(l.now)
	}
	return l
}

func messagesKey(user string) string { return cache.Key("ratelimit", "messages", user) }

func concurrentKey(user string) string { return cache.Key("ratelimit", "concurrent", user) }

func (l *Limiter) tokensKey(user string) string {
	return cache.Key("ratelimit", "tokens", user, l.now().UTC().Format("2006-01-02"))
}

func (l *Limiter) reject(limit, msg string) *types.Error {
	if l.onReject != nil {
		l.onReject(limit)
	}
	return types.NewError(types.ErrRateLimited, msg).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true).
		WithAction(types.ActionRetry)
}

// Acquire counts one message for user and reserves a concurrency slot.
// The returned release frees the slot and is safe to call more than once.
// Counter storage failures are logged and the request is let through.
func (l *Limiter) Acquire(ctx context.Context, user string) (release func(), err error) {
	noop := func() {}

	if limit := l.cfg.MessagesPerHour; limit > 0 {
		n, err := l.store.incr(ctx, messagesKey(user), 1, messageWindow)
		if err != nil {
			l.logger.Warn("message counter unavailable", zap.Error(err))
		} else if n > int64(limit) {
			l.undo(ctx, messagesKey(user))
			return noop, l.reject(LimitMessages, fmt.Sprintf("message limit of %d per hour reached, try again later", limit))
		}
	}

	if limit := l.cfg.TokensPerDay; limit > 0 {
		used, err := l.store.get(ctx, l.tokensKey(user))
		if err != nil {
			l.logger.Warn("token counter unavailable", zap.Error(err))
		} else if used >= int64(limit) {
			l.undo(ctx, messagesKey(user))
			return noop, l.reject(LimitTokens, fmt.Sprintf("daily token limit of %d reached, try again tomorrow", limit))
		}
	}

	if limit := l.cfg.MaxConcurrent; limit > 0 {
		n, err := l.store.incr(ctx, concurrentKey(user), 1, concurrentTTL)
		if err != nil {
			l.logger.Warn("concurrency counter unavailable", zap.Error(err))
			return noop, nil
		}
		if n > int64(limit) {
			l.undo(ctx, concurrentKey(user))
			l.undo(ctx, messagesKey(user))
			return noop, l.reject(LimitConcurrent, fmt.Sprintf("too many concurrent requests (max %d)", limit))
		}
		var once sync.Once
		return func() {
			once.Do(func() {
				// the request context may already be cancelled
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				l.undo(ctx, concurrentKey(user))
			})
		}, nil
	}
	return noop, nil
}

// undo decrements key, deleting it rather than going negative.
func (l *Limiter) undo(ctx context.Context, key string) {
	n, err := l.store.incr(ctx, key, -1, concurrentTTL)
	if err != nil {
		l.logger.Warn("counter decrement failed", zap.String("key", key), zap.Error(err))
		return
	}
	if n < 0 {
		_ = l.store.del(ctx, key)
	}
}

// RecordTokens adds tokens to user's daily total.
func (l *Limiter) RecordTokens(ctx context.Context, user string, tokens int) {
	if tokens <= 0 || l.cfg.TokensPerDay <= 0 {
		return
	}
	if _, err := l.store.incr(ctx, l.tokensKey(user), int64(tokens), tokenWindow); err != nil {
		l.logger.Warn("token counter update failed", zap.Error(err))
	}
}

// Status reports user's usage.
func (l *Limiter) Status(ctx context.Context, user string) (Status, error) {
	st := Status{
		MessagesLimit:   l.cfg.MessagesPerHour,
		TokensLimit:     l.cfg.TokensPerDay,
		ConcurrentLimit: l.cfg.MaxConcurrent,
	}
	var err error
	if st.MessagesThisHour, err = l.store.get(ctx, messagesKey(user)); err != nil {
		return st, err
	}
	if st.TokensToday, err = l.store.get(ctx, l.tokensKey(user)); err != nil {
		return st, err
	}
	if st.Concurrent, err = l.store.get(ctx, concurrentKey(user)); err != nil {
		return st, err
	}
	return st, nil
}

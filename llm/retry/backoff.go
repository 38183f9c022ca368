package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/types"
)

// Policy configures exponential backoff.
type Policy struct {
	MaxRetries   int           // 0 disables retries
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // ±25%

	// Retryable decides whether err is worth another attempt. Nil means
	// types.IsRetryable.
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is used for model calls.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs a function until it succeeds, fails permanently or the
// attempts run out.
type Retryer interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer creates an exponential backoff retryer. Invalid fields
// are replaced with defaults.
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Retryable == nil {
		p.Retryable = types.IsRetryable
	}
	return &backoffRetryer{policy: p, logger: logger}
}

// Do returns nil on the first success. Otherwise it returns the last error
// unchanged, so the caller still sees the original error code.
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return types.NewError(types.ErrCancelled, "retry cancelled").WithCause(ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !r.policy.Retryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

// delay is initial*multiplier^(attempt-1), capped at MaxDelay and never
// below InitialDelay after jitter.
func (r *backoffRetryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}

package mcp

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/internal/cache"
	"github.com/BaSui01/convoflow/types"
)

// ResultCache stores successful tool results in Redis so identical calls
// by the same principal within the TTL are not repeated.
type ResultCache struct {
	store   *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
	observe func(cacheType string, hit bool)
}

// NewResultCache creates a result cache. A non-positive ttl means five
// minutes.
func NewResultCache(store *cache.Manager, ttl time.Duration, logger *zap.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{store: store, ttl: ttl, logger: logger}
}

// ResultKey is the md5 of the tool name, the canonical arguments and the
// principal. Canonical means re-encoded, so object key order does not
// matter.
func ResultKey(principal string, call types.ToolCall) string {
	args := []byte(call.Arguments)
	var v any
	if err := json.Unmarshal(call.Arguments, &v); err == nil {
		args, _ = json.Marshal(v)
	}
	sum := md5.Sum([]byte(call.Name + "\x00" + string(args) + "\x00" + principal))
	return "mcp:result:" + call.Name + ":" + hex.EncodeToString(sum[:])
}

func (r *ResultCache) get(ctx context.Context, principal string, call types.ToolCall) (json.RawMessage, bool) {
	val, err := r.store.Get(ctx, ResultKey(principal, call))
	if r.observe != nil {
		r.observe("tool_result", err == nil)
	}
	if err != nil {
		if !cache.IsCacheMiss(err) {
			r.logger.Debug("tool result cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return json.RawMessage(val), true
}

func (r *ResultCache) put(ctx context.Context, principal string, call types.ToolCall, result json.RawMessage) {
	if err := r.store.Set(ctx, ResultKey(principal, call), string(result), r.ttl); err != nil {
		r.logger.Warn("tool result cache write failed", zap.String("tool", call.Name), zap.Error(err))
	}
}

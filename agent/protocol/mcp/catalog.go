package mcp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/convoflow/internal/cache"
	"github.com/BaSui01/convoflow/types"
)

const catalogKeyPrefix = "mcp:tools:"

type catalogEntry struct {
	tools     []types.ToolSchema
	fetchedAt time.Time
}

// CatalogCache holds the tool catalog per principal. An entry is valid for
// TTL. A refresh that fails falls back to the cached entry only while it is
// still unexpired, which happens when the caller bypassed the cache.
// Concurrent refreshes for the same principal share one upstream call.
type CatalogCache struct {
	ttl     time.Duration
	shared  *cache.Manager
	logger  *zap.Logger
	now     func() time.Time
	observe func(cacheType string, hit bool)

	mu      sync.RWMutex
	entries map[string]catalogEntry
	group   singleflight.Group
}

// NewCatalogCache creates a catalog cache. shared is an optional Redis tier
// that lets replicas reuse each other's fetches; pass nil to keep the
// catalog in process.
func NewCatalogCache(ttl time.Duration, shared *cache.Manager, logger *zap.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogCache{
		ttl:     ttl,
		shared:  shared,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]catalogEntry),
	}
}

// Get returns the catalog for principal. With useCache false the local and
// shared tiers are skipped and fetch is always called, but a failed fetch
// still falls back to an unexpired local entry. Otherwise the fetch error is
// returned.
func (c *CatalogCache) Get(ctx context.Context, principal string, useCache bool, fetch func(ctx context.Context) ([]types.ToolSchema, error)) ([]types.ToolSchema, error) {
	if useCache {
		if tools, ok := c.fresh(principal); ok {
			c.record(true)
			return tools, nil
		}
		if tools, ok := c.fromShared(ctx, principal); ok {
			c.record(true)
			c.store(principal, tools)
			return tools, nil
		}
		c.record(false)
	}

	ch := c.group.DoChan(principal, func() (any, error) {
		// The refresh outlives a caller that gives up, so waiters are not
		// failed by someone else's cancellation.
		tools, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(principal, tools)
		c.toShared(context.WithoutCancel(ctx), principal, tools)
		return tools, nil
	})

	select {
	case <-ctx.Done():
		return nil, types.NewError(types.ErrCancelled, "catalog refresh cancelled").WithCause(ctx.Err())
	case res := <-ch:
		if res.Err == nil {
			return res.Val.([]types.ToolSchema), nil
		}
		if tools, ok := c.fresh(principal); ok {
			c.logger.Warn("tool catalog refresh failed, serving last good catalog",
				zap.String("principal", principal), zap.Error(res.Err))
			return tools, nil
		}
		return nil, res.Err
	}
}

// Invalidate drops the cached catalog for principal from both tiers.
func (c *CatalogCache) Invalidate(ctx context.Context, principal string) error {
	c.mu.Lock()
	delete(c.entries, principal)
	c.mu.Unlock()
	if c.shared != nil {
		return c.shared.Delete(ctx, catalogKeyPrefix+principal)
	}
	return nil
}

func (c *CatalogCache) record(hit bool) {
	if c.observe != nil {
		c.observe("tool_catalog", hit)
	}
}

func (c *CatalogCache) fresh(principal string) ([]types.ToolSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[principal]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.tools, true
}

func (c *CatalogCache) store(principal string, tools []types.ToolSchema) {
	c.mu.Lock()
	c.entries[principal] = catalogEntry{tools: tools, fetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *CatalogCache) fromShared(ctx context.Context, principal string) ([]types.ToolSchema, bool) {
	if c.shared == nil {
		return nil, false
	}
	var tools []types.ToolSchema
	if err := c.shared.GetJSON(ctx, catalogKeyPrefix+principal, &tools); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Debug("shared catalog read failed", zap.Error(err))
		}
		return nil, false
	}
	return tools, true
}

func (c *CatalogCache) toShared(ctx context.Context, principal string, tools []types.ToolSchema) {
	if c.shared == nil {
		return
	}
	if err := c.shared.SetJSON(ctx, catalogKeyPrefix+principal, tools, c.ttl); err != nil {
		c.logger.Debug("shared catalog write failed", zap.Error(err))
	}
}

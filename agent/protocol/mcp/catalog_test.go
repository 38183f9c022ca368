package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/convoflow/types"
)

func newRedisClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCatalogCache_ExpiredEntryNotServedOnFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCatalogCache(time.Minute, nil, nil)
	c.now = func() time.Time { return now }

	good := []types.ToolSchema{{Name: "list_documents"}}
	fails := errors.New("down")
	calls := 0
	fetch := func(ok bool) func(context.Context) ([]types.ToolSchema, error) {
		return func(context.Context) ([]types.ToolSchema, error) {
			calls++
			if ok {
				return good, nil
			}
			return nil, fails
		}
	}
	ctx := context.Background()

	tools, err := c.Get(ctx, "alice", true, fetch(true))
	require.NoError(t, err)
	assert.Equal(t, good, tools)

	// Still fresh: no fetch.
	now = now.Add(30 * time.Second)
	_, err = c.Get(ctx, "alice", true, fetch(false))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Bypassing the cache with a failing upstream falls back to the
	// unexpired entry.
	tools, err = c.Get(ctx, "alice", false, fetch(false))
	require.NoError(t, err)
	assert.Equal(t, good, tools)
	assert.Equal(t, 2, calls)

	// Expired: the refresh failure surfaces.
	now = now.Add(60 * time.Second)
	tools, err = c.Get(ctx, "alice", true, fetch(false))
	assert.ErrorIs(t, err, fails)
	assert.Nil(t, tools)
	assert.Equal(t, 3, calls)
}

func TestCatalogCache_CancelledWaiter(t *testing.T) {
	c := NewCatalogCache(time.Minute, nil, nil)
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "alice", true, func(context.Context) ([]types.ToolSchema, error) {
		<-release
		return nil, nil
	})
	close(release)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
}

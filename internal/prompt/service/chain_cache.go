package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/cache"
	"github.com/smallbiznis/newsdesk/internal/prompt/domain"
)

const chainTTL = 30 * time.Second

// ChainCache keeps resolved active chains per account. The local copy
// bounds redis round trips; the shared copy lets API writes invalidate
// worker processes.
type ChainCache struct {
	local  cache.Cache[snowflake.ID, []domain.ChainStep]
	shared *cache.JSONStore
}

func NewChainCache(shared *cache.JSONStore) *ChainCache {
	return &ChainCache{
		local:  cache.NewTTLCache[snowflake.ID, []domain.ChainStep](),
		shared: shared,
	}
}

func chainKey(accountID snowflake.ID) string {
	return "prompt:chain:" + accountID.String()
}

func (c *ChainCache) Get(ctx context.Context, accountID snowflake.ID) ([]domain.ChainStep, bool) {
	if !c.shared.Available() {
		return c.local.Get(accountID)
	}
	// Redis is authoritative when present so invalidations from other
	// processes are seen immediately.
	var steps []domain.ChainStep
	if err := c.shared.Get(ctx, chainKey(accountID), &steps); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			return c.local.Get(accountID)
		}
		c.local.Delete(accountID)
		return nil, false
	}
	return steps, true
}

func (c *ChainCache) Set(ctx context.Context, accountID snowflake.ID, steps []domain.ChainStep) {
	c.local.Set(accountID, steps, chainTTL)
	_ = c.shared.Set(ctx, chainKey(accountID), steps, chainTTL)
}

func (c *ChainCache) Invalidate(ctx context.Context, accountID snowflake.ID) {
	c.local.Delete(accountID)
	_ = c.shared.Delete(ctx, chainKey(accountID))
}

package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestTTLCacheDeleteFunc(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("acct:1|chain", "x", time.Hour)
	c.Set("acct:2|chain", "y", time.Hour)

	c.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, "acct:1|") })

	_, ok := c.Get("acct:1|chain")
	assert.False(t, ok)
	_, ok = c.Get("acct:2|chain")
	assert.True(t, ok)
}

func TestJSONStoreWithoutRedisMisses(t *testing.T) {
	store := NewJSONStore(nil)
	var out map[string]any
	assert.ErrorIs(t, store.Get(context.Background(), "k", &out), ErrMiss)
	assert.NoError(t, store.Set(context.Background(), "k", map[string]any{"a": 1}, time.Minute))
	assert.NoError(t, store.Delete(context.Background(), "k"))
}

package profilestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/model"
)

func cachedProfile(key string) *model.ConsolidatedProfile {
	return &model.ConsolidatedProfile{EntityKey: key, PrimaryName: key}
}

func TestFrontCache_HitAndMiss(t *testing.T) {
	c := NewFrontCache(10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("acme", cachedProfile("acme"))
	got, ok := c.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "acme", got.EntityKey)
}

func TestFrontCache_EvictsOldestWhenFull(t *testing.T) {
	c := NewFrontCache(2, time.Minute)

	c.Set("a", cachedProfile("a"))
	c.Set("b", cachedProfile("b"))
	c.Set("c", cachedProfile("c"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestFrontCache_ReplaceRefreshesPosition(t *testing.T) {
	c := NewFrontCache(2, time.Minute)

	c.Set("a", cachedProfile("a"))
	c.Set("b", cachedProfile("b"))
	c.Set("a", cachedProfile("a"))
	c.Set("c", cachedProfile("c"))

	_, ok := c.Get("b")
	assert.False(t, ok, "b became oldest after a was re-set")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestFrontCache_TTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewFrontCache(10, 5*time.Minute).WithNow(func() time.Time { return now })

	c.Set("acme", cachedProfile("acme"))

	now = now.Add(4 * time.Minute)
	_, ok := c.Get("acme")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("acme")
	assert.False(t, ok, "entry past its TTL should miss")
	assert.Equal(t, 0, c.Len())
}

func TestFrontCache_Evict(t *testing.T) {
	c := NewFrontCache(10, time.Minute)
	c.Set("acme", cachedProfile("acme"))
	c.Evict("acme")

	_, ok := c.Get("acme")
	assert.False(t, ok)
	assert.Empty(t, c.Keys())
}

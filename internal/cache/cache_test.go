package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)
	c := &ttlCache[string, int]{
		entries: make(map[string]entry[int]),
		now:     func() time.Time { return now },
	}

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.NotContains(t, c.entries, "a")

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheKeyNormalizesParts(t *testing.T) {
	assert.Equal(t, "funder_type|quarterly|seta", cacheKey("FUNDER_TYPE", " QUARTERLY ", "", "SETA"))
}

func TestMemorySnapshotCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySnapshotCache()
	key := collectiondomain.Key{
		EntityType: collectiondomain.EntityFunderType,
		PeriodType: collectiondomain.PeriodQuarterly,
		EntityRef:  "SETA",
	}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// unsaved snapshots are not cached
	require.NoError(t, c.Set(ctx, collectiondomain.Snapshot{EntityType: key.EntityType, PeriodType: key.PeriodType, EntityRef: key.EntityRef}))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, collectiondomain.Snapshot{
		ID:             42,
		EntityType:     key.EntityType,
		PeriodType:     key.PeriodType,
		EntityRef:      key.EntityRef,
		CollectionRate: decimal.RequireFromString("87.50"),
		RiskFlag:       "MEDIUM",
	}))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, got.ID)
	assert.Equal(t, "MEDIUM", got.RiskFlag)
	assert.True(t, got.CollectionRate.Equal(decimal.RequireFromString("87.5")))
}

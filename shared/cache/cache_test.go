package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Total string `json:"total"`
	Count int    `json:"count"`
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(5*time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", summary{Total: "10", Count: 1}))

	var got summary
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, got.Count)

	now = now.Add(5 * time.Minute)
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemory_ShorterTTLAndBound(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(time.Hour, WithClock(func() time.Time { return now }), WithMaxEntries(2))
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "short", 1, time.Minute))
	require.NoError(t, c.SetWithTTL(ctx, "long", 2, 10*time.Hour))
	require.NoError(t, c.Set(ctx, "third", 3))
	assert.Equal(t, 2, c.Len())

	var v int
	ok, _ := c.Get(ctx, "short", &v)
	assert.False(t, ok, "entry closest to expiry is evicted first")

	now = now.Add(59 * time.Minute)
	ok, _ = c.Get(ctx, "long", &v)
	assert.True(t, ok)
	now = now.Add(2 * time.Minute)
	ok, _ = c.Get(ctx, "long", &v)
	assert.False(t, ok, "ttl is capped at the cache default")
}

func TestMemory_InvalidateAll(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))

	require.NoError(t, c.InvalidateAll(ctx))

	var v int
	ok, err := c.Get(ctx, "a", &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	mr, client := setupRedis(t)
	c := NewRedis(client, "analytics", 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "summary:u1", summary{Total: "125", Count: 2}))
	assert.True(t, mr.Exists("analytics:summary:u1"))
	assert.Equal(t, 5*time.Minute, mr.TTL("analytics:summary:u1"))

	var got summary
	ok, err := c.Get(ctx, "summary:u1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, summary{Total: "125", Count: 2}, got)

	mr.FastForward(6 * time.Minute)
	ok, err = c.Get(ctx, "summary:u1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_InvalidateAllKeepsOtherNamespaces(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	analytics := NewRedis(client, "analytics", time.Minute)
	identities := NewRedis(client, "identity", time.Minute)

	for i := 0; i < 150; i++ {
		require.NoError(t, analytics.Set(ctx, Key("summary", strconv.Itoa(i)), i))
	}
	require.NoError(t, identities.Set(ctx, "token", "x"))

	require.NoError(t, analytics.InvalidateAll(ctx))

	keys := mr.Keys()
	assert.Equal(t, []string{"identity:token"}, keys)
}

func TestRedis_NilClient(t *testing.T) {
	c := NewRedis(nil, "x", time.Minute)
	_, err := c.Get(context.Background(), "k", new(int))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHashKey(t *testing.T) {
	k := HashKey("token", "secret-bearer")
	assert.Contains(t, k, "token:")
	assert.NotContains(t, k, "secret-bearer")
	assert.Equal(t, k, HashKey("token", "secret-bearer"))
}

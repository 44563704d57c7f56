package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return &Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}, mr
}

func TestSetGetDelete(t *testing.T) {
	client, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key", "value", time.Minute))

	got, err := client.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	require.NoError(t, client.Delete(ctx, "key"))
	_, err = client.Get(ctx, "key")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestClaimOnce(t *testing.T) {
	client, mr := setupTestCache(t)
	ctx := context.Background()

	t.Run("Success - First claim wins", func(t *testing.T) {
		first, err := client.ClaimOnce(ctx, "webhook:delivery-1", 48*time.Hour)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("Success - Replay inside the window is refused", func(t *testing.T) {
		again, err := client.ClaimOnce(ctx, "webhook:delivery-1", 48*time.Hour)
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("Success - Claimable again after expiry", func(t *testing.T) {
		mr.FastForward(49 * time.Hour)
		later, err := client.ClaimOnce(ctx, "webhook:delivery-1", 48*time.Hour)
		require.NoError(t, err)
		assert.True(t, later)
	})
}

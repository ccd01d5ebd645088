package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour), mr
}

func TestMarkSeenThenSeen(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.False(t, c.Seen(ctx, "M1"))
	c.MarkSeen(ctx, "M1")
	require.True(t, c.Seen(ctx, "M1"))
}

func TestSeenExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	c.MarkSeen(ctx, "M1")
	require.True(t, c.Seen(ctx, "M1"))
	mr.FastForward(2 * time.Hour)
	require.False(t, c.Seen(ctx, "M1"))
}

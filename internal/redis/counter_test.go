package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) (*UnreadCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewUnreadCounter(rdb), mr
}

func TestUnreadCounter_Increment_Get_Reset(t *testing.T) {
	req := require.New(t)
	c, mr := newCounter(t)
	ctx := context.Background()

	req.NoError(c.Increment(ctx, "u2", "c1"))
	req.NoError(c.Increment(ctx, "u2", "c1"))
	req.NoError(c.Increment(ctx, "u2", "c2"))

	req.Equal("2", mr.HGet(unreadKey("u2"), "c1"))

	u, err := c.Get(ctx, "u2")
	req.NoError(err)
	req.Equal("u2", u.UserID)
	req.Equal(map[string]int64{"c1": 2, "c2": 1}, u.ByChat)
	req.Equal(int64(3), u.Total())

	req.NoError(c.Reset(ctx, "u2", "c1"))
	u, err = c.Get(ctx, "u2")
	req.NoError(err)
	req.Equal(map[string]int64{"c2": 1}, u.ByChat)

	req.NoError(c.Reset(ctx, "u2", ""))
	req.False(mr.Exists(unreadKey("u2")))
}

func TestUnreadCounter_Unknown_User_Is_Empty(t *testing.T) {
	c, _ := newCounter(t)

	u, err := c.Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, u.Total())
	require.NotNil(t, u.ByChat)
}

func TestUnreadCounter_Server_Down(t *testing.T) {
	c, mr := newCounter(t)
	mr.Close()

	require.Error(t, c.Increment(context.Background(), "u2", "c1"))
}

func TestNewClient(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)

	rdb, err := NewClient(context.Background(), Config{URL: "redis://" + mr.Addr() + "/0"})
	req.NoError(err)
	req.NoError(rdb.Close())

	_, err = NewClient(context.Background(), Config{URL: "::not a url"})
	req.Error(err)
}

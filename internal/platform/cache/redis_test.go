package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.Error(t, err)

	client, err := New(context.Background(), Options{Addr: mr.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.Equal(t, "v", mustGet(t, mr, "k"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	locker := NewLocker(client)
	lock, err := locker.Obtain(context.Background(), "cogs:backfill:7:-", time.Minute, nil)
	require.NoError(t, err)

	_, err = locker.Obtain(context.Background(), "cogs:backfill:7:-", time.Minute, nil)
	require.ErrorIs(t, err, redislock.ErrNotObtained)

	require.NoError(t, lock.Release(context.Background()))
	again, err := locker.Obtain(context.Background(), "cogs:backfill:7:-", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

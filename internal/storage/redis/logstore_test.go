package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/storage"
)

func newTestStore(t *testing.T) (*LogStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := New(&config.RedisConfig{Address: mr.Addr(), PoolSize: 4}, zap.NewNop())
	require.NoError(t, err)

	store := NewLogStore(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestLogStore_CreateEmpty(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEmpty(ctx, "inbox:a", 900*time.Second))

	t.Run("底层列表只有占位元素", func(t *testing.T) {
		items, err := mr.List("inbox:a")
		require.NoError(t, err)
		assert.Equal(t, []string{storage.Sentinel}, items)
		assert.Equal(t, 900*time.Second, mr.TTL("inbox:a"))
	})

	t.Run("读取时不暴露占位元素", func(t *testing.T) {
		records, err := store.ReadAll(ctx, "inbox:a")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestLogStore_AppendAndReadAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateEmpty(ctx, "inbox:a", time.Minute))

	require.NoError(t, store.Append(ctx, "inbox:a", []byte(`{"subject":"1"}`)))
	require.NoError(t, store.Append(ctx, "inbox:a", []byte(`{"subject":"2"}`)))

	records, err := store.ReadAll(ctx, "inbox:a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"subject":"1"}`, string(records[0]))
	assert.Equal(t, `{"subject":"2"}`, string(records[1]))
}

func TestLogStore_AppendMissingKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, "inbox:ghost", []byte("m"))
	assert.ErrorIs(t, err, storage.ErrKeyMissing)
	assert.False(t, mr.Exists("inbox:ghost"))
}

func TestLogStore_RemainingTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	t.Run("不存在的键", func(t *testing.T) {
		ttl, err := store.RemainingTTL(ctx, "inbox:none:meta")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})

	t.Run("没有过期时间的键按不存在处理", func(t *testing.T) {
		require.NoError(t, mr.Set("plain", "v"))
		ttl, err := store.RemainingTTL(ctx, "plain")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})

	t.Run("过期后归零", func(t *testing.T) {
		require.NoError(t, store.SetCanonicalExpiry(ctx, "inbox:a:meta", "v", 10*time.Second))
		ttl, err := store.RemainingTTL(ctx, "inbox:a:meta")
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, ttl)

		mr.FastForward(10 * time.Second)

		ttl, err = store.RemainingTTL(ctx, "inbox:a:meta")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})
}

func TestLogStore_RenewTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateEmpty(ctx, "inbox:a", time.Minute))
	require.NoError(t, store.Append(ctx, "inbox:a", []byte("m")))

	require.NoError(t, store.RenewTTL(ctx, "inbox:a", 30*time.Second))

	assert.Equal(t, 30*time.Second, mr.TTL("inbox:a"))
	items, _ := mr.List("inbox:a")
	assert.Len(t, items, 2)
}

func TestLogStore_DeleteAndRecreate(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateEmpty(ctx, "inbox:a", time.Minute))
	require.NoError(t, store.Append(ctx, "inbox:a", []byte("old")))

	require.NoError(t, store.DeleteAndRecreate(ctx, "inbox:a", 900*time.Second))

	records, err := store.ReadAll(ctx, "inbox:a")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 900*time.Second, mr.TTL("inbox:a"))
}

func TestLogStore_StoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.SetError("LOADING")

	_, err := store.RemainingTTL(ctx, "inbox:a:meta")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrKeyMissing)

	mr.SetError("")
	assert.NoError(t, store.Ping(ctx))
}

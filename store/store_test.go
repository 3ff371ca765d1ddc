package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/frecency/core"
)

func exerciseStore(t *testing.T, s core.Store) {
	t.Helper()
	ctx := context.Background()
	key := "frecency-test:" + t.Name()
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	_, err := s.Get(ctx, key)
	require.True(t, core.IsStoreNotFound(err), "want not found, got %v", err)

	require.NoError(t, s.Set(ctx, key, []byte("v1")))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Set(ctx, key, []byte("v2")))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, core.ErrStoreNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	assert.Equal(t, "memory", s.Name())
	exerciseStore(t, s)
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 1))

	s.mu.Lock()
	past := time.Now().Add(-time.Second)
	s.data["k"].ttl = &past
	s.mu.Unlock()

	_, err := s.Get(ctx, "k")
	assert.True(t, core.IsStoreNotFound(err))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), addr, 0)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "redis", s.Name())
	exerciseStore(t, s)
}

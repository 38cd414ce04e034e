// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"SetNX", testSetNX},
		{"DelExists", testDelExists},
		{"TTL", testTTL},
		{"Expire", testExpire},
		{"Expiry", testExpiry},
		{"IncrBy", testIncrBy},
		{"IncrByNonNumeric", testIncrByNonNumeric},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte(`{"city":"austin"}`)

	require.NoError(t, store.Set(ctx, "test:string", value))

	got, err := store.Get(ctx, "test:string")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:nonexistent")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:overwrite", []byte("one"), time.Minute))
	require.NoError(t, store.Set(ctx, "test:overwrite", []byte("two")))

	got, err := store.Get(ctx, "test:overwrite")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	ttl, err := store.TTL(ctx, "test:overwrite")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "plain Set clears an earlier TTL")
}

func testSetNX(t *testing.T, store kv.Store) {
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "test:lease", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "test:lease", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "test:lease")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
}

func testDelExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:a", []byte("1")))
	require.NoError(t, store.Set(ctx, "test:b", []byte("2")))

	n, err := store.Exists(ctx, "test:a", "test:b", "test:c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Del(ctx, "test:a", "test:c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Exists(ctx, "test:a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()

	_, err := store.TTL(ctx, "test:missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Set(ctx, "test:ttl", []byte("v"), 10*time.Second))
	ttl, err := store.TTL(ctx, "test:ttl")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 10*time.Second)
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()

	ok, err := store.Expire(ctx, "test:missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "test:expire", []byte("v")))
	ok, err = store.Expire(ctx, "test:expire", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := store.TTL(ctx, "test:expire")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func testExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:short", []byte("v"), 50*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "test:short")
		return err == kv.ErrNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func testIncrBy(t *testing.T, store kv.Store) {
	ctx := context.Background()

	n, err := store.IncrBy(ctx, "test:counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = store.IncrBy(ctx, "test:counter", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testIncrByNonNumeric(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:text", []byte("hello")))

	_, err := store.IncrBy(ctx, "test:text", 1)
	assert.Error(t, err)
}

func testPing(t *testing.T, store kv.Store) {
	assert.NoError(t, store.Ping(context.Background()))
}

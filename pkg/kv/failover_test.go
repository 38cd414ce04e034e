package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is a Store whose availability can be toggled from the test.
type stubStore struct {
	name   string
	down   atomic.Bool
	calls  atomic.Int64
	closed atomic.Bool
	mu     sync.Mutex
	values map[string][]byte
}

func newStubStore(name string) *stubStore {
	return &stubStore{name: name, values: map[string][]byte{}}
}

func (s *stubStore) check() error {
	s.calls.Add(1)
	if s.down.Load() {
		return ErrBackendUnavailable
	}
	return nil
}

func (s *stubStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *stubStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *stubStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return 0, s.check()
}

func (s *stubStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return 0, s.check()
}

func (s *stubStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, s.check()
}

func (s *stubStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return -1, s.check()
}

func (s *stubStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return n, s.check()
}

func (s *stubStore) Ping(ctx context.Context) error {
	if s.down.Load() {
		return ErrBackendUnavailable
	}
	return nil
}

func (s *stubStore) Close() error {
	s.closed.Store(true)
	return nil
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	primary, fallback := newStubStore("redis"), newStubStore("memory")
	fs := NewFailoverStore(primary, fallback, 10*time.Millisecond, nil)
	defer fs.Close()

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "k", []byte("v")))

	assert.Equal(t, "primary", fs.ActiveBackend())
	assert.Equal(t, int64(1), primary.calls.Load())
	assert.Equal(t, int64(0), fallback.calls.Load())
}

func TestFailoverDemotesOnUnavailable(t *testing.T) {
	primary, fallback := newStubStore("redis"), newStubStore("memory")
	var logged atomic.Int64
	fs := NewFailoverStore(primary, fallback, time.Hour, func(string, ...any) { logged.Add(1) })
	defer fs.Close()

	primary.down.Store(true)

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "k", []byte("v")), "write retried on fallback")

	got, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	assert.Equal(t, "fallback", fs.ActiveBackend())
	assert.Equal(t, int64(1), logged.Load())
}

func TestFailoverPassesThroughOtherErrors(t *testing.T) {
	primary, fallback := newStubStore("redis"), newStubStore("memory")
	fs := NewFailoverStore(primary, fallback, time.Hour, nil)
	defer fs.Close()

	_, err := fs.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "primary", fs.ActiveBackend(), "not-found must not trigger failover")
}

func TestFailoverRecoversAfterProbe(t *testing.T) {
	primary, fallback := newStubStore("redis"), newStubStore("memory")
	primary.down.Store(true)

	fs := NewFailoverStoreWithFallbackActive(primary, fallback, 10*time.Millisecond, nil)
	defer fs.Close()

	assert.Equal(t, "fallback", fs.ActiveBackend())

	primary.down.Store(false)
	assert.Eventually(t, func() bool {
		return fs.ActiveBackend() == "primary"
	}, time.Second, 5*time.Millisecond)
}

func TestFailoverCloseClosesBoth(t *testing.T) {
	primary, fallback := newStubStore("redis"), newStubStore("memory")
	fs := NewFailoverStore(primary, fallback, 10*time.Millisecond, nil)

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close(), "close is idempotent")
	assert.True(t, primary.closed.Load())
	assert.True(t, fallback.closed.Load())
}

func TestNewStoreFromConfigRejectsUnknownBackend(t *testing.T) {
	_, err := NewStoreFromConfig(Config{Backend: "memcached"})
	assert.Error(t, err)

	_, err = NewStoreFromConfig(Config{Backend: BackendRedis})
	assert.Error(t, err, "redis needs a URL")
}

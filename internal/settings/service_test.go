package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
	memkv "github.com/havenly/havenly-backend/pkg/kv/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(context.Background(), database, db.AllSchemas()))
	cache := store.NewCache(memkv.New(0), log.Nop(), metrics.NewNoop())
	t.Cleanup(func() { cache.Close() })
	return NewService(database, cache, log.Nop())
}

func TestBoolSwitch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	key := entities.SettingLandingGenerateOnRequest

	assert.False(t, svc.Bool(ctx, key, false), "missing uses default")
	assert.True(t, svc.Bool(ctx, key, true))

	_, err := svc.Set(ctx, key, json.RawMessage(`true`), "admin@havenly.homes")
	require.NoError(t, err)
	assert.True(t, svc.Bool(ctx, key, false))

	// Writes invalidate the cached value.
	_, err = svc.Set(ctx, key, json.RawMessage(`false`), "")
	require.NoError(t, err)
	assert.False(t, svc.Bool(ctx, key, true))

	_, err = svc.Set(ctx, key, json.RawMessage(`"yes"`), "")
	require.NoError(t, err)
	assert.True(t, svc.Bool(ctx, key, true), "malformed falls back to default")
}

func TestSetValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, " ", json.RawMessage(`1`), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Set(ctx, "k", json.RawMessage(`{`), "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Set(ctx, "b", json.RawMessage(`1`), "")
	require.NoError(t, err)
	_, err = svc.Set(ctx, "a", json.RawMessage(`2`), "")
	require.NoError(t, err)
	all, err := svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
}

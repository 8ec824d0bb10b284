package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/memory"
	"vmail/backend/internal/storage/redis"
)

func setupStore(t *testing.T) (*Store, *memory.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := memory.NewStore()
	return NewStore(db, redis.NewRecordCache(rdb, time.Hour), nil), db, mr
}

func newRecord(id string) *domain.EmailRecord {
	return &domain.EmailRecord{
		EmailID:    id,
		OwnerID:    "bob",
		From:       "a@x",
		To:         []string{"bob@x"},
		Cc:         []string{},
		Subject:    "Hi",
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Folder:     domain.FolderInbox,
		ContentRef: domain.ContentPath("bob", id),
	}
}

func TestReadThrough(t *testing.T) {
	store, db, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, newRecord("bob-1")))
	assert.False(t, mr.Exists("email:bob-1"))

	got, err := store.Get(ctx, "bob-1")
	require.NoError(t, err)
	assert.Equal(t, "bob-1", got.EmailID)
	assert.True(t, mr.Exists("email:bob-1"))
}

func TestUpdateInvalidatesCache(t *testing.T) {
	store, _, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("bob-1")))
	_, err := store.Get(ctx, "bob-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("email:bob-1"))

	require.NoError(t, store.UpdateFields(ctx, "bob-1", domain.SetStarred(true)))
	assert.False(t, mr.Exists("email:bob-1"))

	got, err := store.Get(ctx, "bob-1")
	require.NoError(t, err)
	assert.True(t, got.Starred)
}

func TestDelete(t *testing.T) {
	store, _, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("bob-1")))
	_, err := store.Get(ctx, "bob-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "bob-1"))
	assert.False(t, mr.Exists("email:bob-1"))

	_, err = store.Get(ctx, "bob-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "bob-1"), storage.ErrNotFound)
}

func TestCacheOutageFallsBackToDatabase(t *testing.T) {
	store, db, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, newRecord("bob-1")))
	mr.Close()

	got, err := store.Get(ctx, "bob-1")
	require.NoError(t, err)
	assert.Equal(t, "bob-1", got.EmailID)
	assert.NoError(t, store.UpdateFields(ctx, "bob-1", domain.SetRead(true)))
}

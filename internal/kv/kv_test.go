package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news/internal/db"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func exercise(t *testing.T, store Store, c *clock) {
	t.Helper()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "k", []byte("v1"), time.Minute))
	require.NoError(t, store.Put(ctx, "k", []byte("v2"), time.Minute))
	v, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), v)

	c.t = c.t.Add(time.Minute)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "entry at its expiry instant is gone")

	require.NoError(t, store.Put(ctx, "forever", []byte("x"), 0))
	c.t = c.t.Add(24 * 365 * time.Hour)
	_, found, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, store.Delete(ctx, "forever"))
	require.NoError(t, store.Delete(ctx, "forever"), "delete is idempotent")
	_, found, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory(t *testing.T) {
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	exercise(t, NewMemory().WithClock(c.now), c)
}

func TestSQL(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer database.Close()

	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	store := NewSQL(database).WithClock(c.now)
	exercise(t, store, c)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Put(ctx, "b", []byte("2"), time.Hour))
	c.t = c.t.Add(time.Minute)
	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLGetDeletesExpiredRow(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	store := NewSQL(database).WithClock(c.now)
	require.NoError(t, store.Put(ctx, "session:old", []byte("x"), time.Minute))

	rows := func() int {
		var n int
		require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_entries`).Scan(&n))
		return n
	}
	require.Equal(t, 1, rows())

	c.t = c.t.Add(2 * time.Minute)
	_, found, err := store.Get(ctx, "session:old")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, rows(), "expired row removed on read")
}

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_link/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_PutGet(t *testing.T) {
	c := NewSQLite(setupTestDB(t))
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "user-1", "first"))
	require.NoError(t, c.Put(ctx, "user-1", "second"))

	text, ok, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", text)
}

func TestMemory_Expires(t *testing.T) {
	c := NewMemory(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "user-1", "text"))
	text, ok, _ := c.Get(ctx, "user-1")
	assert.True(t, ok)
	assert.Equal(t, "text", text)

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "user-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLayered_WarmsFrontFromBack(t *testing.T) {
	ctx := context.Background()
	back := NewSQLite(setupTestDB(t))
	front := NewMemory(time.Hour)
	require.NoError(t, back.Put(ctx, "user-1", "durable"))

	l := NewLayered(front, back)
	text, ok, err := l.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "durable", text)

	warm, ok, _ := front.Get(ctx, "user-1")
	assert.True(t, ok)
	assert.Equal(t, "durable", warm)
}

func TestLayered_PutWritesBoth(t *testing.T) {
	ctx := context.Background()
	back := NewSQLite(setupTestDB(t))
	front := NewMemory(time.Hour)
	l := NewLayered(front, back)

	require.NoError(t, l.Put(ctx, "user-1", "fresh"))

	for _, c := range []AnalysisCache{front, back} {
		text, ok, err := c.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "fresh", text)
	}

	_, ok, err := l.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

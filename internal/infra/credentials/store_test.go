package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".dastctl", "credentials.yaml")
	store := NewFileStore(path)
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	tok, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok, "missing file means no token")

	require.NoError(t, store.SaveToken(ctx, "tok-1"))
	require.NoError(t, store.SaveToken(ctx, "tok-2"))

	tok, err = store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "updated_at: 2024-03-01T12:00:00Z")
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unterminated"), 0o600))

	_, err := NewFileStore(path).LoadToken(context.Background())
	assert.Error(t, err)
}

func TestFileStoreClearToken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	store := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, store.ClearToken(ctx), "clearing an empty store")

	require.NoError(t, store.SaveToken(ctx, "rejected"))
	require.NoError(t, store.ClearToken(ctx))

	tok, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.NoFileExists(t, path)
}

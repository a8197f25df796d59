package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_CreatesDirectories(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	info, err = os.Stat(c.StagingDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNew_RejectsEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := New("  ", zap.NewNop())
	require.Error(t, err)
}

func TestNew_RejectsFileAsDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := New(path, zap.NewNop())
	require.Error(t, err)
}

func TestLookup_MissThenHit(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	url := "https://example.com/page"
	_, ok := c.Lookup(url)
	require.False(t, ok)

	temp := filepath.Join(c.StagingDir(), "render.png")
	require.NoError(t, os.WriteFile(temp, []byte("image-bytes"), 0o600))

	stored, err := c.Store(url, temp)
	require.NoError(t, err)

	path, ok := c.Lookup(url)
	require.True(t, ok)
	require.Equal(t, stored, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("image-bytes"), data)
}

func TestStore_RemovesTemporaryArtifact(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	temp := filepath.Join(c.StagingDir(), "render.png")
	require.NoError(t, os.WriteFile(temp, []byte("image"), 0o600))

	_, err = c.Store("https://example.com", temp)
	require.NoError(t, err)

	_, statErr := os.Stat(temp)
	require.True(t, os.IsNotExist(statErr))
}

func TestStore_MissingTempFails(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, err = c.Store("https://example.com", filepath.Join(c.StagingDir(), "missing.png"))
	require.Error(t, err)
}

func TestStore_LastWriterWins(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	url := "https://example.com"
	for i, content := range []string{"first", "second"} {
		temp := filepath.Join(c.StagingDir(), "render.png")
		require.NoError(t, os.WriteFile(temp, []byte(content), 0o600), "write %d", i)
		_, err := c.Store(url, temp)
		require.NoError(t, err)
	}

	path, ok := c.Lookup(url)
	require.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
}

func TestCache_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	url := "https://example.com/persistent"
	temp := filepath.Join(c.StagingDir(), "render.png")
	require.NoError(t, os.WriteFile(temp, []byte("kept"), 0o600))
	_, err = c.Store(url, temp)
	require.NoError(t, err)

	// A fresh Cache over the same directory sees the entry: the key
	// derivation is stable across restarts.
	reopened, err := New(dir, zap.NewNop())
	require.NoError(t, err)
	_, ok := reopened.Lookup(url)
	require.True(t, ok)
}

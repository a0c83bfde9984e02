package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupArtifacts(t *testing.T) {
	base := t.TempDir()

	dir, err := NewArtifactDir(base)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "whatsapp.db"), []byte("x"), 0o644))

	// Legacy flat files from older layouts.
	require.NoError(t, os.WriteFile(filepath.Join(base, "whatsapp.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "whatsapp.db-wal"), []byte("x"), 0o644))

	// Unrelated content survives.
	require.NoError(t, os.WriteFile(filepath.Join(base, "notes.txt"), []byte("keep"), 0o644))

	require.NoError(t, CleanupArtifacts(base))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.txt", entries[0].Name())
}

func TestCleanupArtifactsIdempotent(t *testing.T) {
	base := t.TempDir()
	_, err := NewArtifactDir(base)
	require.NoError(t, err)

	require.NoError(t, CleanupArtifacts(base))
	require.NoError(t, CleanupArtifacts(base))
}

func TestCleanupArtifactsMissingBaseDir(t *testing.T) {
	assert.NoError(t, CleanupArtifacts(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestNewArtifactDirUnique(t *testing.T) {
	base := t.TempDir()

	a, err := NewArtifactDir(base)
	require.NoError(t, err)
	b, err := NewArtifactDir(base)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	for _, dir := range []string{a, b} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

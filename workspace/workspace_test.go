package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesFixedSubtree(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)

	for _, dir := range []string{w.ArxivDir(), w.DimensionsDir(), w.FinalDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestChartsDir_IsSessionScoped(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := w.ChartsDir("session-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root, "temp", "session-1", "charts"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDimensionFile_UsesDimensionSlug(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.DimensionsDir(), "intro-scope.md"), w.DimensionFile("Intro & Scope"))
}

func TestCleanupSession_RemovesSessionTempSubtreeOnly(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := w.ChartsDir("session-1")
	require.NoError(t, err)

	require.NoError(t, w.CleanupSession("session-1"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Fixed subtree survives session cleanup.
	info, err := os.Stat(w.DimensionsDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

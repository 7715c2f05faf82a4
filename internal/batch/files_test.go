package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "nested", "b.JPG")
	txt := filepath.Join(dir, "notes.txt")
	single := filepath.Join(t.TempDir(), "single.gif")
	touch(t, a)
	touch(t, b)
	touch(t, txt)
	touch(t, single)

	files, err := CollectFiles(
		[]string{single, dir, a, filepath.Join(dir, "missing.png")},
		[]string{"png", ".jpg", ".gif"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{single, a, b}, files)
}

func TestCollectFilesEmpty(t *testing.T) {
	files, err := CollectFiles([]string{filepath.Join(t.TempDir(), "nope")}, []string{".png"})
	require.NoError(t, err)
	assert.Empty(t, files)
}

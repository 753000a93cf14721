package wharf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree materializes files under a fresh temp dir. Keys are
// slash-separated relative paths; parent dirs are created as needed.
func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, content, 0o644))
	}
	return dir
}

func TestScanContainer(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		"a.txt":       []byte("alpha"),
		"sub/b.bin":   []byte("beta content"),
		"sub/deep/c":  []byte(""),
		".git/config": []byte("should be skipped"),
	})
	require.NoError(t, os.Symlink("a.txt", filepath.Join(dir, "link")))

	c, err := ScanContainer(dir)
	require.NoError(t, err)

	var filePaths []string
	for _, f := range c.Files {
		filePaths = append(filePaths, f.Path)
	}
	assert.Equal(t, []string{"a.txt", "sub/b.bin", "sub/deep/c"}, filePaths)
	assert.Equal(t, int64(len("alpha")+len("beta content")), c.Size)

	var dirPaths []string
	for _, d := range c.Dirs {
		dirPaths = append(dirPaths, d.Path)
	}
	assert.Equal(t, []string{"sub", "sub/deep"}, dirPaths)

	require.Len(t, c.Symlinks, 1)
	assert.Equal(t, "link", c.Symlinks[0].Path)
	assert.Equal(t, "a.txt", c.Symlinks[0].Dest)
}

func TestScanContainerOrderIsStable(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"z": []byte("1"), "m": []byte("2"), "a": []byte("3"),
	}
	first, err := ScanContainer(writeTree(t, files))
	require.NoError(t, err)
	second, err := ScanContainer(writeTree(t, files))
	require.NoError(t, err)
	assert.Equal(t, first.Files, second.Files)
}

func TestContainerFileIndex(t *testing.T) {
	t.Parallel()

	c := &Container{Files: []File{{Path: "only", Size: 1}}}

	f, err := c.File(0)
	require.NoError(t, err)
	assert.Equal(t, "only", f.Path)

	_, err = c.File(1)
	assert.ErrorIs(t, err, ErrRange)
	_, err = c.File(-1)
	assert.ErrorIs(t, err, ErrRange)
}

func TestBlockCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		size      int64
		blockSize int64
		want      int64
	}{
		{name: "empty file still counts one block", size: 0, blockSize: 4, want: 1},
		{name: "exact multiple", size: 8, blockSize: 4, want: 2},
		{name: "trailing partial block", size: 9, blockSize: 4, want: 3},
		{name: "smaller than one block", size: 3, blockSize: 4, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := File{Size: tt.size}
			assert.Equal(t, tt.want, f.BlockCount(tt.blockSize))
		})
	}
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	good, err := safeJoin(base, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "sub", "file.txt"), good)

	for _, p := range []string{"", "/etc/passwd", "..", "../escape", "sub/../../escape"} {
		_, err := safeJoin(base, p)
		assert.ErrorIs(t, err, ErrUnsafePath, "path %q", p)
	}
}

func TestPrepareTreeReplacesSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Symlink("old-target", filepath.Join(dir, "link")))

	c := &Container{
		Dirs:     []Dir{{Path: "sub", Mode: 0o755}},
		Symlinks: []Symlink{{Path: "link", Mode: 0o777, Dest: "new-target"}},
	}
	require.NoError(t, c.PrepareTree(dir))

	dest, err := os.Readlink(filepath.Join(dir, "link"))
	require.NoError(t, err)
	assert.Equal(t, "new-target", dest)

	info, err := os.Stat(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMaskMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, os.FileMode(0o644), maskMode(0o000))
	assert.Equal(t, os.FileMode(0o755), maskMode(0o755))
	assert.Equal(t, os.FileMode(0o644), maskMode(0o600))
	// Non-permission bits never survive the mask.
	assert.Equal(t, os.FileMode(0o755), maskMode(0o40755))
}

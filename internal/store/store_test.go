package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/apperrors"
)

type sample struct {
	Name  string `yaml:"name" json:"name"`
	Count int    `yaml:"count" json:"count"`
}

func TestYAMLRoundTrip(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "doc.yaml")

	require.NoError(t, s.WriteYAML(path, sample{Name: "alpha", Count: 3}))

	var out sample
	require.NoError(t, s.ReadYAML(path, &out))
	assert.Equal(t, sample{Name: "alpha", Count: 3}, out)
}

func TestJSONRoundTrip(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "doc.json")

	require.NoError(t, s.WriteJSON(path, sample{Name: "beta", Count: 7}))

	var out sample
	require.NoError(t, s.ReadJSON(path, &out))
	assert.Equal(t, sample{Name: "beta", Count: 7}, out)
}

func TestReadYAML_MissingFileIsNotFound(t *testing.T) {
	s := New()
	err := s.ReadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &sample{})
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestCopyTree(t *testing.T) {
	s := New()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, s.CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
}

func TestDeleteTree(t *testing.T) {
	s := New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("x"), 0o644))

	require.NoError(t, s.DeleteTree(dir))
	assert.False(t, s.Exists(dir))

	// deleting again is not an error
	require.NoError(t, s.DeleteTree(dir))
}

func TestListFiles_MissingDirYieldsEmpty(t *testing.T) {
	s := New()
	files, err := s.ListFiles(filepath.Join(t.TempDir(), "nope"), "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListFiles_ExtensionFilter(t *testing.T) {
	s := New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	files, err := s.ListFiles(dir, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml"}, files)
}

func TestDirSize(t *testing.T) {
	s := New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), make([]byte, 20), 0o644))

	size, err := s.DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(30), size)
}

func TestDirSize_MissingDirIsZero(t *testing.T) {
	s := New()
	size, err := s.DirSize(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, size)
}

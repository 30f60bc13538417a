package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/store"
)

func newTestEngine(t *testing.T, cap int) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	backupsDir := filepath.Join(root, "backups")
	dataDir := filepath.Join(root, "servers", "s1")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "world.dat"), []byte("hello"), 0o644))

	return New(backupsDir, cap, store.New(), zerolog.Nop(), nil), dataDir
}

func TestCreate_MissingDataDir(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	_, err := e.Create(context.Background(), "s1", "/does/not/exist", TypeManual, "")
	assert.Error(t, err)
}

func TestCreate_AndList(t *testing.T) {
	e, dataDir := newTestEngine(t, 5)

	rec, err := e.Create(context.Background(), "s1", dataDir, TypeManual, "pre-flight")
	require.NoError(t, err)
	assert.Equal(t, "pre-flight", rec.Description)
	assert.Greater(t, rec.SizeBytes, int64(0))

	list, err := e.List("s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.Timestamp, list[0].Timestamp)
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	list, err := e.List("never-backed-up")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRetention_EnforcesCapPerType(t *testing.T) {
	e, dataDir := newTestEngine(t, 3)

	for i := 0; i < 5; i++ {
		_, err := e.Create(context.Background(), "s1", dataDir, TypeManual, "")
		require.NoError(t, err)
	}

	list, err := e.List("s1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(list), 3)
}

func TestDelete_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	err := e.Delete("s1", "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)
}

func TestDeleteAll_RemovesDirectory(t *testing.T) {
	e, dataDir := newTestEngine(t, 5)
	_, err := e.Create(context.Background(), "s1", dataDir, TypeManual, "")
	require.NoError(t, err)

	require.NoError(t, e.DeleteAll("s1"))

	list, err := e.List("s1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRestore_ExtractsArchiveAndCreatesPreRestoreBackup(t *testing.T) {
	e, dataDir := newTestEngine(t, 5)
	rec, err := e.Create(context.Background(), "s1", dataDir, TypeManual, "")
	require.NoError(t, err)

	result, err := e.Restore(context.Background(), "s1", dataDir, rec.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, rec.Timestamp, result.RestoredFrom)
	assert.Equal(t, TypePreRestore, result.PreRestoreBackup.Type)

	restored, err := os.ReadFile(filepath.Join(dataDir, "world.dat"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(restored))
}

func TestRestore_UnknownTimestamp(t *testing.T) {
	e, dataDir := newTestEngine(t, 5)
	_, err := e.Restore(context.Background(), "s1", dataDir, "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)
}

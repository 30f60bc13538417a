package native

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "native-processes.json"), filepath.Join(dir, "logs"), store.New(), zerolog.Nop())
}

func TestGetProcessStatus_UnknownServer(t *testing.T) {
	b := newTestBackend(t)
	status, err := b.GetProcessStatus(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, status.Exists)
}

func TestReconcile_NoStateFile(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Reconcile(context.Background()))

	status, err := b.GetProcessStatus(context.Background(), "whatever")
	require.NoError(t, err)
	assert.False(t, status.Exists)
}

func TestStart_RejectsMissingExecutable(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Start(context.Background(), backend.StartSpec{ServerID: "s1", DataPath: t.TempDir()}, template.Template{
		ID:   "broken",
		Mode: template.ModeNative,
	})
	assert.Error(t, err)
}

func TestSubstituteVars(t *testing.T) {
	out := substituteVars("-world {WORLD} -port {PORT}", map[string]string{"WORLD": "Dedicated", "PORT": "2457"})
	assert.Equal(t, "-world Dedicated -port 2457", out)
}

func TestRemove_IdempotentWhenAbsent(t *testing.T) {
	b := newTestBackend(t)
	assert.NoError(t, b.Remove(context.Background(), "absent"))
}

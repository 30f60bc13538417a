package template

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(t.TempDir(), store.New(), zerolog.Nop())
}

func TestLoad_SeedsBuiltins(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Load())

	list := r.List()
	ids := make(map[string]bool)
	for _, t := range list {
		ids[t.ID] = true
	}
	assert.True(t, ids["minecraft"])
	assert.True(t, ids["valheim"])
	assert.True(t, ids["vrising"])
}

func TestLoad_DoesNotOverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	require.NoError(t, s.WriteYAML(filepath.Join(dir, "minecraft.yaml"), Template{
		ID:   "minecraft",
		Name: "Custom Minecraft",
		Mode: ModeContainer,
		Container: &ContainerConfig{
			Image:     "custom:latest",
			MountPath: "/data",
		},
	}))

	r := New(dir, s, zerolog.Nop())
	require.NoError(t, r.Load())

	tpl, err := r.Get("minecraft")
	require.NoError(t, err)
	assert.Equal(t, "Custom Minecraft", tpl.Name)
}

func TestLoad_SkipsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	require.NoError(t, s.WriteYAML(filepath.Join(dir, "broken.yaml"), Template{
		ID:   "broken",
		Mode: ModeContainer,
		// no Container block -> invalid
	}))

	r := New(dir, s, zerolog.Nop())
	require.NoError(t, r.Load())

	_, err := r.Get("broken")
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Load())

	_, err := r.Get("does-not-exist")
	assert.Error(t, err)
}

func TestTryGet(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Load())

	_, ok := r.TryGet("minecraft")
	assert.True(t, ok)

	_, ok = r.TryGet("nope")
	assert.False(t, ok)
}

func TestToResponse_OmitsSecrets(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Load())

	tpl, err := r.Get("minecraft")
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.Exec.Rcon.Password)

	resp := tpl.ToResponse()
	// Response has no exec/rcon fields at all by construction.
	assert.Equal(t, "minecraft", resp.ID)
}

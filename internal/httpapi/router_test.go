package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/backup"
	"github.com/lmdudester/garcon/internal/eventbus"
	"github.com/lmdudester/garcon/internal/orchestrator"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

// fakeProvider mirrors internal/orchestrator's fake-collaborator test
// pattern, duplicated here since it is unexported there.
type fakeProvider struct {
	mu      sync.Mutex
	running map[string]bool
}

func newFakeProvider() *fakeProvider { return &fakeProvider{running: make(map[string]bool)} }

func (f *fakeProvider) CheckAvailability(ctx context.Context) error { return nil }
func (f *fakeProvider) StartEventMonitoring(ctx context.Context)    {}
func (f *fakeProvider) OnProcessExit(cb backend.ExitCallback) backend.Unregister {
	return func() {}
}
func (f *fakeProvider) GetProcessStatus(ctx context.Context, serverID string) (backend.ProcessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running := f.running[serverID]
	return backend.ProcessStatus{Exists: running, Running: running}, nil
}
func (f *fakeProvider) Start(ctx context.Context, spec backend.StartSpec, tmpl template.Template) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[spec.ServerID] = true
	return "fake-id", nil
}
func (f *fakeProvider) Stop(ctx context.Context, serverID string, tmpl template.Template, timeoutSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, serverID)
	return nil
}
func (f *fakeProvider) Remove(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, serverID)
	return nil
}
func (f *fakeProvider) Reconcile(ctx context.Context) error { return nil }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	root := t.TempDir()
	st := store.New()

	templatesDir := filepath.Join(root, "templates")
	registry := template.New(templatesDir, st, zerolog.Nop())
	require.NoError(t, registry.Load())

	backupsDir := filepath.Join(root, "backups")
	backups := backup.New(backupsDir, 5, st, zerolog.Nop(), nil)

	bus := eventbus.New(zerolog.Nop())
	provider := newFakeProvider()

	orch := orchestrator.New(
		filepath.Join(root, "servers"),
		registry,
		backups,
		st,
		map[template.ExecutionMode]backend.Provider{
			template.ModeContainer: provider,
			template.ModeNative:    provider,
		},
		bus,
		true,
		zerolog.Nop(),
	)

	importDir := filepath.Join(root, "import")
	require.NoError(t, os.MkdirAll(filepath.Join(importDir, "pack-a"), 0o755))

	return New(orch, registry, backups, bus, st, filepath.Join(root, "servers"), importDir, 5, true, zerolog.Nop())
}

func importViaAPI(t *testing.T, r http.Handler) map[string]any {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "server.jar"), []byte("x"), 0o644))

	body, _ := json.Marshal(map[string]any{
		"name":       "Alpha",
		"templateId": "minecraft",
		"sourcePath": src,
	})
	req := httptest.NewRequest(http.MethodPost, "/servers", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth_ReturnsOK(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTemplates_IncludesSeededDefaults(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.NotEmpty(t, list)
}

func TestImportFolders_ListsSubdirectories(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	req := httptest.NewRequest(http.MethodGet, "/import/folders", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list []importFolder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pack-a", list[0].Name)
}

func TestCreateServer_ThenGetAndList(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	created := importViaAPI(t, r)
	id := created["id"].(string)
	assert.Equal(t, "stopped", created["status"])

	req := httptest.NewRequest(http.MethodGet, "/servers/"+id, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/servers", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestGetServer_UnknownID_Returns404(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	req := httptest.NewRequest(http.MethodGet, "/servers/does-not-exist", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStopServer_TransitionsStatus(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	created := importViaAPI(t, r)
	id := created["id"].(string)

	req := httptest.NewRequest(http.MethodPost, "/servers/"+id+"/start", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var started map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "running", started["status"])

	req = httptest.NewRequest(http.MethodPost, "/servers/"+id+"/start", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/servers/"+id+"/stop", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, "stopped", stopped["status"])
}

func TestCreateAndListBackups(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	created := importViaAPI(t, r)
	id := created["id"].(string)

	body, _ := json.Marshal(map[string]string{"description": "pre-event snapshot"})
	req := httptest.NewRequest(http.MethodPost, "/servers/"+id+"/backups", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/servers/"+id+"/backups", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
}

func TestDeleteServer_RejectsWhenRunning(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	created := importViaAPI(t, r)
	id := created["id"].(string)

	req := httptest.NewRequest(http.MethodPost, "/servers/"+id+"/start", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/servers/"+id, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReorderServers_ReturnsNoContent(t *testing.T) {
	r := NewRouter(newTestHandlers(t))
	created := importViaAPI(t, r)
	id := created["id"].(string)

	body, _ := json.Marshal(map[string][]string{"serverIds": {id}})
	req := httptest.NewRequest(http.MethodPut, "/servers/order", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

package template

import (
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/store"
)

// Registry loads, validates and serves immutable template definitions.
type Registry struct {
	dir   string
	store *store.Store
	log   zerolog.Logger

	mu        sync.RWMutex
	templates map[string]Template
}

// New constructs a Registry rooted at dir. Call Load to seed defaults and
// populate the in-memory map before serving requests.
func New(dir string, st *store.Store, log zerolog.Logger) *Registry {
	return &Registry{
		dir:       dir,
		store:     st,
		log:       log.With().Str("component", "template_registry").Logger(),
		templates: make(map[string]Template),
	}
}

// Load seeds the built-in templates (if their ids aren't already present on
// disk) then loads and validates every document in dir. A single invalid
// document is logged and skipped; it never prevents startup.
func (r *Registry) Load() error {
	if err := r.store.EnsureDir(r.dir); err != nil {
		return err
	}
	if err := r.seedDefaults(); err != nil {
		return err
	}

	files, err := r.store.ListFiles(r.dir, ".yaml")
	if err != nil {
		return err
	}

	loaded := make(map[string]Template, len(files))
	for _, name := range files {
		path := filepath.Join(r.dir, name)
		var t Template
		if err := r.store.ReadYAML(path, &t); err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("skipping invalid template document")
			continue
		}
		if err := validate(t); err != nil {
			r.log.Warn().Err(err).Str("file", name).Str("id", t.ID).Msg("skipping invalid template")
			continue
		}
		loaded[t.ID] = t
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()

	r.log.Info().Int("count", len(loaded)).Msg("templates loaded")
	return nil
}

// seedDefaults writes each built-in template document to dir iff no file
// with the matching id already exists.
func (r *Registry) seedDefaults() error {
	entries, err := builtinFS.ReadDir(defaultsDir)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "read embedded templates", err)
	}

	for _, entry := range entries {
		dest := filepath.Join(r.dir, entry.Name())
		if r.store.Exists(dest) {
			continue
		}
		data, err := builtinFS.ReadFile(filepath.Join(defaultsDir, entry.Name()))
		if err != nil {
			return apperrors.Wrap(apperrors.Internal, "read embedded template "+entry.Name(), err)
		}
		if err := r.writeSeedFile(dest, data); err != nil {
			return err
		}
	}
	return nil
}

// writeSeedFile round-trips the embedded document through a decode/re-encode
// so seeding goes through the same atomic-write path as every other
// template write, rather than a raw byte copy.
func (r *Registry) writeSeedFile(path string, data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return apperrors.Wrap(apperrors.Internal, "decode embedded template "+path, err)
	}
	return r.store.WriteYAML(path, doc)
}

// List returns every loaded template in its trimmed response shape.
func (r *Registry) List() []Response {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Response, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.ToResponse())
	}
	return out
}

// Get fetches a template by id, failing with NotFound when absent.
func (r *Registry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return Template{}, apperrors.Newf(apperrors.NotFound, "template %q not found", id)
	}
	return t, nil
}

// TryGet is a best-effort, nullable lookup for cached server-row display: it
// never returns an error, only ok=false when the template is unknown.
func (r *Registry) TryGet(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// validate enforces the registry's hard rules: every template has an id, a
// container-mode template carries a container configuration block, and a
// native-mode template names an executable. This is a load-time
// validation, not a runtime check (design §4.2).
func validate(t Template) error {
	if t.ID == "" {
		return apperrors.New(apperrors.Validation, "template id is required")
	}
	if t.Mode == ModeContainer && t.Container == nil {
		return apperrors.Newf(apperrors.Validation, "template %q is container mode but has no container config", t.ID)
	}
	if t.Mode == ModeNative && t.Exec.Executable == "" {
		return apperrors.Newf(apperrors.Validation, "template %q is native mode but has no executable", t.ID)
	}
	return nil
}

package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/backup"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

// Publisher is the event-bus contract the orchestrator publishes through
// (design §4.6). Implemented by internal/eventbus.Bus.
type Publisher interface {
	PublishStatus(serverID string, status Status, startedAt *time.Time, updateStage UpdateStage)
	PublishMembership(serverID string, action string)
}

// Orchestrator owns the per-server state machine (design §4.5).
type Orchestrator struct {
	serversDir       string
	templates        *template.Registry
	backups          *backup.Engine
	store            *store.Store
	providers        map[template.ExecutionMode]backend.Provider
	publisher        Publisher
	log              zerolog.Logger
	autoBackupOnStop bool

	mu      sync.RWMutex
	servers map[string]*ServerState

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an Orchestrator. providers must have an entry for every
// template.ExecutionMode the template registry can produce.
func New(
	serversDir string,
	templates *template.Registry,
	backups *backup.Engine,
	st *store.Store,
	providers map[template.ExecutionMode]backend.Provider,
	publisher Publisher,
	autoBackupOnStop bool,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		serversDir:       serversDir,
		templates:        templates,
		backups:          backups,
		store:            st,
		providers:        providers,
		publisher:        publisher,
		autoBackupOnStop: autoBackupOnStop,
		log:              log.With().Str("component", "orchestrator").Logger(),
		servers:          make(map[string]*ServerState),
		locks:            make(map[string]*sync.Mutex),
	}
	return o
}

func (o *Orchestrator) lockFor(serverID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[serverID] = l
	}
	return l
}

func (o *Orchestrator) dataPath(serverID string) string {
	return filepath.Join(o.serversDir, serverID)
}

func (o *Orchestrator) sidecarPath(serverID string) string {
	return filepath.Join(o.dataPath(serverID), ".garcon.yaml")
}

func (o *Orchestrator) providerFor(tmpl template.Template) (backend.Provider, error) {
	p, ok := o.providers[tmpl.Mode]
	if !ok {
		return nil, apperrors.Newf(apperrors.Internal, "no execution provider registered for mode %q", tmpl.Mode)
	}
	return p, nil
}

func (o *Orchestrator) getState(serverID string) (*ServerState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.servers[serverID]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "server %q not found", serverID)
	}
	return s, nil
}

// List returns every tracked server's trimmed view.
func (o *Orchestrator) List() []Response {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Response, 0, len(o.servers))
	for _, s := range o.servers {
		out = append(out, s.ToResponse())
	}
	return out
}

// Get fetches a single server's trimmed view.
func (o *Orchestrator) Get(serverID string) (Response, error) {
	s, err := o.getState(serverID)
	if err != nil {
		return Response{}, err
	}
	return s.ToResponse(), nil
}

func (o *Orchestrator) publishStatus(s *ServerState) {
	o.publisher.PublishStatus(s.Config.ID, s.Status, s.StartedAt, s.UpdateStage)
}

func (o *Orchestrator) persist(s *ServerState) error {
	return o.store.WriteYAML(o.sidecarPath(s.Config.ID), s.Config)
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "server"
	}
	return s
}

// randomSuffix returns a 40-bit (10 hex char) random suffix for server ids.
func randomSuffix() (string, error) {
	buf := make([]byte, 5) // 5 bytes = 40 bits = 10 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "generate server id suffix", err)
	}
	return hex.EncodeToString(buf), nil
}

// Import validates req, copies the source directory, persists the sidecar,
// and publishes a membership event (design §4.5 "Import (create)").
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (Response, error) {
	if !o.store.IsDir(req.SourcePath) {
		return Response{}, apperrors.Newf(apperrors.Validation, "source path %s is not a directory", req.SourcePath)
	}

	tmpl, err := o.templates.Get(req.TemplateID)
	if err != nil {
		return Response{}, err
	}

	for _, rf := range tmpl.RequiredFiles {
		if !o.store.Exists(filepath.Join(req.SourcePath, rf)) {
			return Response{}, apperrors.Newf(apperrors.Validation, "required file %q missing from source", rf)
		}
	}

	suffix, err := randomSuffix()
	if err != nil {
		return Response{}, err
	}
	serverID := fmt.Sprintf("%s-%s", slugify(req.Name), suffix)

	if err := o.store.CopyTree(req.SourcePath, o.dataPath(serverID)); err != nil {
		return Response{}, err
	}

	ports := req.Ports
	if len(ports) == 0 {
		for _, p := range tmpl.Ports {
			ports = append(ports, PortMapping{HostPort: p.ContainerPort, ContainerPort: p.ContainerPort, Protocol: string(p.Protocol)})
		}
	}

	env := make(map[string]string)
	for k, v := range tmpl.DefaultEnv() {
		env[k] = v
	}
	for k, v := range req.Env {
		env[k] = v
	}

	now := time.Now().UTC()
	cfg := &ServerConfig{
		ID:          serverID,
		Name:        req.Name,
		TemplateID:  req.TemplateID,
		SourcePath:  req.SourcePath,
		CreatedAt:   now,
		UpdatedAt:   now,
		Ports:       ports,
		Env:         env,
		MemoryLimit: req.MemoryLimit,
		CPUQuota:    req.CPUQuota,
		UpdateStage: UpdateStageNone,
	}

	state := &ServerState{Config: cfg, Status: StatusStopped, UpdateStage: UpdateStageNone}

	if err := o.persist(state); err != nil {
		return Response{}, err
	}

	o.mu.Lock()
	o.servers[serverID] = state
	o.mu.Unlock()

	o.publisher.PublishMembership(serverID, "created")

	return state.ToResponse(), nil
}

// Delete rejects when running; otherwise tears down the backend artefact
// and the server directory. Backups are preserved (design §4.5 "Delete").
func (o *Orchestrator) Delete(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.Status == StatusRunning {
		return apperrors.Newf(apperrors.Conflict, "server %q is running", serverID)
	}

	tmpl, err := o.templates.Get(state.Config.TemplateID)
	if err == nil {
		if provider, perr := o.providerFor(tmpl); perr == nil {
			if err := provider.Remove(ctx, serverID); err != nil {
				o.log.Warn().Err(err).Str("server_id", serverID).Msg("failed to remove backend artefact on delete")
			}
		}
	}

	if err := o.store.DeleteTree(o.dataPath(serverID)); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.servers, serverID)
	o.mu.Unlock()

	o.publisher.PublishMembership(serverID, "deleted")
	return nil
}

// Start instantiates the backend artefact and transitions stopped -> starting
// -> running (design §4.5 "Start").
func (o *Orchestrator) Start(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.Status == StatusRunning || state.Status == StatusStarting {
		return apperrors.Newf(apperrors.Conflict, "server %q is already running", serverID)
	}
	if state.UpdateStage != UpdateStageNone {
		return apperrors.Newf(apperrors.Conflict, "server %q has an update in progress", serverID)
	}
	if state.Status != StatusStopped {
		return apperrors.Newf(apperrors.Conflict, "server %q is %s, not stopped", serverID, state.Status)
	}

	tmpl, err := o.templates.Get(state.Config.TemplateID)
	if err != nil {
		return err
	}
	provider, err := o.providerFor(tmpl)
	if err != nil {
		return err
	}

	state.Status = StatusStarting
	o.publishStatus(state)

	spec := toStartSpec(state.Config)
	spec.DataPath = o.dataPath(serverID)
	_, err = provider.Start(ctx, spec, tmpl)
	if err != nil {
		state.Status = StatusError
		o.publishStatus(state)
		return apperrors.Wrap(apperrors.State, "start server "+serverID, err)
	}

	now := time.Now().UTC()
	state.Status = StatusRunning
	state.StartedAt = &now
	o.publishStatus(state)
	return nil
}

func toStartSpec(cfg *ServerConfig) backend.StartSpec {
	ports := make([]backend.PortMapping, len(cfg.Ports))
	for i, p := range cfg.Ports {
		ports[i] = backend.PortMapping{HostPort: p.HostPort, ContainerPort: p.ContainerPort, Protocol: p.Protocol}
	}
	return backend.StartSpec{
		ServerID:    cfg.ID,
		Env:         cfg.Env,
		Ports:       ports,
		MemoryLimit: cfg.MemoryLimit,
		CPULimit:    cfg.CPUQuota,
	}
}

// Stop gracefully stops a running server, optionally taking an auto backup
// first (design §4.5 "Stop").
func (o *Orchestrator) Stop(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()
	return o.stopLocked(ctx, serverID)
}

func (o *Orchestrator) stopLocked(ctx context.Context, serverID string) error {
	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.Status != StatusRunning {
		return apperrors.Newf(apperrors.Conflict, "server %q is not running", serverID)
	}

	tmpl, err := o.templates.Get(state.Config.TemplateID)
	if err != nil {
		return err
	}
	provider, err := o.providerFor(tmpl)
	if err != nil {
		return err
	}

	state.Status = StatusStopping
	o.publishStatus(state)

	if o.autoBackupOnStop {
		if _, err := o.backups.Create(ctx, serverID, o.dataPath(serverID), backup.TypeAuto, ""); err != nil {
			state.Status = StatusError
			o.publishStatus(state)
			return apperrors.Wrap(apperrors.State, "auto backup before stop for "+serverID, err)
		}
	}

	if err := provider.Stop(ctx, serverID, tmpl, tmpl.Exec.StopTimeout()); err != nil {
		state.Status = StatusError
		o.publishStatus(state)
		return apperrors.Wrap(apperrors.State, "stop server "+serverID, err)
	}

	state.Status = StatusStopped
	state.StartedAt = nil
	o.publishStatus(state)
	return nil
}

// Restart stops then starts; either half's failure bubbles up (design §4.5
// "Restart").
func (o *Orchestrator) Restart(ctx context.Context, serverID string) error {
	if err := o.Stop(ctx, serverID); err != nil {
		return err
	}
	return o.Start(ctx, serverID)
}

// InitiateUpdate begins the three-phase update protocol (design §4.5
// "Update protocol", phase 1).
func (o *Orchestrator) InitiateUpdate(ctx context.Context, serverID string) (InitiateUpdateResult, error) {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return InitiateUpdateResult{}, err
	}
	if state.UpdateStage != UpdateStageNone {
		return InitiateUpdateResult{}, apperrors.Newf(apperrors.Conflict, "server %q already has an update in progress", serverID)
	}

	if state.Status == StatusRunning {
		if err := o.stopLocked(ctx, serverID); err != nil {
			return InitiateUpdateResult{}, err
		}
	}

	rec, err := o.backups.Create(ctx, serverID, o.dataPath(serverID), backup.TypePreUpdate, "")
	if err != nil {
		return InitiateUpdateResult{}, apperrors.Wrap(apperrors.State, "pre-update backup for "+serverID, err)
	}

	state.Config.UpdateStage = UpdateStageInitiated
	if err := o.persist(state); err != nil {
		return InitiateUpdateResult{}, err
	}
	state.UpdateStage = UpdateStageInitiated
	state.PreUpdateBackupTime = rec.Timestamp
	state.Status = StatusUpdating
	o.publishStatus(state)

	return InitiateUpdateResult{
		SourcePath:      state.Config.SourcePath,
		BackupTimestamp: rec.Timestamp,
		BackupPath:      rec.Path,
	}, nil
}

// ApplyUpdate copies the source path over the server directory (design
// §4.5 "Update protocol", phase 2). No delete-then-copy: stale files from a
// shrunk source tree are left behind, by design (design §9).
func (o *Orchestrator) ApplyUpdate(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.UpdateStage != UpdateStageInitiated {
		return apperrors.Newf(apperrors.Conflict, "server %q update stage is %q, not initiated", serverID, state.UpdateStage)
	}

	state.Config.UpdateStage = UpdateStageApplying
	if err := o.persist(state); err != nil {
		return err
	}
	state.UpdateStage = UpdateStageApplying
	o.publishStatus(state)

	if err := o.store.CopyTree(state.Config.SourcePath, o.dataPath(serverID)); err != nil {
		state.Config.UpdateStage = UpdateStageInitiated
		o.persist(state)
		state.UpdateStage = UpdateStageInitiated
		state.Status = StatusError
		o.publishStatus(state)
		return err
	}

	state.Config.UpdatedAt = time.Now().UTC()
	state.Config.UpdateStage = UpdateStageNone
	if err := o.persist(state); err != nil {
		return err
	}
	state.UpdateStage = UpdateStageNone
	state.PreUpdateBackupTime = ""
	state.Status = StatusStopped
	o.publishStatus(state)
	o.publisher.PublishMembership(serverID, "updated")
	return nil
}

// CancelUpdate reverts update_stage to none, retaining the pre-update backup
// (design §4.5 "Update protocol", phase 3).
func (o *Orchestrator) CancelUpdate(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.UpdateStage == UpdateStageNone {
		return apperrors.Newf(apperrors.Conflict, "server %q has no update in progress", serverID)
	}

	state.Config.UpdateStage = UpdateStageNone
	if err := o.persist(state); err != nil {
		return err
	}
	state.UpdateStage = UpdateStageNone
	state.PreUpdateBackupTime = ""
	state.Status = StatusStopped
	o.publishStatus(state)
	return nil
}

// AcknowledgeCrash clears an error state, removing the retained backend
// artefact (design §3 invariant 5, §4.5 "Acknowledge crash").
func (o *Orchestrator) AcknowledgeCrash(ctx context.Context, serverID string) error {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return err
	}
	if state.Status != StatusError {
		return apperrors.Newf(apperrors.Conflict, "server %q is not in an error state", serverID)
	}

	tmpl, err := o.templates.Get(state.Config.TemplateID)
	if err == nil {
		if provider, perr := o.providerFor(tmpl); perr == nil {
			if err := provider.Remove(ctx, serverID); err != nil {
				o.log.Warn().Err(err).Str("server_id", serverID).Msg("failed to remove backend artefact on crash ack")
			}
		}
	}

	state.Status = StatusStopped
	state.StartedAt = nil
	o.publishStatus(state)
	return nil
}

// RestoreBackup restores serverID's data directory from the named backup
// (design §4.4 "Restore", preconditions enforced here).
func (o *Orchestrator) RestoreBackup(ctx context.Context, serverID, timestamp string) (backup.RestoreResult, error) {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return backup.RestoreResult{}, err
	}
	if state.Status != StatusStopped {
		return backup.RestoreResult{}, apperrors.Newf(apperrors.Conflict, "server %q must be stopped to restore", serverID)
	}
	if state.UpdateStage != UpdateStageNone {
		return backup.RestoreResult{}, apperrors.Newf(apperrors.Conflict, "server %q has an update in progress", serverID)
	}

	return o.backups.Restore(ctx, serverID, o.dataPath(serverID), timestamp)
}

// UpdatePatch carries the mutable fields PATCH /servers/{id} may change.
// Nil fields are left untouched.
type UpdatePatch struct {
	Name        *string
	Ports       []PortMapping
	Env         map[string]string
	MemoryLimit *string
	CPUQuota    *float64
}

// Update applies a patch to a server's persisted configuration. Disallowed
// while running so the backend never drifts from the persisted spec it was
// started with (design §4.5, by analogy with Start's precondition).
func (o *Orchestrator) Update(ctx context.Context, serverID string, patch UpdatePatch) (Response, error) {
	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(serverID)
	if err != nil {
		return Response{}, err
	}
	if state.Status == StatusRunning || state.Status == StatusStarting {
		return Response{}, apperrors.Newf(apperrors.Conflict, "server %q must be stopped to edit its configuration", serverID)
	}

	if patch.Name != nil {
		state.Config.Name = *patch.Name
	}
	if patch.Ports != nil {
		state.Config.Ports = patch.Ports
	}
	if patch.Env != nil {
		state.Config.Env = patch.Env
	}
	if patch.MemoryLimit != nil {
		state.Config.MemoryLimit = *patch.MemoryLimit
	}
	if patch.CPUQuota != nil {
		state.Config.CPUQuota = *patch.CPUQuota
	}
	state.Config.UpdatedAt = time.Now().UTC()

	if err := o.persist(state); err != nil {
		return Response{}, err
	}
	return state.ToResponse(), nil
}

// Reorder persists a new display order for the given server ids, assigning
// sequential Order values in the slice's order. Unknown ids are skipped.
func (o *Orchestrator) Reorder(ctx context.Context, ids []string) error {
	for i, id := range ids {
		lock := o.lockFor(id)
		lock.Lock()
		state, err := o.getState(id)
		if err != nil {
			lock.Unlock()
			continue
		}
		state.Config.Order = i
		err = o.persist(state)
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// onExit is the crash callback registered with every execution provider
// (design §4.5 "Crash handling").
func (o *Orchestrator) onExit(event backend.ExitEvent) {
	lock := o.lockFor(event.ServerID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.getState(event.ServerID)
	if err != nil {
		return
	}
	if state.Status != StatusRunning && state.Status != StatusStarting {
		return
	}

	state.Status = StatusError
	state.StartedAt = nil
	o.publishStatus(state)
}

// Reconcile loads every sidecar, derives initial in-memory state from
// backend ground truth, and wires crash callbacks (design §4.5 "Startup
// reconciliation").
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	ids, err := o.store.ListDirs(o.serversDir)
	if err != nil {
		return err
	}

	for mode, provider := range o.providers {
		if err := provider.CheckAvailability(ctx); err != nil {
			o.log.Warn().Err(err).Str("mode", string(mode)).Msg("execution provider unavailable at startup")
			continue
		}
		if err := provider.Reconcile(ctx); err != nil {
			o.log.Warn().Err(err).Str("mode", string(mode)).Msg("provider reconciliation failed")
		}
		provider.OnProcessExit(o.onExit)
	}

	loaded := make(map[string]*ServerState, len(ids))
	for _, id := range ids {
		var cfg ServerConfig
		if err := o.store.ReadYAML(o.sidecarPath(id), &cfg); err != nil {
			o.log.Warn().Err(err).Str("server_id", id).Msg("skipping server directory without a valid sidecar")
			continue
		}

		state := &ServerState{Config: &cfg, UpdateStage: cfg.UpdateStage}

		tmpl, terr := o.templates.Get(cfg.TemplateID)
		if terr != nil {
			o.log.Warn().Err(terr).Str("server_id", id).Msg("server references unknown template")
			state.Status = StatusStopped
			loaded[id] = state
			continue
		}

		provider, perr := o.providerFor(tmpl)
		running := false
		if perr == nil {
			if status, serr := provider.GetProcessStatus(ctx, id); serr == nil {
				running = status.Running
			}
		}

		switch {
		case running:
			now := time.Now().UTC()
			state.Status = StatusRunning
			state.StartedAt = &now
		case cfg.UpdateStage != UpdateStageNone:
			state.Status = StatusUpdating
		default:
			state.Status = StatusStopped
		}

		loaded[id] = state
	}

	o.mu.Lock()
	o.servers = loaded
	o.mu.Unlock()

	for mode, provider := range o.providers {
		provider.StartEventMonitoring(ctx)
		o.log.Info().Str("mode", string(mode)).Msg("event monitoring started")
	}

	o.log.Info().Int("count", len(loaded)).Msg("orchestrator reconciled")
	return nil
}

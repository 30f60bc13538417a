// Package di is the composition root: it wires every component built from
// configuration into the dependency graph the HTTP facade and scheduler run
// against (design §9 "Singletons" — one instance of each component for the
// process lifetime, following the teacher's Wire(cfg, log) -> *Container
// composition-root style).
package di

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/backend/container"
	"github.com/lmdudester/garcon/internal/backend/native"
	"github.com/lmdudester/garcon/internal/backup"
	"github.com/lmdudester/garcon/internal/config"
	"github.com/lmdudester/garcon/internal/eventbus"
	"github.com/lmdudester/garcon/internal/httpapi"
	"github.com/lmdudester/garcon/internal/orchestrator"
	"github.com/lmdudester/garcon/internal/scheduler"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

// Container holds every wired singleton, plus the http.Handler and
// scheduler the entry point starts and stops.
type Container struct {
	Store     *store.Store
	Templates *template.Registry
	Backups   *backup.Engine
	Bus       *eventbus.Bus
	Orch      *orchestrator.Orchestrator
	Scheduler *scheduler.Scheduler
	Router    http.Handler
}

// alwaysRestart is the RestartPolicy used until per-template restart
// policy configuration exists: every server the maintenance scheduler stops
// is restarted immediately afterward.
type alwaysRestart struct{}

func (alwaysRestart) ShouldRestartAfterMaintenance(serverID string) bool { return true }

// Wire builds the full dependency graph from cfg. It does not start
// anything long-running; call Orch.Reconcile and Scheduler.Start from the
// entry point once Wire returns.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	st := store.New()

	templates := template.New(cfg.TemplatesDir(), st, log)
	if err := templates.Load(); err != nil {
		return nil, err
	}

	var mirror backup.Mirror
	offsiteMirror, err := backup.NewOffsiteMirror(ctx, backup.OffsiteConfig{
		Enabled:         cfg.Offsite.Enabled,
		AccountID:       cfg.Offsite.AccountID,
		AccessKeyID:     cfg.Offsite.AccessKeyID,
		SecretAccessKey: cfg.Offsite.SecretAccessKey,
		Bucket:          cfg.Offsite.Bucket,
	}, log)
	if err != nil {
		return nil, err
	}
	if offsiteMirror != nil {
		// offsiteMirror is a typed *backup.OffsiteMirror; assigning it
		// directly to the Mirror interface field when disabled would
		// produce a non-nil interface wrapping a nil pointer, so the
		// assignment only happens inside this guard.
		mirror = offsiteMirror
	}

	backups := backup.New(cfg.BackupsDir(), cfg.MaxBackupsPerType, st, log, mirror)

	providers := make(map[template.ExecutionMode]backend.Provider)

	dockerClient, err := container.NewDockerClient(cfg.DockerHost)
	if err != nil {
		log.Warn().Err(err).Msg("docker client construction failed, container-mode servers will be unavailable")
	} else {
		providers[template.ModeContainer] = container.New(dockerClient, log)
	}

	providers[template.ModeNative] = native.New(cfg.NativeStateFile(), cfg.LogsDir(), st, log)

	bus := eventbus.New(log)

	orch := orchestrator.New(
		cfg.ServersDir(),
		templates,
		backups,
		st,
		providers,
		bus,
		cfg.AutoBackupOnStop,
		log,
	)

	sched, err := scheduler.New(orch, alwaysRestart{}, log)
	if err != nil {
		return nil, err
	}

	handlers := httpapi.New(
		orch,
		templates,
		backups,
		bus,
		st,
		cfg.ServersDir(),
		cfg.ImportDir,
		cfg.MaxBackupsPerType,
		cfg.AutoBackupOnStop,
		log,
	)
	router := httpapi.NewRouter(handlers)

	return &Container{
		Store:     st,
		Templates: templates,
		Backups:   backups,
		Bus:       bus,
		Orch:      orch,
		Scheduler: sched,
		Router:    router,
	}, nil
}

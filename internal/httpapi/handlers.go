package httpapi

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/backup"
	"github.com/lmdudester/garcon/internal/eventbus"
	"github.com/lmdudester/garcon/internal/orchestrator"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

// Handlers holds every collaborator the HTTP facade dispatches to.
type Handlers struct {
	orch              *orchestrator.Orchestrator
	templates         *template.Registry
	backups           *backup.Engine
	bus               *eventbus.Bus
	store             *store.Store
	log               zerolog.Logger
	serversDir        string
	importDir         string
	maxBackupsPerType int
	autoBackupOnStop  bool
}

// New constructs the facade's handler set.
func New(
	orch *orchestrator.Orchestrator,
	templates *template.Registry,
	backups *backup.Engine,
	bus *eventbus.Bus,
	st *store.Store,
	serversDir, importDir string,
	maxBackupsPerType int,
	autoBackupOnStop bool,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		orch:              orch,
		templates:         templates,
		backups:           backups,
		bus:               bus,
		store:             st,
		log:               log.With().Str("component", "httpapi").Logger(),
		serversDir:        serversDir,
		importDir:         importDir,
		maxBackupsPerType: maxBackupsPerType,
		autoBackupOnStop:  autoBackupOnStop,
	}
}

func (h *Handlers) dataDir(serverID string) string {
	return filepath.Join(h.serversDir, serverID)
}

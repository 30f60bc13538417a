package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the full chi route table of design §6.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.health)
	r.Get("/config", h.getConfig)
	r.Get("/import/folders", h.listImportFolders)
	r.Get("/events", h.events)

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.listTemplates)
		r.Get("/{id}", h.getTemplate)
	})

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", h.listServers)
		r.Post("/", h.createServer)
		r.Put("/order", h.reorderServers)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getServer)
			r.Patch("/", h.patchServer)
			r.Delete("/", h.deleteServer)

			r.Post("/start", h.startServer)
			r.Post("/stop", h.stopServer)
			r.Post("/restart", h.restartServer)
			r.Post("/acknowledge-crash", h.acknowledgeCrash)

			r.Route("/update", func(r chi.Router) {
				r.Post("/initiate", h.initiateUpdate)
				r.Post("/apply", h.applyUpdate)
				r.Post("/cancel", h.cancelUpdate)
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", h.listBackups)
				r.Post("/", h.createBackup)
				r.Delete("/{timestamp}", h.deleteBackup)
				r.Post("/{timestamp}/restore", h.restoreBackup)
			})
		})
	})

	return r
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.templates.List())
}

func (h *Handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.templates.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl.ToResponse())
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lmdudester/garcon/internal/backup"
)

type createBackupRequestDTO struct {
	Description string `json:"description"`
}

func (h *Handlers) listBackups(w http.ResponseWriter, r *http.Request) {
	records, err := h.backups.List(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) createBackup(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")

	var body createBackupRequestDTO
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.log, err)
			return
		}
	}

	if _, err := h.orch.Get(serverID); err != nil {
		writeError(w, h.log, err)
		return
	}

	rec, err := h.backups.Create(r.Context(), serverID, h.dataDir(serverID), backup.TypeManual, body.Description)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) deleteBackup(w http.ResponseWriter, r *http.Request) {
	err := h.backups.Delete(chi.URLParam(r, "id"), chi.URLParam(r, "timestamp"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) restoreBackup(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.RestoreBackup(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "timestamp"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

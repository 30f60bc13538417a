package httpapi

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type configResponse struct {
	MaxBackupsPerType int  `json:"maxBackupsPerType"`
	AutoBackupOnStop  bool `json:"autoBackupOnStop"`
}

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		MaxBackupsPerType: h.maxBackupsPerType,
		AutoBackupOnStop:  h.autoBackupOnStop,
	})
}

type importFolder struct {
	Name string `json:"name"`
}

// listImportFolders surfaces the candidate source directories a server can
// be imported from (design §6 "GET /import/folders").
func (h *Handlers) listImportFolders(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListDirs(h.importDir)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	folders := make([]importFolder, len(names))
	for i, n := range names {
		folders[i] = importFolder{Name: n}
	}
	writeJSON(w, http.StatusOK, folders)
}

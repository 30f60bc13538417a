package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lmdudester/garcon/internal/orchestrator"
)

type portMappingDTO struct {
	HostPort      int    `json:"hostPort"`
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type importRequestDTO struct {
	Name        string            `json:"name"`
	TemplateID  string            `json:"templateId"`
	SourcePath  string            `json:"sourcePath"`
	Ports       []portMappingDTO  `json:"ports"`
	Env         map[string]string `json:"env"`
	MemoryLimit string            `json:"memoryLimit"`
	CPUQuota    float64           `json:"cpuQuota"`
}

func (h *Handlers) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.List())
}

func (h *Handlers) getServer(w http.ResponseWriter, r *http.Request) {
	resp, err := h.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) createServer(w http.ResponseWriter, r *http.Request) {
	var body importRequestDTO
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}

	ports := make([]orchestrator.PortMapping, len(body.Ports))
	for i, p := range body.Ports {
		ports[i] = orchestrator.PortMapping{HostPort: p.HostPort, ContainerPort: p.ContainerPort, Protocol: p.Protocol}
	}

	resp, err := h.orch.Import(r.Context(), orchestrator.ImportRequest{
		Name:        body.Name,
		TemplateID:  body.TemplateID,
		SourcePath:  body.SourcePath,
		Ports:       ports,
		Env:         body.Env,
		MemoryLimit: body.MemoryLimit,
		CPUQuota:    body.CPUQuota,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) deleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) startServer(w http.ResponseWriter, r *http.Request) {
	h.doAction(w, r, h.orch.Start)
}

func (h *Handlers) stopServer(w http.ResponseWriter, r *http.Request) {
	h.doAction(w, r, h.orch.Stop)
}

func (h *Handlers) restartServer(w http.ResponseWriter, r *http.Request) {
	h.doAction(w, r, h.orch.Restart)
}

func (h *Handlers) acknowledgeCrash(w http.ResponseWriter, r *http.Request) {
	h.doAction(w, r, h.orch.AcknowledgeCrash)
}

// doAction runs a no-result server operation and responds with the
// server's fresh trimmed view on success.
func (h *Handlers) doAction(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.orch.Get(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) initiateUpdate(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.InitiateUpdate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) applyUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.ApplyUpdate(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.orch.Get(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type patchServerRequestDTO struct {
	Name        *string           `json:"name"`
	Ports       []portMappingDTO  `json:"ports"`
	Env         map[string]string `json:"env"`
	MemoryLimit *string           `json:"memoryLimit"`
	CPUQuota    *float64          `json:"cpuQuota"`
}

func (h *Handlers) patchServer(w http.ResponseWriter, r *http.Request) {
	var body patchServerRequestDTO
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}

	patch := orchestrator.UpdatePatch{
		Name:        body.Name,
		Env:         body.Env,
		MemoryLimit: body.MemoryLimit,
		CPUQuota:    body.CPUQuota,
	}
	if body.Ports != nil {
		ports := make([]orchestrator.PortMapping, len(body.Ports))
		for i, p := range body.Ports {
			ports[i] = orchestrator.PortMapping{HostPort: p.HostPort, ContainerPort: p.ContainerPort, Protocol: p.Protocol}
		}
		patch.Ports = ports
	}

	resp, err := h.orch.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type reorderRequestDTO struct {
	ServerIDs []string `json:"serverIds"`
}

func (h *Handlers) reorderServers(w http.ResponseWriter, r *http.Request) {
	var body reorderRequestDTO
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.orch.Reorder(r.Context(), body.ServerIDs); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) cancelUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.CancelUpdate(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.orch.Get(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

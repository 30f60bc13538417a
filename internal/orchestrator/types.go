// Package orchestrator owns the per-server state machine of design §4.5: it
// coordinates the execution provider and backup engine, persists server
// configuration, enforces operation preconditions, and drives the update
// protocol.
package orchestrator

import "time"

// Status is the primary per-server state (design §3).
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
	StatusUpdating Status = "updating"
)

// UpdateStage is the update-protocol sub-state of design §3/§4.5. ready_to_apply
// is carried in the data model but never produced by this implementation's
// transitions — see DESIGN.md's Open Question decision.
type UpdateStage string

const (
	UpdateStageNone        UpdateStage = "none"
	UpdateStageInitiated   UpdateStage = "initiated"
	UpdateStageReadyToApply UpdateStage = "ready_to_apply"
	UpdateStageApplying    UpdateStage = "applying"
)

// PortMapping is a single host<->container port mapping, persisted on the
// server configuration.
type PortMapping struct {
	HostPort      int    `yaml:"hostPort"`
	ContainerPort int    `yaml:"containerPort"`
	Protocol      string `yaml:"protocol"`
}

// ServerConfig is the mutable, persisted server-configuration sidecar
// (design §3).
type ServerConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	TemplateID  string            `yaml:"templateId"`
	SourcePath  string            `yaml:"sourcePath"`
	CreatedAt   time.Time         `yaml:"createdAt"`
	UpdatedAt   time.Time         `yaml:"updatedAt"`
	Ports       []PortMapping     `yaml:"ports"`
	Env         map[string]string `yaml:"env"`
	MemoryLimit string            `yaml:"memoryLimit,omitempty"`
	CPUQuota    float64           `yaml:"cpuQuota,omitempty"`
	UpdateStage UpdateStage       `yaml:"updateStage"`
	Order       int               `yaml:"order"`
}

// ServerState is the in-memory runtime state rebuilt on startup (design §3).
type ServerState struct {
	Config              *ServerConfig
	Status              Status
	StartedAt           *time.Time
	UpdateStage         UpdateStage
	PreUpdateBackupTime string // ISO-8601, set only while UpdateStage != none
}

// Response is the trimmed, public view of a server (design §6 HTTP
// surface).
type Response struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	TemplateID  string            `json:"templateId"`
	Status      Status            `json:"status"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	UpdateStage UpdateStage       `json:"updateStage"`
	Ports       []PortMapping     `json:"ports"`
	Env         map[string]string `json:"env"`
	MemoryLimit string            `json:"memoryLimit,omitempty"`
	CPUQuota    float64           `json:"cpuQuota,omitempty"`
	Order       int               `json:"order"`
}

// ToResponse renders a trimmed view of s for the HTTP facade.
func (s *ServerState) ToResponse() Response {
	return Response{
		ID:          s.Config.ID,
		Name:        s.Config.Name,
		TemplateID:  s.Config.TemplateID,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		UpdateStage: s.UpdateStage,
		Ports:       s.Config.Ports,
		Env:         s.Config.Env,
		MemoryLimit: s.Config.MemoryLimit,
		CPUQuota:    s.Config.CPUQuota,
		Order:       s.Config.Order,
	}
}

// ImportRequest is the input to Import (design §4.5 "Import (create)").
type ImportRequest struct {
	Name        string
	TemplateID  string
	SourcePath  string
	Ports       []PortMapping
	Env         map[string]string
	MemoryLimit string
	CPUQuota    float64
}

// InitiateUpdateResult is the response of the update protocol's first phase.
type InitiateUpdateResult struct {
	SourcePath      string
	BackupTimestamp string
	BackupPath      string
}

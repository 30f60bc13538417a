// Package backend defines the execution-provider contract of design §4.3,
// implemented by the container backend (internal/backend/container) and the
// native-process backend (internal/backend/native).
package backend

import (
	"context"

	"github.com/lmdudester/garcon/internal/template"
)

// ProcessStatus reports what a backend currently knows about a server's
// runtime artefact.
type ProcessStatus struct {
	Exists bool
	// Running is only meaningful when Exists is true.
	Running bool
	// NativeID is a backend-specific identifier: a container id for the
	// container backend, a pid for the native backend.
	NativeID string
}

// ExitEvent is delivered to every registered exit callback when a backend
// observes an instance die.
type ExitEvent struct {
	ServerID string
	// ExitCode is nil when the backend could not determine one (e.g. a
	// re-adopted native process observed only via polling).
	ExitCode *int
}

// ExitCallback is invoked, possibly from a goroutine the backend owns,
// whenever ExitEvent fires for any server the backend tracks.
type ExitCallback func(ExitEvent)

// Unregister removes a previously registered ExitCallback.
type Unregister func()

// StartSpec carries everything a provider needs to create and start an
// instance's runtime artefact. Providers only see the fields relevant to
// their mode; the orchestrator is responsible for populating the whole
// struct from the server configuration and its template.
type StartSpec struct {
	ServerID    string
	DataPath    string
	Env         map[string]string
	Ports       []PortMapping
	MemoryLimit string
	CPULimit    float64
}

// PortMapping is a single host<->container port mapping.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// Provider is the execution-provider contract of design §4.3. Both backends
// implement it identically from the orchestrator's point of view.
type Provider interface {
	// CheckAvailability reports whether this backend can operate on this
	// host (container daemon reachable / this OS is Windows).
	CheckAvailability(ctx context.Context) error

	// StartEventMonitoring begins asynchronous delivery of exit
	// notifications. It may be a no-op for providers that rely purely on
	// polling.
	StartEventMonitoring(ctx context.Context)

	// OnProcessExit registers callback to be invoked when any tracked
	// instance dies. Returns a handle to deregister it.
	OnProcessExit(callback ExitCallback) Unregister

	// GetProcessStatus reports what the backend currently knows about a
	// server's runtime artefact.
	GetProcessStatus(ctx context.Context, serverID string) (ProcessStatus, error)

	// Start creates whatever artefact is needed and starts it, returning a
	// backend-specific identifier. Fails with Conflict when an instance is
	// already tracked and alive.
	Start(ctx context.Context, spec StartSpec, tmpl template.Template) (string, error)

	// Stop gracefully stops a server with the given timeout (falling back
	// to a forceful stop on expiry); idempotent if already stopped.
	Stop(ctx context.Context, serverID string, tmpl template.Template, timeoutSeconds int) error

	// Remove frees backend resources (delete container / forget pid
	// record); idempotent.
	Remove(ctx context.Context, serverID string) error

	// Reconcile aligns the provider's in-memory tracking with ground
	// truth at startup.
	Reconcile(ctx context.Context) error
}

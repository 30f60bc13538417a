// Package container implements the container execution backend of design
// §4.3.1: it runs server instances as Docker containers, one per server id,
// carrying a managed-by label so the backend only ever touches containers
// it created.
package container

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/template"
)

const (
	namePrefix  = "garcon-"
	labelKey    = "managed"
	labelValue  = "true"
	serverLabel = "server_id"
	// runAsUID/runAsGID is the fixed non-root identity every container
	// runs as (design §4.3.1 "Creation").
	runAsUID = 1000
	runAsGID = 1000
)

// DockerAPI is the subset of *dockerclient.Client the backend depends on,
// so tests can substitute a fake without a live daemon.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, ref string) (image.InspectResponse, []byte, error)
	ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig, platform any, name string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainerStop(ctx context.Context, id string, opts container.StopOptions) error
	ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, opts container.ListOptions) ([]types.Container, error)
	Events(ctx context.Context, opts types.EventsOptions) (<-chan events.Message, <-chan error)
}

// Backend is the container execution provider.
type Backend struct {
	cli DockerAPI
	log zerolog.Logger

	callbacks *backend.CallbackRegistry

	mu         sync.RWMutex
	containers map[string]string // server id -> container id (cache; may lag ground truth)
}

// New constructs a container Backend around an already-configured Docker
// client (see client.go for production construction from DOCKER_HOST).
func New(cli DockerAPI, log zerolog.Logger) *Backend {
	return &Backend{
		cli:        cli,
		log:        log.With().Str("component", "container_backend").Logger(),
		callbacks:  backend.NewCallbackRegistry(),
		containers: make(map[string]string),
	}
}

// CheckAvailability pings the Docker daemon.
func (b *Backend) CheckAvailability(ctx context.Context) error {
	if _, err := b.cli.Ping(ctx); err != nil {
		return apperrors.Wrap(apperrors.Docker, "docker daemon unreachable", err)
	}
	return nil
}

// OnProcessExit registers an exit callback.
func (b *Backend) OnProcessExit(cb backend.ExitCallback) backend.Unregister {
	return b.callbacks.Register(cb)
}

func containerName(serverID string) string { return namePrefix + serverID }

// Start creates and starts a container for serverID. Any pre-existing
// container with the same name is removed first (design §4.3.1).
func (b *Backend) Start(ctx context.Context, spec backend.StartSpec, tmpl template.Template) (string, error) {
	if tmpl.Container == nil {
		return "", apperrors.Newf(apperrors.Validation, "template %q has no container config", tmpl.ID)
	}

	status, err := b.GetProcessStatus(ctx, spec.ServerID)
	if err != nil {
		return "", err
	}
	if status.Exists && status.Running {
		return "", apperrors.Newf(apperrors.Conflict, "server %s is already running", spec.ServerID)
	}
	if status.Exists {
		if err := b.removeContainer(ctx, status.NativeID); err != nil {
			return "", err
		}
	}

	if err := b.ensureImage(ctx, tmpl.Container.Image); err != nil {
		return "", err
	}

	cfg, hostCfg := b.buildContainerSpec(spec, tmpl)

	name := containerName(spec.ServerID)
	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", apperrors.Wrap(apperrors.Docker, "create container for "+spec.ServerID, err)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", apperrors.Wrap(apperrors.Docker, "start container for "+spec.ServerID, err)
	}

	b.mu.Lock()
	b.containers[spec.ServerID] = resp.ID
	b.mu.Unlock()

	return resp.ID, nil
}

func (b *Backend) buildContainerSpec(spec backend.StartSpec, tmpl template.Template) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env)+len(tmpl.Container.Env)+1)
	env = append(env, "HOME="+tmpl.Container.MountPath)
	for k, v := range tmpl.Container.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cmd := substituteVars(tmpl.Exec.Command, spec.Env)

	exposed, bindings := buildPortBindings(spec.Ports)

	binds := []string{spec.DataPath + ":" + tmpl.Container.MountPath}
	for _, m := range tmpl.Container.Mounts {
		ro := ""
		if m.ReadOnly {
			ro = ":ro"
		}
		binds = append(binds, m.HostPath+":"+m.ContainerPath+ro)
	}

	resources := container.Resources{}
	if spec.MemoryLimit != "" {
		if bytes, err := ParseMemory(spec.MemoryLimit); err == nil {
			resources.Memory = bytes
		}
	}
	if spec.CPULimit > 0 {
		resources.NanoCPUs = int64(spec.CPULimit * 1e9)
	}

	cfg := &container.Config{
		Image:        tmpl.Container.Image,
		Cmd:          []string{"/bin/sh", "-c", cmd},
		Env:          env,
		WorkingDir:   tmpl.Container.WorkingDir,
		User:         fmt.Sprintf("%d:%d", runAsUID, runAsGID),
		ExposedPorts: exposed,
		Labels: map[string]string{
			labelKey:    labelValue,
			serverLabel: spec.ServerID,
		},
	}

	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		Resources:    resources,
		RestartPolicy: container.RestartPolicy{
			Name: "no",
		},
	}

	return cfg, hostCfg
}

// substituteVars replaces every {VAR} token in tmpl with env["VAR"],
// globally per token (design §4.3.1 "Creation").
func substituteVars(tmpl string, env map[string]string) string {
	out := tmpl
	for k, v := range env {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func buildPortBindings(ports []backend.PortMapping) (map[string]struct{}, map[string][]string) {
	exposed := make(map[string]struct{})
	bindings := make(map[string][]string)
	for _, p := range ports {
		key := fmt.Sprintf("%d/%s", p.ContainerPort, strings.ToLower(p.Protocol))
		exposed[key] = struct{}{}
		bindings[key] = append(bindings[key], strconv.Itoa(p.HostPort))
	}
	return exposed, bindings
}

func (b *Backend) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := b.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return apperrors.Wrap(apperrors.Docker, "pull image "+ref, err)
	}
	defer reader.Close()
	// Pull progress must be awaited to completion before creation.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return apperrors.Wrap(apperrors.Docker, "await image pull "+ref, err)
	}
	return nil
}

// Stop gracefully stops serverID's container then force-removes it: data
// lives on the bind mount, so the container itself is disposable.
func (b *Backend) Stop(ctx context.Context, serverID string, tmpl template.Template, timeoutSeconds int) error {
	status, err := b.GetProcessStatus(ctx, serverID)
	if err != nil {
		return err
	}
	if !status.Exists {
		return nil
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = tmpl.Exec.StopTimeout()
	}
	timeout := timeoutSeconds
	if err := b.cli.ContainerStop(ctx, status.NativeID, container.StopOptions{Timeout: &timeout}); err != nil {
		b.log.Warn().Err(err).Str("server_id", serverID).Msg("graceful container stop failed, forcing removal")
	}

	return b.removeContainer(ctx, status.NativeID)
}

// Remove force-removes serverID's container if one is tracked. Idempotent.
func (b *Backend) Remove(ctx context.Context, serverID string) error {
	status, err := b.GetProcessStatus(ctx, serverID)
	if err != nil {
		return err
	}
	if !status.Exists {
		return nil
	}
	return b.removeContainer(ctx, status.NativeID)
}

func (b *Backend) removeContainer(ctx context.Context, containerID string) error {
	err := b.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return apperrors.Wrap(apperrors.Docker, "remove container "+containerID, err)
	}

	b.mu.Lock()
	for id, cid := range b.containers {
		if cid == containerID {
			delete(b.containers, id)
		}
	}
	b.mu.Unlock()
	return nil
}

// GetProcessStatus inspects the container tracked for serverID (falling
// back to a live lookup by name if the cache hasn't seen it yet).
func (b *Backend) GetProcessStatus(ctx context.Context, serverID string) (backend.ProcessStatus, error) {
	b.mu.RLock()
	containerID, cached := b.containers[serverID]
	b.mu.RUnlock()

	if !cached {
		id, err := b.findContainerByName(ctx, containerName(serverID))
		if err != nil {
			return backend.ProcessStatus{}, err
		}
		if id == "" {
			return backend.ProcessStatus{Exists: false}, nil
		}
		containerID = id
		b.mu.Lock()
		b.containers[serverID] = containerID
		b.mu.Unlock()
	}

	info, err := b.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			b.mu.Lock()
			delete(b.containers, serverID)
			b.mu.Unlock()
			return backend.ProcessStatus{Exists: false}, nil
		}
		return backend.ProcessStatus{}, apperrors.Wrap(apperrors.Docker, "inspect container "+containerID, err)
	}

	return backend.ProcessStatus{
		Exists:   true,
		Running:  info.State != nil && info.State.Running,
		NativeID: containerID,
	}, nil
}

// findContainerByName reproduces the daemon's substring name filter then
// post-filters for an exact "/<name>" match (design §9 "Substring matching
// on container filters").
func (b *Backend) findContainerByName(ctx context.Context, name string) (string, error) {
	f := filters.NewArgs()
	f.Add("name", name)
	f.Add("label", labelKey+"="+labelValue)

	list, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return "", apperrors.Wrap(apperrors.Docker, "list containers", err)
	}

	for _, c := range list {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

// Reconcile enumerates every container carrying the managed label and
// repopulates the server-id -> container-id cache. No side effects on the
// containers themselves (design §4.3.1 "Reconciliation").
func (b *Backend) Reconcile(ctx context.Context) error {
	f := filters.NewArgs()
	f.Add("label", labelKey+"="+labelValue)

	list, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return apperrors.Wrap(apperrors.Docker, "list managed containers", err)
	}

	found := make(map[string]string, len(list))
	for _, c := range list {
		serverID, ok := c.Labels[serverLabel]
		if !ok {
			continue
		}
		found[serverID] = c.ID
	}

	b.mu.Lock()
	b.containers = found
	b.mu.Unlock()

	b.log.Info().Int("count", len(found)).Msg("container backend reconciled")
	return nil
}

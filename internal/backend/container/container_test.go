package container

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/template"
)

type fakeDocker struct {
	pingErr        error
	imageExists    bool
	createID       string
	createErr      error
	startErr       error
	inspectByID    map[string]types.ContainerJSON
	inspectErr     error
	listResult     []types.Container
	removedIDs     []string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		inspectByID: make(map[string]types.ContainerJSON),
	}
}

func (f *fakeDocker) Ping(ctx context.Context) (types.Ping, error) { return types.Ping{}, f.pingErr }

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, ref string) (image.InspectResponse, []byte, error) {
	if f.imageExists {
		return image.InspectResponse{}, nil, nil
	}
	return image.InspectResponse{}, nil, errors.New("no such image")
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig, platform any, name string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: f.createID}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	f.removedIDs = append(f.removedIDs, id)
	return nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	if f.inspectErr != nil {
		return types.ContainerJSON{}, f.inspectErr
	}
	info, ok := f.inspectByID[id]
	if !ok {
		return types.ContainerJSON{}, errors.New("no such container")
	}
	return info, nil
}

func (f *fakeDocker) ContainerList(ctx context.Context, opts container.ListOptions) ([]types.Container, error) {
	return f.listResult, nil
}

func (f *fakeDocker) Events(ctx context.Context, opts types.EventsOptions) (<-chan events.Message, <-chan error) {
	msgs := make(chan events.Message)
	errs := make(chan error)
	close(msgs)
	close(errs)
	return msgs, errs
}

func testTemplate() template.Template {
	return template.Template{
		ID:   "minecraft",
		Mode: template.ModeContainer,
		Container: &template.ContainerConfig{
			Image:     "itzg/minecraft-server",
			MountPath: "/data",
		},
		Exec: template.ExecConfig{Command: "start.sh"},
	}
}

func TestStart_CreatesAndStartsContainer(t *testing.T) {
	f := newFakeDocker()
	f.imageExists = true
	f.createID = "abc123"

	b := New(f, zerolog.Nop())

	id, err := b.Start(context.Background(), backend.StartSpec{
		ServerID: "s1",
		DataPath: "/srv/s1",
	}, testTemplate())

	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestStart_RejectsWhenAlreadyRunning(t *testing.T) {
	f := newFakeDocker()
	f.imageExists = true
	f.listResult = []types.Container{{
		ID:     "existing",
		Names:  []string{"/" + containerName("s1")},
		Labels: map[string]string{labelKey: labelValue},
	}}
	running := true
	f.inspectByID["existing"] = types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{Running: running},
		},
	}

	b := New(f, zerolog.Nop())
	_, err := b.Start(context.Background(), backend.StartSpec{ServerID: "s1"}, testTemplate())
	assert.Error(t, err)
}

func TestGetProcessStatus_NotFound(t *testing.T) {
	f := newFakeDocker()
	b := New(f, zerolog.Nop())

	status, err := b.GetProcessStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, status.Exists)
}

func TestStop_NoOpWhenAbsent(t *testing.T) {
	f := newFakeDocker()
	b := New(f, zerolog.Nop())

	err := b.Stop(context.Background(), "gone", testTemplate(), 10)
	assert.NoError(t, err)
	assert.Empty(t, f.removedIDs)
}

func TestReconcile_PopulatesCache(t *testing.T) {
	f := newFakeDocker()
	f.listResult = []types.Container{
		{ID: "c1", Labels: map[string]string{labelKey: labelValue, serverLabel: "s1"}},
		{ID: "c2", Labels: map[string]string{labelKey: labelValue, serverLabel: "s2"}},
	}

	b := New(f, zerolog.Nop())
	require.NoError(t, b.Reconcile(context.Background()))

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Equal(t, "c1", b.containers["s1"])
	assert.Equal(t, "c2", b.containers["s2"])
}

func TestSubstituteVars(t *testing.T) {
	out := substituteVars("run {MAP} --port {PORT}", map[string]string{"MAP": "de_dust2", "PORT": "27015"})
	assert.Equal(t, "run de_dust2 --port 27015", out)
}

func TestParseExitCode(t *testing.T) {
	code, err := parseExitCode("137")
	require.NoError(t, err)
	assert.Equal(t, 137, code)
}

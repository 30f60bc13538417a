package container

import (
	dockerclient "github.com/docker/docker/client"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// NewDockerClient builds a real Docker API client. host may be empty to use
// the daemon's default connection (DOCKER_HOST env var or the platform
// default socket).
func NewDockerClient(host string) (*dockerclient.Client, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Docker, "construct docker client", err)
	}
	return cli, nil
}

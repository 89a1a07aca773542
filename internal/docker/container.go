package docker

import (
	"context"
	"sort"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// apiClient is the subset of the Docker SDK client used here. Tests
// substitute a fake.
type apiClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// PublishedPorts returns the host ports published by running containers,
// sorted and without duplicates. Stopped containers hold no host ports and
// are not listed.
func (c *Client) PublishedPorts(ctx context.Context) ([]int, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitEnvironmentUnavailable,
			"failed to list Docker containers",
			err,
		)
	}
	return publishedPorts(containers), nil
}

// publishedPorts collects the public side of every port binding. Bindings
// that expose a container port without publishing it have PublicPort 0.
// The same host port shows up twice when it is bound on both IPv4 and IPv6.
func publishedPorts(containers []container.Summary) []int {
	seen := make(map[int]struct{})
	for _, c := range containers {
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			seen[int(p.PublicPort)] = struct{}{}
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

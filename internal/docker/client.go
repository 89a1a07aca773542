package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// defaultPingTimeout bounds a Ping. Docker Desktop on macOS can be slow to
// answer the first request.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client.
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	ports, err := c.PublishedPorts(ctx)
type Client struct {
	// inner is the SDK client, held behind the narrow apiClient interface
	// rather than embedded so the exposed surface stays small and tests can
	// substitute a fake daemon.
	inner apiClient
}

// NewClient creates a Docker client with automatic socket detection.
//
// Detection order:
//  1. DOCKER_HOST (used as-is)
//  2. Platform default sockets:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitEnvironmentUnavailable if no socket is
// found or the client cannot be created.
func NewClient() (*Client, error) {
	// An explicit DOCKER_HOST wins unconditionally; the SDK parses it.
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		return newClientWithHost(dockerHost)
	}

	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitEnvironmentUnavailable,
			"Docker socket not found",
			err,
		)
	}

	return newClientWithHost(host)
}

// newClientWithHost connects to host, e.g. "unix:///var/run/docker.sock".
// API version negotiation lets one binary talk to older and newer daemons
// without pinning a version.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitEnvironmentUnavailable,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	return &Client{inner: c}, nil
}

// detectDockerHost returns the Docker host URI for the current platform.
// It checks that the socket file exists but does not connect; Ping does.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
		})

	case "darwin":
		// Docker Desktop links /var/run/docker.sock unless the user opted
		// out, in which case only the per-user socket exists.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{
				"/var/run/docker.sock",
			})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat does not work on named pipes, so probe with a short dial.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the host URI of the first path that exists.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v", paths)
}

// Ping verifies that the Docker daemon is reachable, waiting at most
// defaultPingTimeout.
//
// portalloc pings once at startup and drops the Docker source when this
// fails, so a paused Docker Desktop cannot stall every allocation.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitEnvironmentUnavailable,
			"Docker daemon is not responding",
			err,
		)
	}
	return nil
}

// Close releases the client's resources. Safe to call more than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

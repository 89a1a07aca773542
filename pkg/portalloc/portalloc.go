// Package portalloc hands out HTTP/TCP port pairs that are unique across
// every process on the host.
//
// A Client wires the shared cursor file, the cross-process lock, the OS
// port scanner and the allocator from a config.Config:
//
//	cfg, err := config.Load("")
//	if err != nil { /* handle */ }
//	c, err := portalloc.New(cfg, slog.Default())
//	if err != nil { /* handle */ }
//	defer c.Close()
//	alloc, err := c.CreatePortAllocation(ctx)
package portalloc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmr-tortoise/portalloc/internal/config"
	"github.com/mmr-tortoise/portalloc/internal/cursor"
	"github.com/mmr-tortoise/portalloc/internal/docker"
	"github.com/mmr-tortoise/portalloc/internal/lock"
	"github.com/mmr-tortoise/portalloc/internal/model"
	"github.com/mmr-tortoise/portalloc/internal/port"
)

// PortAllocation is an HTTP/TCP port pair.
type PortAllocation = model.PortAllocation

// Errors returned by Client methods, for use with errors.Is.
var (
	ErrInvalidCursor          = model.ErrInvalidCursor
	ErrRangeExhausted         = model.ErrRangeExhausted
	ErrEnvironmentUnavailable = model.ErrEnvironmentUnavailable
	ErrLockTimeout            = lock.ErrLockTimeout
)

// Client allocates ports. It is safe for concurrent use.
type Client struct {
	cfg       *config.Config
	store     *cursor.Store
	locker    *lock.FileLock
	scanner   *port.Scanner
	allocator *port.Allocator
	docker    *docker.Client
	logger    *slog.Logger
}

// New wires a Client from cfg. A nil logger means slog.Default().
//
// When cfg.Docker.Enabled is set but the daemon cannot be reached, the
// Docker source is left out and a warning is logged; allocation still works
// from the OS scan alone.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}

	uid, gid, err := cfg.Owner()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid cursor file owner", err)
	}

	reserved := port.ReservedFrom(cfg)
	scanner := port.NewScanner(port.NewCommandQuery(cfg.ScanCommand), reserved, logger)
	scanner.SetCacheTTL(cfg.CacheTTL.Std())

	c := &Client{
		cfg:     cfg,
		store:   cursor.NewStore(cfg.CursorPath(), uid, gid),
		locker:  lock.New(cfg.LockDir, cfg.LockName, logger).WithOwner(uid, gid),
		scanner: scanner,
		logger:  logger,
	}

	if cfg.Docker.Enabled {
		c.attachDocker()
	}

	c.allocator = port.NewAllocator(c.store, c.locker, c.scanner, reserved, logger)
	return c, nil
}

func (c *Client) attachDocker() {
	dc, err := docker.NewClient()
	if err != nil {
		c.logger.Warn("Docker port source disabled", "error", err)
		return
	}
	if err := dc.Ping(context.Background()); err != nil {
		c.logger.Warn("Docker port source disabled", "error", err)
		_ = dc.Close()
		return
	}
	c.docker = dc
	c.scanner.AddSource(dc)
}

// CreatePortAllocation allocates an HTTP port and a TCP port.
func (c *Client) CreatePortAllocation(ctx context.Context) (PortAllocation, error) {
	ctx, cancel := c.lockContext(ctx)
	defer cancel()
	return c.allocator.CreatePortAllocation(ctx)
}

// AllocateNextPort allocates a single port.
func (c *Client) AllocateNextPort(ctx context.Context) (int, error) {
	ctx, cancel := c.lockContext(ctx)
	defer cancel()
	return c.allocator.AllocateNextPort(ctx)
}

// UsedPorts returns the ports currently treated as unavailable: listening
// sockets, supplementary sources and reserved ports.
func (c *Client) UsedPorts(ctx context.Context) ([]int, error) {
	return c.scanner.UsedPorts(ctx)
}

// ReservedPorts returns the ports that are never allocated.
func (c *Client) ReservedPorts() []int {
	return port.ReservedFrom(c.cfg).Ports()
}

// Cursor reads the persisted cursor under the lock.
func (c *Client) Cursor(ctx context.Context) (int, error) {
	ctx, cancel := c.lockContext(ctx)
	defer cancel()

	unlock, err := c.locker.Lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire port lock: %w", err)
	}
	defer c.release(unlock)

	return c.store.Read()
}

// SetCursor overwrites the persisted cursor under the lock. The next
// allocation starts searching after value.
func (c *Client) SetCursor(ctx context.Context, value int) error {
	if !model.InRange(value) {
		return fmt.Errorf("%w: %d is outside %d-%d", model.ErrInvalidCursor, value, model.MinPort, model.MaxPort)
	}

	ctx, cancel := c.lockContext(ctx)
	defer cancel()

	unlock, err := c.locker.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire port lock: %w", err)
	}
	defer c.release(unlock)

	if err := c.store.EnsureDir(); err != nil {
		return err
	}
	if err := c.store.Write(value); err != nil {
		return err
	}
	c.logger.Debug("Cursor set", "cursor", value)
	return nil
}

// CursorPath returns the cursor file path.
func (c *Client) CursorPath() string {
	return c.store.Path()
}

// Close releases the Docker client, if one was attached.
func (c *Client) Close() error {
	if c.docker != nil {
		return c.docker.Close()
	}
	return nil
}

// lockContext bounds ctx by the configured lock timeout. Without one the
// context is returned unchanged, so a Background context keeps the lock
// wait blocking.
func (c *Client) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := c.cfg.LockTimeout.Std(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

func (c *Client) release(unlock lock.UnlockFunc) {
	if err := unlock(); err != nil {
		c.logger.Warn("Failed to release port lock", "error", err)
	}
}

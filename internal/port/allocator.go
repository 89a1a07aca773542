package port

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmr-tortoise/portalloc/internal/lock"
	"github.com/mmr-tortoise/portalloc/internal/model"
)

// CursorStore persists the last assigned port. *cursor.Store implements it.
type CursorStore interface {
	EnsureDir() error
	Read() (int, error)
	Write(port int) error
}

// UsedPortSource lists the ports that must not be handed out right now.
// *Scanner implements it.
type UsedPortSource interface {
	UsedPorts(ctx context.Context) ([]int, error)
}

// Allocator hands out free, non-reserved ports by advancing a cursor that
// is shared by every process on the host.
//
// Each call to AllocateNextPort is one read-modify-write cycle of the
// cursor under the cross-process lock, so no two callers (in this process
// or any other) can start from the same cursor value.
type Allocator struct {
	store    CursorStore
	locker   lock.Locker
	scanner  UsedPortSource
	reserved ReservedPorts
	logger   *slog.Logger
}

// NewAllocator wires an Allocator from its collaborators.
func NewAllocator(store CursorStore, locker lock.Locker, scanner UsedPortSource, reserved ReservedPorts, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		store:    store,
		locker:   locker,
		scanner:  scanner,
		reserved: reserved,
		logger:   logger,
	}
}

// CreatePortAllocation allocates an HTTP port and then a TCP port. The two
// calls run in sequence because the second starts from the cursor the
// first one wrote. Either both ports are returned or an error is.
func (a *Allocator) CreatePortAllocation(ctx context.Context) (model.PortAllocation, error) {
	httpPort, err := a.AllocateNextPort(ctx)
	if err != nil {
		return model.PortAllocation{}, fmt.Errorf("failed to allocate http port: %w", err)
	}

	tcpPort, err := a.AllocateNextPort(ctx)
	if err != nil {
		return model.PortAllocation{}, fmt.Errorf("failed to allocate tcp port: %w", err)
	}

	if httpPort == tcpPort {
		return model.PortAllocation{}, fmt.Errorf("%w: search wrapped back onto port %d", model.ErrRangeExhausted, httpPort)
	}

	return model.NewPortAllocation(httpPort, tcpPort)
}

// AllocateNextPort returns the next port after the cursor that is neither
// reserved nor in use, and advances the cursor to it.
//
// Algorithm:
//  1. Acquire the cross-process lock (blocks; released on every return path).
//  2. Ensure the cursor directory exists and read the cursor.
//  3. Fetch used ∪ reserved ports from the scanner.
//  4. Step forward from the cursor, skipping reserved ports, then probe
//     past used ports. Past MaxPort the search restarts at MinPort once.
//  5. Persist the result as the new cursor and return it.
//
// The scan result may be up to one cache TTL old. Ports bound by another
// process within that window are not seen; the cursor still guarantees that
// no other allocator hands out the same port.
//
// Errors wrap model.ErrInvalidCursor, model.ErrEnvironmentUnavailable or
// model.ErrRangeExhausted. The cursor is not modified on error.
func (a *Allocator) AllocateNextPort(ctx context.Context) (int, error) {
	unlock, err := a.locker.Lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire port lock: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			a.logger.Warn("Failed to release port lock", "error", uerr)
		}
	}()

	// The lock file normally lives next to the cursor, so the directory
	// exists by now. A custom lock directory can differ.
	if err := a.store.EnsureDir(); err != nil {
		return 0, err
	}

	start, err := a.store.Read()
	if err != nil {
		return 0, err
	}

	usedPorts, err := a.scanner.UsedPorts(ctx)
	if err != nil {
		return 0, err
	}
	// The scanner returns a sorted slice with duplicates; a map makes each
	// probe O(1) while the search walks up to the whole range.
	used := make(map[int]struct{}, len(usedPorts))
	for _, p := range usedPorts {
		used[p] = struct{}{}
	}

	port, err := a.nextFreePort(start, used)
	if err != nil {
		return 0, err
	}

	// Written before unlock so the next holder of the lock starts after
	// this port.
	if err := a.store.Write(port); err != nil {
		return 0, err
	}

	a.logger.Debug("Allocated port", "port", port, "cursor", start)
	return port, nil
}

// nextFreePort probes forward from start. Reserved ports are never landed
// on, even transiently. The search may wrap to MinPort once; after the wrap
// it must stay below start, otherwise the whole range has been visited.
//
// The cursor port itself is never handed out again by this search, even if
// the OS reports it free: a host whose only free port is the cursor reports
// ErrRangeExhausted. This keeps two consecutive calls from returning the
// same port, which CreatePortAllocation relies on.
func (a *Allocator) nextFreePort(start int, used map[int]struct{}) (int, error) {
	wrapped := false
	candidate := a.advance(start)

	for {
		// Past the top of the range. The first time, restart at the bottom;
		// the second time every port above start has been seen already.
		if candidate > model.MaxPort {
			if wrapped {
				break
			}
			wrapped = true
			candidate = a.skipReserved(model.MinPort)
			continue
		}

		// Back at (or beyond) the cursor after wrapping: the ports below
		// start have been seen too, so the range is exhausted.
		if wrapped && candidate >= start {
			break
		}

		if _, inUse := used[candidate]; !inUse {
			return candidate, nil
		}

		// In use: step to the next port, again skipping reserved ones so
		// that a reserved port never becomes the candidate.
		candidate = a.advance(candidate)
	}

	return 0, fmt.Errorf("%w: %d-%d exhausted (cursor %d)", model.ErrRangeExhausted, model.MinPort, model.MaxPort, start)
}

// advance returns the first non-reserved port strictly after port.
func (a *Allocator) advance(port int) int {
	return a.skipReserved(port + 1)
}

// skipReserved returns port, or the first non-reserved port after it.
func (a *Allocator) skipReserved(port int) int {
	for a.reserved.Contains(port) {
		port++
	}
	return port
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultPollInterval is how often a cancellable Lock call retries a
// non-blocking flock while another process holds the lock.
const defaultPollInterval = 10 * time.Millisecond

// ErrLockTimeout is returned when the context passed to Lock ends before
// the lock could be acquired. The context error is wrapped alongside it.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// UnlockFunc releases a held lock. It must be called on every exit path
// once Lock has succeeded. Calling it more than once is safe.
type UnlockFunc func() error

// Locker is a blocking, cross-process mutual exclusion primitive.
type Locker interface {
	// Lock blocks until the lock is held or ctx ends.
	Lock(ctx context.Context) (UnlockFunc, error)
}

// FileLock is a Locker backed by an advisory lock on a file in a shared
// directory. Separate FileLock values (and separate processes) naming the
// same directory and name exclude each other.
type FileLock struct {
	dir          string
	name         string
	pollInterval time.Duration
	logger       *slog.Logger

	// uid and gid own the lock directory and file when this FileLock
	// creates them. -1 leaves the value unchanged.
	uid int
	gid int
}

// New returns a FileLock for the lock called name inside dir.
// Neither the directory nor the lock file needs to exist yet.
func New(dir, name string, logger *slog.Logger) *FileLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLock{
		dir:          dir,
		name:         name,
		pollInterval: defaultPollInterval,
		logger:       logger,
		uid:          -1,
		gid:          -1,
	}
}

// WithOwner hands the lock directory and lock file to uid/gid when Lock
// creates them, so that a service user can still lock after root did so
// first. Pass -1 to leave either unchanged.
func (l *FileLock) WithOwner(uid, gid int) *FileLock {
	l.uid = uid
	l.gid = gid
	return l
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return filepath.Join(l.dir, l.name+".lock")
}

// Lock acquires the lock. With a context that can never be cancelled
// (context.Background) it blocks indefinitely in the kernel. Otherwise it
// polls until the lock is free or ctx is done, in which case the returned
// error wraps both ErrLockTimeout and ctx.Err().
func (l *FileLock) Lock(ctx context.Context) (UnlockFunc, error) {
	f, err := l.open()
	if err != nil {
		return nil, err
	}
	path := f.Name()

	start := time.Now()
	if ctx.Done() == nil {
		err = lockFile(f)
	} else {
		err = l.poll(ctx, f)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	l.logger.Debug("Lock acquired", "lock", l.name, "path", path, "waited", time.Since(start))

	var once sync.Once
	var unlockErr error
	unlock := func() error {
		once.Do(func() {
			unlockErr = errors.Join(unlockFile(f), f.Close())
			l.logger.Debug("Lock released", "lock", l.name)
		})
		return unlockErr
	}
	return unlock, nil
}

// open creates the lock directory and file if needed and opens the file.
//
// flock(2) does not care about the access mode, so a lock file that another
// user created and this process may not write is opened read-only instead
// of failing the allocation.
func (l *FileLock) open() (*os.File, error) {
	_, statErr := os.Stat(l.dir)
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", l.dir, err)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		l.chown(l.dir)
	}

	path := l.Path()
	_, statErr = os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if errors.Is(err, fs.ErrPermission) {
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		l.chown(path)
	}
	return f, nil
}

// chown applies the configured owner to path. A failure only costs other
// users write access to the lock, which open tolerates, so it is logged.
func (l *FileLock) chown(path string) {
	if l.uid == -1 && l.gid == -1 {
		return
	}
	if err := os.Chown(path, l.uid, l.gid); err != nil {
		l.logger.Warn("Failed to chown lock path", "path", path, "uid", l.uid, "gid", l.gid, "error", err)
	}
}

// poll retries a non-blocking lock until it succeeds or ctx ends.
func (l *FileLock) poll(ctx context.Context, f *os.File) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		acquired, err := tryLockFile(f)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w %q: %w", ErrLockTimeout, l.name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Package cursor persists the "last assigned port" value that drives where
// the next port search starts.
//
// The cursor is a single decimal integer in a well-known file that every
// allocating process on the host shares. The Store does no locking of its
// own: callers serialize Read/Write cycles with the cross-process lock in
// internal/lock.
package cursor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// Store reads and writes the cursor file.
type Store struct {
	// path is the absolute path of the cursor file, e.g. /tmp/bg-locks/port.
	path string

	// uid and gid are applied to the file after every write so that the
	// service user can keep updating it. -1 leaves the value unchanged.
	uid int
	gid int
}

// NewStore returns a Store for the cursor file at path. Ownership is set to
// uid/gid after each write; pass -1 to leave either unchanged.
func NewStore(path string, uid, gid int) *Store {
	return &Store{path: path, uid: uid, gid: gid}
}

// Path returns the cursor file path.
func (s *Store) Path() string {
	return s.path
}

// EnsureDir creates the directory holding the cursor file if it is missing.
func (s *Store) EnsureDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cursor directory %s: %w", dir, err)
	}
	return nil
}

// Read returns the persisted cursor. A missing file yields model.MinPort.
//
// Content that is not an integer, or an integer above model.MaxPort or
// below zero, is reported as model.ErrInvalidCursor: a corrupt cursor points
// at an environment problem that must surface rather than be papered over.
// Values in [0, MinPort) are clamped to MinPort so the search starts at the
// bottom of the allocatable range.
func (s *Store) Read() (int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.MinPort, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor file %s: %w", s.path, err)
	}

	return Parse(string(data))
}

// Parse converts cursor file content to a cursor value using the same
// rules as Read.
func Parse(content string) (int, error) {
	text := strings.TrimSpace(content)
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", model.ErrInvalidCursor, text)
	}
	if value < 0 || value > model.MaxPort {
		return 0, fmt.Errorf("%w: %d is outside 0-%d", model.ErrInvalidCursor, value, model.MaxPort)
	}
	if value < model.MinPort {
		return model.MinPort, nil
	}
	return value, nil
}

// Write overwrites the cursor file with port and hands ownership of the file
// to the configured uid/gid.
func (s *Store) Write(port int) error {
	if err := os.WriteFile(s.path, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return fmt.Errorf("failed to write cursor file %s: %w", s.path, err)
	}
	if s.uid == -1 && s.gid == -1 {
		return nil
	}
	if err := os.Chown(s.path, s.uid, s.gid); err != nil {
		return fmt.Errorf("failed to chown cursor file %s to %d:%d: %w", s.path, s.uid, s.gid, err)
	}
	return nil
}

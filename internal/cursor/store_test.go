package cursor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "bg-locks", "port"), -1, -1)
}

// TestRead_MissingFile verifies that an absent cursor starts at MinPort.
func TestRead_MissingFile(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, model.MinPort, got)
}

// TestWriteRead_RoundTrip writes a value and reads it back through a fresh
// Store, as a second process would.
func TestWriteRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureDir())
	require.NoError(t, s.Write(31337))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "31337", string(data), "cursor is stored as a bare decimal")

	got, err := NewStore(s.Path(), -1, -1).Read()
	require.NoError(t, err)
	assert.Equal(t, 31337, got)
}

// TestWrite_Chown hands the file to the current user, which is the one
// ownership change an unprivileged test can make.
func TestWrite_Chown(t *testing.T) {
	if os.Getuid() < 0 {
		t.Skip("platform has no numeric uids")
	}
	path := filepath.Join(t.TempDir(), "port")
	s := NewStore(path, os.Getuid(), os.Getgid())

	require.NoError(t, s.Write(4000))
	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 4000, got)
}

// TestWrite_MissingDirectory verifies that Write does not create parents;
// EnsureDir is the explicit step for that.
func TestWrite_MissingDirectory(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Write(2001))

	require.NoError(t, s.EnsureDir())
	assert.NoError(t, s.Write(2001))
}

// TestRead_InvalidContent covers the configuration error cases: the file
// exists but must not be silently replaced by a default.
func TestRead_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a number", "banana"},
		{"empty file", ""},
		{"float", "2000.5"},
		{"above max port", "70000"},
		{"negative", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.EnsureDir())
			require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0o644))

			_, err := s.Read()
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidCursor))
		})
	}
}

// TestParse covers accepted spellings and the clamp below MinPort.
func TestParse(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"2000", 2000},
		{"4321\n", 4321},
		{"  65535  ", 65535},
		{"0", model.MinPort},
		{"1500", model.MinPort},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, err := Parse(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

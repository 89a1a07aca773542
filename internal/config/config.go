// Package config loads portalloc settings: the reserved ports, the owner of
// the cursor file, and where the lock and cursor live.
//
// Settings come from three layers, later ones winning:
//  1. Built-in defaults (Default)
//  2. An optional YAML (.yaml/.yml) or JSONC (.json/.jsonc) file
//  3. PORTALLOC_* environment variables
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/portalloc/internal/port"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath  = "PORTALLOC_CONFIG"
	EnvManagerPort = "PORTALLOC_MANAGER_PORT"
	EnvHTTPSPort   = "PORTALLOC_HTTPS_PORT"
	EnvUser        = "PORTALLOC_USER"
	EnvGroup       = "PORTALLOC_GROUP"
	EnvLockDir     = "PORTALLOC_LOCK_DIR"
)

// Defaults. The lock directory, cursor file name and lock name are shared
// with other tools on the host and must not change.
const (
	DefaultManagerPort = 4000
	DefaultHTTPSPort   = 443
	DefaultLockDir     = "/tmp/bg-locks"
	DefaultLockName    = "port"
	DefaultCursorFile  = "port"
)

// Config holds every portalloc setting. Field tags serve both the YAML and
// the JSONC file formats.
type Config struct {
	// Manager is the fixed port of the manager service. Never allocated.
	Manager int `yaml:"managerPort" json:"managerPort"`

	// HTTPS is the fixed HTTPS port. Never allocated.
	HTTPS int `yaml:"httpsPort" json:"httpsPort"`

	// Reserved lists additional ports that must never be allocated.
	Reserved []int `yaml:"reservedPorts" json:"reservedPorts"`

	// User and Group own the cursor file after each write. Either a name or
	// a numeric id. Empty leaves ownership unchanged.
	User  string `yaml:"user" json:"user"`
	Group string `yaml:"group" json:"group"`

	// LockDir holds both the lock file and the cursor file.
	LockDir string `yaml:"lockDir" json:"lockDir"`

	// LockName names the cross-process lock.
	LockName string `yaml:"lockName" json:"lockName"`

	// CursorFile is the cursor file name inside LockDir.
	CursorFile string `yaml:"cursorFile" json:"cursorFile"`

	// CacheTTL is how long an OS port scan is reused.
	CacheTTL Duration `yaml:"cacheTTL" json:"cacheTTL"`

	// LockTimeout bounds the wait for the lock. Zero blocks indefinitely.
	LockTimeout Duration `yaml:"lockTimeout" json:"lockTimeout"`

	// ScanCommand lists listening sockets, e.g. "netstat -lntu".
	ScanCommand string `yaml:"scanCommand" json:"scanCommand"`

	// Docker controls the optional container published-port source.
	Docker DockerConfig `yaml:"docker" json:"docker"`
}

// DockerConfig configures the Docker published-port source.
type DockerConfig struct {
	// Enabled adds host ports published by running containers to the used
	// port set. Useful when the Docker userland proxy is disabled and
	// published ports do not show up in netstat.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Manager:     DefaultManagerPort,
		HTTPS:       DefaultHTTPSPort,
		LockDir:     DefaultLockDir,
		LockName:    DefaultLockName,
		CursorFile:  DefaultCursorFile,
		CacheTTL:    Duration(port.DefaultCacheTTL),
		ScanCommand: port.DefaultScanCommand,
	}
}

// Load builds the configuration from defaults, the file at path (or at
// $PORTALLOC_CONFIG when path is empty) and environment overrides, then
// validates it. No file at all is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the file at path onto cfg. The format is chosen by
// extension; JSONC comments and trailing commas are accepted.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}
	return nil
}

// applyEnv overlays PORTALLOC_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvManagerPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvManagerPort, v)
		}
		c.Manager = p
	}
	if v := os.Getenv(EnvHTTPSPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvHTTPSPort, v)
		}
		c.HTTPS = p
	}
	if v := os.Getenv(EnvUser); v != "" {
		c.User = v
	}
	if v := os.Getenv(EnvGroup); v != "" {
		c.Group = v
	}
	if v := os.Getenv(EnvLockDir); v != "" {
		c.LockDir = v
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Manager < 1 || c.Manager > 65535 {
		return fmt.Errorf("manager port %d out of range (1-65535)", c.Manager)
	}
	if c.HTTPS < 1 || c.HTTPS > 65535 {
		return fmt.Errorf("https port %d out of range (1-65535)", c.HTTPS)
	}
	for _, p := range c.Reserved {
		if p < 1 || p > 65535 {
			return fmt.Errorf("reserved port %d out of range (1-65535)", p)
		}
	}
	if c.LockDir == "" {
		return fmt.Errorf("lock directory is required")
	}
	if c.LockName == "" {
		return fmt.Errorf("lock name is required")
	}
	if c.CursorFile == "" || strings.ContainsRune(c.CursorFile, filepath.Separator) {
		return fmt.Errorf("cursor file must be a plain file name, got %q", c.CursorFile)
	}
	if c.CursorFile == c.LockName+".lock" {
		return fmt.Errorf("cursor file %q collides with the lock file", c.CursorFile)
	}
	if c.CacheTTL < 0 || c.LockTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if strings.TrimSpace(c.ScanCommand) == "" {
		return fmt.Errorf("scan command is required")
	}
	return nil
}

// ManagerPort returns the manager service port.
func (c *Config) ManagerPort() int { return c.Manager }

// HTTPSPort returns the HTTPS port.
func (c *Config) HTTPSPort() int { return c.HTTPS }

// ReservedPorts returns the extra reserved ports.
func (c *Config) ReservedPorts() []int { return c.Reserved }

// CursorPath returns the absolute cursor file path.
func (c *Config) CursorPath() string {
	return filepath.Join(c.LockDir, c.CursorFile)
}

// Owner resolves User and Group to numeric ids. An empty value resolves to
// -1, which leaves that part of the ownership unchanged.
func (c *Config) Owner() (uid, gid int, err error) {
	uid, err = resolveID(c.User, func(name string) (string, error) {
		u, err := user.Lookup(name)
		if err != nil {
			return "", err
		}
		return u.Uid, nil
	})
	if err != nil {
		return -1, -1, fmt.Errorf("failed to resolve user %q: %w", c.User, err)
	}

	gid, err = resolveID(c.Group, func(name string) (string, error) {
		g, err := user.LookupGroup(name)
		if err != nil {
			return "", err
		}
		return g.Gid, nil
	})
	if err != nil {
		return -1, -1, fmt.Errorf("failed to resolve group %q: %w", c.Group, err)
	}
	return uid, gid, nil
}

// resolveID accepts a numeric id as-is and looks names up with lookup.
func resolveID(value string, lookup func(string) (string, error)) (int, error) {
	if value == "" {
		return -1, nil
	}
	if id, err := strconv.Atoi(value); err == nil {
		return id, nil
	}
	idStr, err := lookup(value)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(idStr)
}

// Duration is a time.Duration that reads as "1s" or "500ms" in YAML and
// JSON files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	return d.parse(s)
}

// MarshalYAML writes the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON writes the duration in time.Duration notation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

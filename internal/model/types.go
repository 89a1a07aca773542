package model

import (
	"errors"
	"fmt"
)

const (
	// MinPort is the lowest port the allocator will hand out. Ports between
	// 1024 and 2000 are bindable without root but crowded with other tools.
	MinPort = 2000

	// MaxPort is the highest valid TCP/UDP port number (2^16 - 1).
	MaxPort = 65535
)

// Sentinel errors for the allocation failure taxonomy. Callers match them
// with errors.Is; the allocator wraps them with context.
var (
	// ErrInvalidCursor means the cursor file exists but does not hold a
	// usable port number. A human has to repair or delete the file.
	ErrInvalidCursor = errors.New("invalid port cursor")

	// ErrRangeExhausted means no free, non-reserved port exists anywhere in
	// [MinPort, MaxPort] after one full wrap.
	ErrRangeExhausted = errors.New("no free ports in range")

	// ErrEnvironmentUnavailable means the OS port usage query could not be
	// executed (missing tool, permission denied).
	ErrEnvironmentUnavailable = errors.New("port usage query unavailable")
)

// PortAllocation is the (HTTP, TCP) port pair handed to a starting process.
// It is created once per request and never mutated afterwards.
type PortAllocation struct {
	// HTTPPort is the port the process should serve HTTP on.
	HTTPPort uint16 `json:"httpPort"`

	// TCPPort is the port the process should serve its raw TCP protocol on.
	TCPPort uint16 `json:"tcpPort"`
}

// NewPortAllocation builds a PortAllocation from two allocator results and
// validates it.
func NewPortAllocation(httpPort, tcpPort int) (PortAllocation, error) {
	if !InRange(httpPort) || !InRange(tcpPort) {
		return PortAllocation{}, fmt.Errorf("port allocation: ports %d/%d out of range (%d-%d)",
			httpPort, tcpPort, MinPort, MaxPort)
	}
	pa := PortAllocation{HTTPPort: uint16(httpPort), TCPPort: uint16(tcpPort)}
	if err := pa.Validate(); err != nil {
		return PortAllocation{}, err
	}
	return pa, nil
}

// Validate checks the pair invariants: both ports inside the allocatable
// range and distinct from each other.
func (p PortAllocation) Validate() error {
	if !InRange(int(p.HTTPPort)) {
		return fmt.Errorf("port allocation: http port %d out of range (%d-%d)", p.HTTPPort, MinPort, MaxPort)
	}
	if !InRange(int(p.TCPPort)) {
		return fmt.Errorf("port allocation: tcp port %d out of range (%d-%d)", p.TCPPort, MinPort, MaxPort)
	}
	if p.HTTPPort == p.TCPPort {
		return fmt.Errorf("port allocation: http and tcp port are both %d", p.HTTPPort)
	}
	return nil
}

// Ports returns the pair as a slice, HTTP first.
func (p PortAllocation) Ports() []int {
	return []int{int(p.HTTPPort), int(p.TCPPort)}
}

// String returns a human-readable representation of the pair.
// Format: "http=<port> tcp=<port>"
func (p PortAllocation) String() string {
	return fmt.Sprintf("http=%d tcp=%d", p.HTTPPort, p.TCPPort)
}

// InRange reports whether port lies in [MinPort, MaxPort].
func InRange(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// ExitCode defines the process exit codes of the portalloc CLI.
// Bootstrap scripts branch on these to tell a broken environment apart
// from a host that simply ran out of ports.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates a corrupt cursor file or invalid
	// configuration.
	ExitConfigError ExitCode = 2

	// ExitEnvironmentUnavailable indicates the OS port usage query or the
	// lock directory could not be used.
	ExitEnvironmentUnavailable ExitCode = 3

	// ExitPortAllocationFailed indicates the allowed port range is exhausted.
	ExitPortAllocationFailed ExitCode = 4

	// ExitLockTimeout indicates the cross-process lock could not be acquired
	// before the configured timeout.
	ExitLockTimeout ExitCode = 5
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

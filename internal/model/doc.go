// Package model defines the domain types and value objects for portalloc.
//
// This package contains pure data structures with no external dependencies:
// the PortAllocation pair handed to callers, the allowed port range, and the
// sentinel errors that make up the allocation failure taxonomy.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model

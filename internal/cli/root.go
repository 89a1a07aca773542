// Package cli implements the cobra-based CLI commands for portalloc.
//
// Each subcommand (allocate, scan, cursor) is defined in its own file within
// this package. This file defines the root command, the global flags and the
// mapping from errors to process exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/portalloc/internal/config"
	"github.com/mmr-tortoise/portalloc/internal/lock"
	"github.com/mmr-tortoise/portalloc/internal/model"
	"github.com/mmr-tortoise/portalloc/pkg/portalloc"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches every command to JSON on stdout.
	jsonOutput bool

	// verbose lowers the log level to Debug.
	verbose bool

	// configPath points at a YAML or JSONC config file. Empty falls back to
	// $PORTALLOC_CONFIG, then to the built-in defaults.
	configPath string
)

// Version, Commit and Date are injected from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root cobra command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portalloc",
		Short: "Allocate host-unique HTTP/TCP port pairs",
		Long: `portalloc hands out pairs of free ports to processes starting on this host.

A cursor shared by every process on the host, guarded by a file lock,
remembers the last port handed out. Each allocation moves forward from it,
skipping reserved ports and ports the OS reports as listening, and wraps
around to the bottom of the range once.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), verbose))
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .jsonc)")

	rootCmd.AddCommand(NewAllocateCommand())
	rootCmd.AddCommand(NewScanCommand())
	rootCmd.AddCommand(NewCursorCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code that matches the
// returned error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
		} else {
			printError(os.Stderr, err.Error(), nil)
		}
		os.Exit(int(exitCodeFor(err)))
	}
}

// exitCodeFor maps an error to a process exit code. The allocation
// sentinels take precedence over a CLIError code so that a wrapped
// failure keeps its meaning.
func exitCodeFor(err error) model.ExitCode {
	switch {
	case err == nil:
		return model.ExitSuccess
	case errors.Is(err, model.ErrInvalidCursor):
		return model.ExitConfigError
	case errors.Is(err, model.ErrEnvironmentUnavailable):
		return model.ExitEnvironmentUnavailable
	case errors.Is(err, model.ErrRangeExhausted):
		return model.ExitPortAllocationFailed
	case errors.Is(err, lock.ErrLockTimeout):
		return model.ExitLockTimeout
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return model.ExitGeneralError
}

// printError writes an error in the format selected by --json. stdout is
// reserved for successful command output.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// newLogger returns a text slog handler on w: Warn and above normally,
// Debug with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// VerboseLog prints a message to stderr only when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// newClient loads the configuration and wires a portalloc client.
func newClient() (*portalloc.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}
	VerboseLog("Using lock directory %s (lock %q)", cfg.LockDir, cfg.LockName)

	return portalloc.New(cfg, slog.Default())
}

package port

import (
	"context"
	"fmt"
	"io"

	"github.com/bitfield/script"
)

// DefaultScanCommand lists listening TCP and UDP sockets with numeric
// addresses.
const DefaultScanCommand = "netstat -lntu"

// UsageQuery returns the OS network-status table of local listening
// sockets, header row included.
type UsageQuery interface {
	ListeningSockets(ctx context.Context) (string, error)
}

// CommandQuery is a UsageQuery that runs an external command.
type CommandQuery struct {
	// Command is the command line to run, e.g. "netstat -lntu".
	Command string
}

// NewCommandQuery returns a CommandQuery for command, or for
// DefaultScanCommand when command is empty.
func NewCommandQuery(command string) *CommandQuery {
	if command == "" {
		command = DefaultScanCommand
	}
	return &CommandQuery{Command: command}
}

// ListeningSockets runs the command and returns its standard output.
// A missing binary, a permission failure or a non-zero exit status is
// returned as an error. Standard error is discarded so that warnings do not
// end up in the table.
func (q *CommandQuery) ListeningSockets(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out, err := script.NewPipe().WithStderr(io.Discard).Exec(q.Command).String()
	if err != nil {
		return "", fmt.Errorf("running %q: %w", q.Command, err)
	}
	return out, nil
}

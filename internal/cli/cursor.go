package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// NewCursorCommand creates the "cursor" command group.
func NewCursorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or seed the shared port cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last allocated port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorShow(cmd.Context(), cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <port>",
		Short: "Overwrite the cursor; the next allocation starts after it",
		Long: `Overwrite the cursor under the port lock. The next allocation starts
searching at the port after the given value.

Example:
  portalloc cursor set 30000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorSet(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	})

	return cmd
}

// cursorResult is the JSON shape of the cursor commands.
type cursorResult struct {
	Cursor int    `json:"cursor"`
	Path   string `json:"path"`
}

func runCursorShow(ctx context.Context, out io.Writer) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	value, err := client.Cursor(ctx)
	if err != nil {
		return model.WrapCLIError(exitCodeFor(err), "failed to read cursor", err)
	}

	return writeCursor(out, cursorResult{Cursor: value, Path: client.CursorPath()})
}

func runCursorSet(ctx context.Context, out io.Writer, arg string) error {
	value, err := strconv.Atoi(arg)
	if err != nil {
		return model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("invalid port %q", arg))
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.SetCursor(ctx, value); err != nil {
		return model.WrapCLIError(exitCodeFor(err), "failed to set cursor", err)
	}
	VerboseLog("Cursor file %s now holds %d", client.CursorPath(), value)

	return writeCursor(out, cursorResult{Cursor: value, Path: client.CursorPath()})
}

func writeCursor(w io.Writer, res cursorResult) error {
	if IsJSONOutput() {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintln(w, res.Cursor)
	return err
}

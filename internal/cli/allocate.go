package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

type allocateFlags struct {
	// count is the number of HTTP/TCP pairs to allocate.
	count int
}

// NewAllocateCommand creates the "allocate" command.
func NewAllocateCommand() *cobra.Command {
	flags := &allocateFlags{}

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate HTTP/TCP port pairs",
		Long: `Allocate one or more HTTP/TCP port pairs and advance the shared cursor.

On a terminal the pairs are printed as a table. When stdout is piped each
pair is printed as a line a shell can eval.

Examples:
  portalloc allocate
  eval "$(portalloc allocate)"
  portalloc allocate --count 3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return runAllocate(cmd.Context(), out, selectMode(IsJSONOutput(), isTerminal(out)), flags)
		},
	}

	cmd.Flags().IntVarP(&flags.count, "count", "n", 1, "Number of port pairs to allocate")

	return cmd
}

func runAllocate(ctx context.Context, out io.Writer, mode outputMode, flags *allocateFlags) error {
	if flags.count < 1 {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid --count %d: must be at least 1", flags.count))
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	allocs := make([]model.PortAllocation, 0, flags.count)
	for i := 0; i < flags.count; i++ {
		alloc, err := client.CreatePortAllocation(ctx)
		if err != nil {
			return model.WrapCLIError(exitCodeFor(err), "port allocation failed", err)
		}
		VerboseLog("Allocated %s", alloc)
		allocs = append(allocs, alloc)
	}

	return writeAllocations(out, mode, allocs)
}

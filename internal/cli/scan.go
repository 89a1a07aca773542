package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// NewScanCommand creates the "scan" command, which prints the ports the
// allocator currently treats as unavailable.
func NewScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Show ports that will not be allocated",
		Long: `Run the OS port scan and print every port the allocator would skip:
listening sockets, ports published by containers (when enabled) and
reserved ports.

Examples:
  portalloc scan
  portalloc scan --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return runScan(cmd.Context(), out, selectMode(IsJSONOutput(), isTerminal(out)))
		},
	}
}

// scanResult is the JSON shape of the scan command.
type scanResult struct {
	Used     []int `json:"used"`
	Reserved []int `json:"reserved"`
}

func runScan(ctx context.Context, out io.Writer, mode outputMode) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	used, err := client.UsedPorts(ctx)
	if err != nil {
		return model.WrapCLIError(exitCodeFor(err), "port scan failed", err)
	}

	return writeScan(out, mode, scanResult{
		Used:     dedupeSorted(used),
		Reserved: client.ReservedPorts(),
	})
}

func writeScan(w io.Writer, mode outputMode, res scanResult) error {
	switch mode {
	case modeJSON:
		return writeJSON(w, res)

	case modeTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "USED\t%s\n", FormatPortsList(res.Used))
		fmt.Fprintf(tw, "RESERVED\t%s\n", FormatPortsList(res.Reserved))
		return tw.Flush()

	default:
		_, err := fmt.Fprintf(w, "USED_PORTS=%s\nRESERVED_PORTS=%s\n",
			FormatPortsList(res.Used), FormatPortsList(res.Reserved))
		return err
	}
}

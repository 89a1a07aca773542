package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// outputMode selects how a command renders its result.
type outputMode int

const (
	// modeEnv prints KEY=VALUE lines that a shell can eval.
	modeEnv outputMode = iota
	// modeTable prints an aligned table for a person at a terminal.
	modeTable
	// modeJSON prints indented JSON.
	modeJSON
)

// selectMode picks the output mode: --json wins, otherwise a terminal gets
// a table and anything else gets KEY=VALUE lines.
func selectMode(asJSON, terminal bool) outputMode {
	switch {
	case asJSON:
		return modeJSON
	case terminal:
		return modeTable
	default:
		return modeEnv
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeAllocations renders allocated pairs.
//
//	modeEnv:   HTTP_PORT=2001 TCP_PORT=2002
//	modeTable: HTTP  TCP
//	           2001  2002
//	modeJSON:  {"allocations": [{"httpPort": 2001, "tcpPort": 2002}]}
func writeAllocations(w io.Writer, mode outputMode, allocs []model.PortAllocation) error {
	switch mode {
	case modeJSON:
		if allocs == nil {
			allocs = []model.PortAllocation{}
		}
		return writeJSON(w, struct {
			Allocations []model.PortAllocation `json:"allocations"`
		}{allocs})

	case modeTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "HTTP\tTCP")
		for _, a := range allocs {
			fmt.Fprintf(tw, "%d\t%d\n", a.HTTPPort, a.TCPPort)
		}
		return tw.Flush()

	default:
		for _, a := range allocs {
			if _, err := fmt.Fprintf(w, "HTTP_PORT=%d TCP_PORT=%d\n", a.HTTPPort, a.TCPPort); err != nil {
				return err
			}
		}
		return nil
	}
}

// FormatPortsList joins ports with commas, or returns "-" when there are
// none. The input order is kept.
//
//	[2001 2002] → "2001,2002"
//	[]          → "-"
func FormatPortsList(ports []int) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

// dedupeSorted removes adjacent duplicates from a sorted slice.
func dedupeSorted(ports []int) []int {
	out := make([]int, 0, len(ports))
	for i, p := range ports {
		if i == 0 || p != ports[i-1] {
			out = append(out, p)
		}
	}
	return out
}

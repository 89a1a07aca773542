package port

import (
	"sort"
	"strconv"
	"strings"
)

// Column headers that bound the local address in network-status output.
// netstat prints "Foreign Address"; ss prints "Peer Address:Port".
const localAddressHeader = "Local Address"

var foreignAddressHeaders = []string{"Foreign Address", "Peer Address"}

// ParseListening extracts the local ports from a network-status table such
// as the output of `netstat -lntu`:
//
//	Active Internet connections (only servers)
//	Proto Recv-Q Send-Q Local Address           Foreign Address         State
//	tcp        0      0 127.0.0.1:5432          0.0.0.0:*               LISTEN
//	tcp6       0      0 :::22                   :::*                    LISTEN
//
// Everything up to and including the header row is skipped. Column
// positions come from the header row rather than fixed offsets. Lines whose
// local address has no parsable port are skipped. The result is sorted and
// may contain duplicates (tcp and udp on the same port, IPv4 and IPv6).
func ParseListening(output string) []int {
	var ports []int
	start, end := -1, -1

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		if start < 0 {
			if idx := strings.Index(line, localAddressHeader); idx >= 0 {
				start = idx
				end = foreignColumn(line, idx)
			}
			continue
		}

		if port, ok := parseLocalPort(line, start, end); ok {
			ports = append(ports, port)
		}
	}

	sort.Ints(ports)
	return ports
}

// foreignColumn returns the offset of the foreign/peer address header after
// the local address header, or -1 if the header row has none.
func foreignColumn(header string, after int) int {
	for _, name := range foreignAddressHeaders {
		if idx := strings.Index(header[after:], name); idx > 0 {
			return after + idx
		}
	}
	return -1
}

// parseLocalPort pulls the port out of the local address column of a
// single row. start and end are the header offsets of the local and
// foreign address columns; end may be -1.
//
// netstat pads columns to the header widths but never truncates, so a wide
// Recv-Q or Send-Q counter shifts the rest of the row to the right. Three
// shapes follow from that:
//
//	Proto Recv-Q Send-Q Local Address           Foreign Address
//	tcp        0      0 127.0.0.1:5432          0.0.0.0:*        aligned
//	tcp   12345678 12345678 0.0.0.0:6000        0.0.0.0:*        offset inside a counter
//	tcp  12345678901234 0 127.0.0.1:5432        0.0.0.0:*        counter starts at the offset
//
// The address is the first token with a colon. Counters never have one, so
// colon-less tokens are skipped as long as they start before the foreign
// column.
func parseLocalPort(line string, start, end int) (int, bool) {
	if len(line) <= start {
		return 0, false
	}

	// The header offset landed inside a counter; drop the fragment.
	if start > 0 && !isBlank(line[start-1]) {
		cut := strings.IndexAny(line[start:], " \t")
		if cut < 0 {
			return 0, false
		}
		start += cut
	}
	bounded := end > start

	pos := start
	for {
		rest := line[pos:]
		trimmed := strings.TrimLeft(rest, " \t")
		if trimmed == "" {
			return 0, false
		}
		pos += len(rest) - len(trimmed)

		if bounded && pos >= end {
			// The local column is empty and this token is the foreign one.
			return 0, false
		}

		token := trimmed
		if cut := strings.IndexAny(trimmed, " \t"); cut >= 0 {
			token = trimmed[:cut]
		}
		if strings.Contains(token, ":") {
			return portOf(token)
		}
		if !bounded {
			// Without a foreign column there is nothing to stop a skip from
			// running into the peer address, so only the first token counts.
			return 0, false
		}
		pos += len(token)
	}
}

// portOf parses the port after the last colon of an address. Port 0 and
// service names are rejected.
func portOf(address string) (int, bool) {
	colon := strings.LastIndex(address, ":")
	port, err := strconv.ParseUint(address[colon+1:], 10, 16)
	if err != nil || port == 0 {
		return 0, false
	}
	return int(port), true
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}

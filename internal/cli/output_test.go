package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/portalloc/internal/lock"
	"github.com/mmr-tortoise/portalloc/internal/model"
)

// TestFormatPortsList verifies the comma-separated port rendering.
func TestFormatPortsList(t *testing.T) {
	tests := []struct {
		name  string
		ports []int
		want  string
	}{
		{name: "nil returns dash", ports: nil, want: "-"},
		{name: "empty returns dash", ports: []int{}, want: "-"},
		{name: "single port", ports: []int{2001}, want: "2001"},
		{name: "order is kept", ports: []int{443, 4000, 2001}, want: "443,4000,2001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPortsList(tt.ports))
		})
	}
}

func TestSelectMode(t *testing.T) {
	assert.Equal(t, modeJSON, selectMode(true, true))
	assert.Equal(t, modeJSON, selectMode(true, false))
	assert.Equal(t, modeTable, selectMode(false, true))
	assert.Equal(t, modeEnv, selectMode(false, false))
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

func TestWriteAllocations(t *testing.T) {
	allocs := []model.PortAllocation{
		{HTTPPort: 2001, TCPPort: 2002},
		{HTTPPort: 2003, TCPPort: 2004},
	}

	tests := []struct {
		name string
		mode outputMode
		want string
	}{
		{
			name: "env lines",
			mode: modeEnv,
			want: "HTTP_PORT=2001 TCP_PORT=2002\nHTTP_PORT=2003 TCP_PORT=2004\n",
		},
		{
			name: "table",
			mode: modeTable,
			want: "HTTP  TCP\n2001  2002\n2003  2004\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeAllocations(&buf, tt.mode, allocs))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteAllocations_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAllocations(&buf, modeJSON, []model.PortAllocation{{HTTPPort: 2001, TCPPort: 2002}}))
	assert.JSONEq(t, `{"allocations":[{"httpPort":2001,"tcpPort":2002}]}`, buf.String())

	buf.Reset()
	require.NoError(t, writeAllocations(&buf, modeJSON, nil))
	assert.JSONEq(t, `{"allocations":[]}`, buf.String())
}

func TestWriteScan(t *testing.T) {
	res := scanResult{Used: []int{22, 443, 4000}, Reserved: []int{443, 4000}}

	var buf bytes.Buffer
	require.NoError(t, writeScan(&buf, modeEnv, res))
	assert.Equal(t, "USED_PORTS=22,443,4000\nRESERVED_PORTS=443,4000\n", buf.String())

	buf.Reset()
	require.NoError(t, writeScan(&buf, modeTable, res))
	assert.Equal(t, "USED      22,443,4000\nRESERVED  443,4000\n", buf.String())

	buf.Reset()
	require.NoError(t, writeScan(&buf, modeJSON, res))
	assert.JSONEq(t, `{"used":[22,443,4000],"reserved":[443,4000]}`, buf.String())
}

func TestDedupeSorted(t *testing.T) {
	assert.Equal(t, []int{22, 53, 443}, dedupeSorted([]int{22, 22, 53, 53, 443}))
	assert.Empty(t, dedupeSorted(nil))
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ExitCode
	}{
		{name: "nil", err: nil, want: model.ExitSuccess},
		{name: "plain error", err: errors.New("boom"), want: model.ExitGeneralError},
		{name: "invalid cursor", err: fmt.Errorf("read: %w", model.ErrInvalidCursor), want: model.ExitConfigError},
		{name: "environment", err: fmt.Errorf("scan: %w", model.ErrEnvironmentUnavailable), want: model.ExitEnvironmentUnavailable},
		{name: "exhausted", err: fmt.Errorf("alloc: %w", model.ErrRangeExhausted), want: model.ExitPortAllocationFailed},
		{name: "lock timeout", err: fmt.Errorf("lock: %w", lock.ErrLockTimeout), want: model.ExitLockTimeout},
		{
			name: "sentinel inside a CLIError wins",
			err:  model.WrapCLIError(model.ExitGeneralError, "allocation failed", model.ErrRangeExhausted),
			want: model.ExitPortAllocationFailed,
		},
		{
			name: "CLIError code",
			err:  model.NewCLIError(model.ExitConfigError, "bad config"),
			want: model.ExitConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestPrintError(t *testing.T) {
	t.Cleanup(func() { jsonOutput = false })

	var buf bytes.Buffer
	jsonOutput = false
	printError(&buf, "port allocation failed", model.ErrRangeExhausted)
	assert.Equal(t, "Error: port allocation failed: no free ports in range\n", buf.String())

	buf.Reset()
	jsonOutput = true
	printError(&buf, "port allocation failed", model.ErrRangeExhausted)

	var got map[string]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "port allocation failed", got["error"]["message"])
	assert.Equal(t, "no free ports in range", got["error"]["detail"])
}

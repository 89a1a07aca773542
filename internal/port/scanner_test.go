package port

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// fakeQuery is a UsageQuery that returns canned output and counts calls.
type fakeQuery struct {
	output string
	err    error
	delay  time.Duration
	calls  int32
}

func (q *fakeQuery) ListeningSockets(ctx context.Context) (string, error) {
	atomic.AddInt32(&q.calls, 1)
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	return q.output, q.err
}

func (q *fakeQuery) Calls() int {
	return int(atomic.LoadInt32(&q.calls))
}

// fakeClock is a manually advanced clock for cache expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource is a PortSource with canned results.
type fakeSource struct {
	ports []int
	err   error
}

func (s *fakeSource) PublishedPorts(ctx context.Context) ([]int, error) {
	return s.ports, s.err
}

func newTestScanner(q UsageQuery, reserved ReservedPorts) (*Scanner, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewScanner(q, reserved, nil)
	s.now = clock.Now
	return s, clock
}

// TestUsedPorts_MergesReserved verifies that the result holds the OS ports
// plus every reserved port, sorted.
func TestUsedPorts_MergesReserved(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, _ := newTestScanner(q, NewReservedPorts(4000, 443))

	got, err := s.UsedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{22, 22, 53, 53, 68, 443, 4000, 5432, 8080}, got)
}

// TestUsedPorts_CachesWithinTTL verifies that calls inside the cache window
// reuse the snapshot and that the OS is queried again once it expires.
func TestUsedPorts_CachesWithinTTL(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, clock := newTestScanner(q, NewReservedPorts())

	_, err := s.UsedPorts(context.Background())
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	_, err = s.UsedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Calls(), "second call inside the window must hit the cache")

	clock.Advance(500 * time.Millisecond)
	_, err = s.UsedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, q.Calls(), "cache expires exactly one TTL after it was filled")
}

// TestUsedPorts_ReturnsCopy verifies that callers cannot corrupt the cache.
func TestUsedPorts_ReturnsCopy(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, _ := newTestScanner(q, NewReservedPorts())

	first, err := s.UsedPorts(context.Background())
	require.NoError(t, err)
	first[0] = -1

	second, err := s.UsedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22, second[0])
}

// TestUsedPorts_Invalidate forces a rescan.
func TestUsedPorts_Invalidate(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, _ := newTestScanner(q, NewReservedPorts())

	_, _ = s.UsedPorts(context.Background())
	s.Invalidate()
	_, _ = s.UsedPorts(context.Background())
	assert.Equal(t, 2, q.Calls())
}

// TestUsedPorts_NoCache verifies that a non-positive TTL disables caching.
func TestUsedPorts_NoCache(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, _ := newTestScanner(q, NewReservedPorts())
	s.SetCacheTTL(0)

	_, _ = s.UsedPorts(context.Background())
	_, _ = s.UsedPorts(context.Background())
	assert.Equal(t, 2, q.Calls())
}

// TestUsedPorts_ConcurrentMissesShareOneQuery starts many callers against
// an empty cache and checks that the OS is queried once.
func TestUsedPorts_ConcurrentMissesShareOneQuery(t *testing.T) {
	q := &fakeQuery{output: netstatOutput, delay: 50 * time.Millisecond}
	s := NewScanner(q, NewReservedPorts(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ports, err := s.UsedPorts(context.Background())
			assert.NoError(t, err)
			assert.Contains(t, ports, 5432)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, q.Calls())
}

// TestUsedPorts_QueryFailure verifies that an OS query failure surfaces as
// ErrEnvironmentUnavailable and is not cached.
func TestUsedPorts_QueryFailure(t *testing.T) {
	q := &fakeQuery{err: errors.New("exec: \"netstat\": executable file not found in $PATH")}
	s, _ := newTestScanner(q, NewReservedPorts(4000))

	_, err := s.UsedPorts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEnvironmentUnavailable))

	_, err = s.UsedPorts(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, q.Calls(), "failures are retried, not cached")
}

// TestUsedPorts_SupplementarySources verifies that extra sources add ports
// and that a failing source is skipped rather than failing the scan.
func TestUsedPorts_SupplementarySources(t *testing.T) {
	q := &fakeQuery{output: netstatOutput}
	s, _ := newTestScanner(q, NewReservedPorts())
	s.AddSource(&fakeSource{ports: []int{32768, 9000}})
	s.AddSource(&fakeSource{err: errors.New("docker daemon not responding")})

	got, err := s.UsedPorts(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, 9000)
	assert.Contains(t, got, 32768)
	assert.IsIncreasing(t, dedupe(got))
}

// TestCommandQuery_MissingBinary runs the real command path against a
// binary that does not exist.
func TestCommandQuery_MissingBinary(t *testing.T) {
	s := NewScanner(NewCommandQuery("portalloc-no-such-binary -lntu"), NewReservedPorts(), nil)

	_, err := s.UsedPorts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEnvironmentUnavailable))
}

// TestCommandQuery_Output runs a command that is present on every Unix
// host and checks that its standard output is returned.
func TestCommandQuery_Output(t *testing.T) {
	out, err := NewCommandQuery("echo Local Address").ListeningSockets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Local Address\n", out)
}

func TestNewCommandQuery_Default(t *testing.T) {
	assert.Equal(t, DefaultScanCommand, NewCommandQuery("").Command)
}

func dedupe(ports []int) []int {
	var out []int
	for i, p := range ports {
		if i == 0 || p != ports[i-1] {
			out = append(out, p)
		}
	}
	return out
}

package port

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmr-tortoise/portalloc/internal/model"
)

// DefaultCacheTTL bounds how often the Scanner runs the OS query.
const DefaultCacheTTL = time.Second

// PortSource is a supplementary source of ports that must be treated as in
// use, such as host ports published by running containers. A failing
// source is logged and skipped; only the OS query is authoritative.
type PortSource interface {
	PublishedPorts(ctx context.Context) ([]int, error)
}

// Scanner reports the ports that are in use on this host: everything the
// OS lists as listening, plus the reserved ports.
//
// Results are cached per Scanner for the cache TTL. The cache is an
// explicit snapshot with an expiry timestamp compared against the clock on
// every call; there is no background timer. Concurrent callers that miss
// the cache share a single OS query.
type Scanner struct {
	query    UsageQuery
	reserved ReservedPorts
	sources  []PortSource
	ttl      time.Duration
	logger   *slog.Logger

	// now is the clock used for cache expiry. Tests replace it.
	now func() time.Time

	mu      sync.Mutex
	cached  []int
	expires time.Time

	group singleflight.Group
}

// NewScanner creates a Scanner that runs query on a cache miss and adds
// reserved to every result.
func NewScanner(query UsageQuery, reserved ReservedPorts, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		query:    query,
		reserved: reserved,
		ttl:      DefaultCacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// SetCacheTTL changes how long a scan result is reused. A non-positive ttl
// disables caching.
func (s *Scanner) SetCacheTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// AddSource registers a supplementary PortSource.
func (s *Scanner) AddSource(src PortSource) {
	s.sources = append(s.sources, src)
}

// UsedPorts returns the sorted set of used and reserved ports. The slice
// is a copy; callers may modify it.
//
// Returns an error wrapping model.ErrEnvironmentUnavailable if the OS query
// cannot be executed. There is no fallback source in that case.
func (s *Scanner) UsedPorts(ctx context.Context) ([]int, error) {
	if ports, ok := s.snapshot(); ok {
		s.logger.Debug("Used port cache hit", "ports", len(ports))
		return slices.Clone(ports), nil
	}

	v, err, _ := s.group.Do("scan", func() (interface{}, error) {
		// Another caller may have refreshed the cache while we queued.
		if ports, ok := s.snapshot(); ok {
			return ports, nil
		}
		ports, err := s.scan(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ports)
		return ports, nil
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(v.([]int)), nil
}

// Invalidate drops the cached snapshot so the next call rescans.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.expires = time.Time{}
}

func (s *Scanner) snapshot() ([]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || !s.now().Before(s.expires) {
		return nil, false
	}
	return s.cached, true
}

func (s *Scanner) store(ports []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 {
		return
	}
	s.cached = ports
	s.expires = s.now().Add(s.ttl)
}

// scan runs the OS query and merges in supplementary and reserved ports.
func (s *Scanner) scan(ctx context.Context) ([]int, error) {
	out, err := s.query.ListeningSockets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEnvironmentUnavailable, err)
	}

	ports := ParseListening(out)
	listening := len(ports)

	for _, src := range s.sources {
		extra, err := src.PublishedPorts(ctx)
		if err != nil {
			s.logger.Warn("Skipping supplementary port source", "source", fmt.Sprintf("%T", src), "error", err)
			continue
		}
		ports = append(ports, extra...)
	}

	ports = append(ports, s.reserved.Ports()...)
	sort.Ints(ports)

	s.logger.Debug("Scanned used ports", "listening", listening, "total", len(ports))
	return ports, nil
}

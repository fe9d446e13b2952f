package calib

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A Provider hands out calibration surfaces. Lookups must not have side
// effects visible to the caller; failures to resolve a channel/position
// should wrap ErrCalibrationNotFound.
type Provider interface {
	Lookup(channel int, column, row float64) (*Surface, error)
}

// MemoryProvider is a fixed set of surfaces, one per channel. Tests use it
// to hand deterministic fixtures to the PRF code.
type MemoryProvider struct {
	surfaces map[int]*Surface
}

func NewMemoryProvider(surfaces ...*Surface) *MemoryProvider {
	p := &MemoryProvider{surfaces: map[int]*Surface{}}
	for _, s := range surfaces {
		p.surfaces[s.Channel] = s
	}
	return p
}

func (p *MemoryProvider) Add(s *Surface) { p.surfaces[s.Channel] = s }

func (p *MemoryProvider) Lookup(channel int, column, row float64) (*Surface, error) {
	s, exists := p.surfaces[channel]
	if !exists {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "channel %d", channel)
	}
	if !s.Bounds.Contains(column, row) {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "channel %d does not cover (%.1f,%.1f)", channel, column, row)
	}
	return s, nil
}

type cacheKey struct {
	channel     int
	column, row float64
}

// CachingProvider memoizes another provider, keyed by channel and
// position. Failed lookups are not cached. Safe for concurrent use.
type CachingProvider struct {
	Source Provider

	mu     sync.Mutex
	cache  map[cacheKey]*Surface
	Hits   int
	Misses int
}

func NewCachingProvider(src Provider) *CachingProvider {
	return &CachingProvider{
		Source: src,
		cache:  map[cacheKey]*Surface{},
	}
}

func (cp *CachingProvider) Lookup(channel int, column, row float64) (*Surface, error) {
	key := cacheKey{channel, column, row}

	cp.mu.Lock()
	if s, exists := cp.cache[key]; exists {
		cp.Hits++
		cp.mu.Unlock()
		return s, nil
	}
	cp.Misses++
	cp.mu.Unlock()

	// Load outside the lock; two goroutines racing on the same key both
	// load, and the second store wins. Surfaces are immutable so either is fine.
	s, err := cp.Source.Lookup(channel, column, row)
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	cp.cache[key] = s
	cp.mu.Unlock()

	logrus.WithFields(logrus.Fields{"channel": channel, "column": column, "row": row}).Debug("calibration cached")
	return s, nil
}

func (cp *CachingProvider) Len() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.cache)
}

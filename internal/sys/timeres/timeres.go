// Package timeres raises the system timer resolution while a sampler with a
// short interval is running.
//
// Coarse system timers make sleeps shorter than roughly ten milliseconds
// overshoot badly. A Manager requests a finer resolution for such intervals
// and reverts the request exactly once when the sampler stops.
package timeres

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CoarseThreshold is the interval, in milliseconds, below which a finer
// timer resolution is requested.
const CoarseThreshold = 10

// Platform changes the system timer resolution.
type Platform interface {
	BeginPeriod(ms uint32) error
	EndPeriod(ms uint32) error
}

// Manager tracks timer resolution requests made on behalf of samplers.
type Manager struct {
	platform    Platform
	logger      zerolog.Logger
	outstanding atomic.Int64
}

// NewManager creates a Manager on top of platform.
func NewManager(platform Platform, logger zerolog.Logger) *Manager {
	return &Manager{
		platform: platform,
		logger:   logger.With().Str("component", "timeres").Logger(),
	}
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process wide Manager backed by the native platform.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(nativePlatform(), zerolog.Nop())
	})
	return defaultManager
}

// Begin requests a finer resolution when intervalMs is below
// CoarseThreshold. It returns a nil Request, which is safe to End, when no
// change was needed.
func (m *Manager) Begin(intervalMs int) (*Request, error) {
	if intervalMs >= CoarseThreshold {
		return nil, nil
	}
	if intervalMs < 1 {
		intervalMs = 1
	}

	period := uint32(intervalMs)
	if err := m.platform.BeginPeriod(period); err != nil {
		return nil, fmt.Errorf("request %dms timer resolution: %w", period, err)
	}
	m.outstanding.Add(1)

	m.logger.Debug().
		Uint32("period_ms", period).
		Msg("Requested finer timer resolution")

	return &Request{manager: m, period: period}, nil
}

// Outstanding returns the number of requests not yet ended.
func (m *Manager) Outstanding() int64 {
	return m.outstanding.Load()
}

// Request is an active timer resolution change.
type Request struct {
	manager *Manager
	period  uint32
	once    sync.Once
}

// Period returns the requested resolution in milliseconds.
func (r *Request) Period() uint32 {
	if r == nil {
		return 0
	}
	return r.period
}

// End reverts the request. Calls after the first, and calls on a nil
// Request, do nothing.
func (r *Request) End() error {
	if r == nil {
		return nil
	}

	var err error
	r.once.Do(func() {
		r.manager.outstanding.Add(-1)
		if e := r.manager.platform.EndPeriod(r.period); e != nil {
			err = fmt.Errorf("revert %dms timer resolution: %w", r.period, e)
			return
		}
		r.manager.logger.Debug().
			Uint32("period_ms", r.period).
			Msg("Reverted timer resolution")
	})
	return err
}

// Package sampler runs the periodic sampling loop of the profiler.
//
// A Scheduler owns one goroutine, pinned to its OS thread, that walks the
// registered threads of a State under its lock, suspends each eligible
// thread just long enough to read its registers, and sleeps outside the
// lock between passes. The loop stops when the state's activity generation
// moves away from the value the Scheduler was created with.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/internal/sys/thread"
	"github.com/coral-mesh/stacksampler/internal/sys/timeres"
)

// ErrInvalidInterval is returned for intervals that cannot be rounded to a
// positive number of milliseconds.
var ErrInvalidInterval = errors.New("invalid sampling interval")

// Scheduler is a running sampling loop.
type Scheduler struct {
	state      State
	generation uint32
	intervalMs int
	logger     zerolog.Logger

	memory  MemoryReporter
	metrics *Metrics
	timers  *timeres.Manager
	timer   *timeres.Request

	// selfID is the OS thread of the loop goroutine, never suspended.
	selfID int
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMemoryReporter sets the source of the per-pass resident memory metric.
func WithMemoryReporter(m MemoryReporter) Option {
	return func(s *Scheduler) {
		s.memory = m
	}
}

// WithMetrics sets the collectors the scheduler updates.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTimerManager overrides the process wide timer resolution manager.
func WithTimerManager(m *timeres.Manager) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.timers = m
		}
	}
}

// RoundInterval rounds a millisecond interval to the nearest integer, with
// a minimum of one millisecond.
func RoundInterval(intervalMs float64) (int, error) {
	if math.IsNaN(intervalMs) || math.IsInf(intervalMs, 0) || intervalMs < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, intervalMs)
	}
	rounded := math.Floor(intervalMs + 0.5)
	if rounded < 1 {
		return 1, nil
	}
	if rounded > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, intervalMs)
	}
	return int(rounded), nil
}

// New creates a Scheduler bound to generation and starts its loop. The
// caller stops it by changing the state's activity generation, calling Stop
// under the state lock and then Join without it.
func New(state State, generation uint32, intervalMs float64, logger zerolog.Logger, opts ...Option) (*Scheduler, error) {
	s, err := newScheduler(state, generation, intervalMs, logger, opts...)
	if err != nil {
		return nil, err
	}

	go s.run()

	return s, nil
}

func newScheduler(state State, generation uint32, intervalMs float64, logger zerolog.Logger, opts ...Option) (*Scheduler, error) {
	if state == nil {
		return nil, fmt.Errorf("sampler state is required")
	}

	interval, err := RoundInterval(intervalMs)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		state:      state,
		generation: generation,
		intervalMs: interval,
		logger:     logger.With().Str("component", "sampler").Logger(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.timers == nil {
		s.timers = timeres.Default()
	}

	s.timer, err = s.timers.Begin(interval)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int("interval_ms", interval).
			Msg("Failed to raise timer resolution, sampling will be coarser")
	}

	return s, nil
}

// Interval returns the rounded sampling interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.intervalMs) * time.Millisecond
}

// Generation returns the activity generation the scheduler is bound to.
func (s *Scheduler) Generation() uint32 {
	return s.generation
}

// Stop reverts the timer resolution request. It must be called with the
// state lock held so that no other Scheduler can request a resolution
// before this one's request is reverted. Stop is idempotent.
func (s *Scheduler) Stop() {
	if err := s.timer.End(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to revert timer resolution")
	}
}

// Join blocks until the loop goroutine has exited.
func (s *Scheduler) Join() {
	<-s.done
}

// Done is closed once the loop goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.selfID = thread.CurrentID()

	s.logger.Debug().
		Int("interval_ms", s.intervalMs).
		Uint32("generation", s.generation).
		Msg("Sampler loop started")

	interval := s.Interval()
	for s.pass() {
		time.Sleep(interval)
	}

	s.logger.Debug().
		Uint32("generation", s.generation).
		Msg("Sampler loop exited")
}

// pass runs one sampling pass under the state lock. It returns false once
// the activity generation has changed.
func (s *Scheduler) pass() bool {
	running := true

	s.state.Do(func(l Locked) {
		if l.ActivityGeneration() != s.generation {
			running = false
			return
		}

		buf := l.Buffer()
		buf.DeleteExpiredStoredMarkers()

		if l.Paused() {
			return
		}

		s.metrics.Passes.Inc()
		passStart := time.Now()

		isFirst := true
		for _, info := range l.Threads() {
			if !info.HasProfile() || info.IsPendingDelete() {
				continue
			}
			if s.selfID != 0 && info.ID() == s.selfID {
				continue
			}

			if info.CanDuplicateLastSampleDueToSleep() {
				if buf.DuplicateLastSample(info.ID(), passStart) {
					s.metrics.Duplicated.Inc()
					continue
				}
				// No previous sample to copy, take a real one.
			}

			info.UpdateResponsiveness(passStart)

			// An eligible thread without a usable handle still uses up
			// the memory slot of the pass.
			s.sampleContext(l, info, isFirst)
			isFirst = false
		}
	})

	return running
}

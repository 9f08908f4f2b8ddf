// Package profiler holds the shared sampling state: registered threads, the
// activity generation, the pause flag and the sample buffer, all guarded by
// one lock. It starts and stops the sampler and persists what it records.
package profiler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/internal/buffer"
	"github.com/coral-mesh/stacksampler/internal/sampler"
	"github.com/coral-mesh/stacksampler/internal/sys/thread"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("profiler is already running")

	// ErrNotRunning is returned by Stop when no session is active.
	ErrNotRunning = errors.New("profiler is not running")

	// ErrThreadNotFound is returned when unregistering an unknown thread.
	ErrThreadNotFound = errors.New("thread is not registered")

	// ErrThreadRegistered is returned when registering a thread twice.
	ErrThreadRegistered = errors.New("thread is already registered")
)

// DefaultBufferCapacity is the number of entries the sample ring holds.
const DefaultBufferCapacity = 1 << 16

// Features selects optional sampling capabilities.
type Features struct {
	// Memory attaches the process resident set size to the first sample of
	// every pass.
	Memory bool
}

// Config configures a Profiler.
type Config struct {
	BufferCapacity int

	// ThreadFilter limits sampling to threads whose name contains one of
	// the substrings. An empty filter samples every thread.
	ThreadFilter []string

	// Acquire opens the handle of a registering thread. Defaults to
	// thread.Acquire.
	Acquire func(tid int) OwnedHandle

	// SchedulerOptions are passed to every sampler.New call.
	SchedulerOptions []sampler.Option
}

// Session describes one Start..Stop period.
type Session struct {
	ID         uuid.UUID
	StartedAt  time.Time
	IntervalMs float64
	Features   Features
}

// Profiler is the shared sampling state. It implements sampler.State.
type Profiler struct {
	mu     sync.Mutex
	logger zerolog.Logger

	generation uint32
	active     bool
	paused     bool
	features   Features
	session    Session

	records []*ThreadRecord
	threads []sampler.ThreadInfo
	buffer  *buffer.Buffer

	scheduler *sampler.Scheduler

	filter    []string
	acquire   func(tid int) OwnedHandle
	schedOpts []sampler.Option
}

var _ sampler.State = (*Profiler)(nil)

// New creates an idle Profiler.
func New(cfg Config, logger zerolog.Logger) (*Profiler, error) {
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}

	buf, err := buffer.New(cfg.BufferCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample buffer: %w", err)
	}

	p := &Profiler{
		logger:    logger.With().Str("component", "profiler").Logger(),
		buffer:    buf,
		filter:    cfg.ThreadFilter,
		acquire:   cfg.Acquire,
		schedOpts: cfg.SchedulerOptions,
	}
	if p.acquire == nil {
		p.acquire = func(tid int) OwnedHandle {
			return thread.Acquire(tid, p.logger)
		}
	}

	return p, nil
}

// Do runs fn with the profiler lock held.
func (p *Profiler) Do(fn func(sampler.Locked)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(lockedView{p})
}

// RegisterThread adds a thread to the sampled set. A thread whose handle
// cannot be acquired is registered anyway and never sampled.
func (p *Profiler) RegisterThread(tid int, name string) (*ThreadRecord, error) {
	p.mu.Lock()
	registered := p.registeredLocked(tid)
	p.mu.Unlock()
	if registered {
		return nil, fmt.Errorf("%w: %d", ErrThreadRegistered, tid)
	}

	// Acquiring may block on the OS, so it happens outside the lock.
	h := p.acquire(tid)
	record := &ThreadRecord{
		id:       tid,
		name:     name,
		profiled: p.matchesFilter(name),
		handle:   h,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registeredLocked(tid) {
		if h != nil {
			_ = h.Release()
		}
		return nil, fmt.Errorf("%w: %d", ErrThreadRegistered, tid)
	}

	p.records = append(p.records, record)
	p.rebuildThreadsLocked()
	p.buffer.AddMarker(tid, "thread registered", time.Now())

	p.logger.Debug().
		Int("tid", tid).
		Str("name", name).
		Bool("profiled", record.profiled).
		Bool("sampleable", h != nil && !h.Empty()).
		Msg("Registered thread")

	return record, nil
}

// UnregisterThread marks a thread for removal. Its handle is released once
// the sampler can no longer be looking at it.
func (p *Profiler) UnregisterThread(tid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.records {
		if r.id != tid || r.pendingDelete {
			continue
		}
		r.pendingDelete = true
		p.buffer.AddMarker(tid, "thread unregistered", time.Now())
		if !p.active {
			p.reapLocked()
		}
		return nil
	}

	return fmt.Errorf("%w: %d", ErrThreadNotFound, tid)
}

// Thread returns the live registration of tid.
func (p *Profiler) Thread(tid int) (*ThreadRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.records {
		if r.id == tid && !r.pendingDelete {
			return r, true
		}
	}
	return nil, false
}

// ThreadIDs returns the ids of all live registrations in registration order.
func (p *Profiler) ThreadIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int, 0, len(p.records))
	for _, r := range p.records {
		if !r.pendingDelete {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// Start begins a sampling session at intervalMs.
func (p *Profiler) Start(intervalMs float64, features Features) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return Session{}, ErrAlreadyRunning
	}
	p.reapLocked()

	// The loop blocks on p.mu until Start returns.
	s, err := sampler.New(p, p.generation, intervalMs, p.logger, p.schedOpts...)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start sampler: %w", err)
	}

	p.scheduler = s
	p.active = true
	p.paused = false
	p.features = features
	p.session = Session{
		ID:         uuid.New(),
		StartedAt:  time.Now(),
		IntervalMs: intervalMs,
		Features:   features,
	}

	p.logger.Info().
		Str("session_id", p.session.ID.String()).
		Dur("interval", s.Interval()).
		Bool("memory", features.Memory).
		Int("threads", len(p.records)).
		Msg("Profiler started")

	return p.session, nil
}

// Stop ends the active session and waits for the sampler loop to exit.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return ErrNotRunning
	}

	p.generation++
	s := p.scheduler
	s.Stop()
	p.scheduler = nil
	p.active = false
	p.paused = false
	p.reapLocked()
	sessionID := p.session.ID
	p.mu.Unlock()

	// Joining under the lock would deadlock with a pass waiting for it.
	s.Join()

	p.logger.Info().
		Str("session_id", sessionID.String()).
		Msg("Profiler stopped")

	return nil
}

// Pause suppresses sampling without stopping the sampler loop.
func (p *Profiler) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume re-enables sampling after Pause.
func (p *Profiler) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// IsActive reports whether a session is running.
func (p *Profiler) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsPaused reports whether sampling is paused.
func (p *Profiler) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Generation returns the current activity generation.
func (p *Profiler) Generation() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Session returns the current or most recent session.
func (p *Profiler) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Drain hands the buffered samples and markers to the caller and reaps
// unregistered threads.
func (p *Profiler) Drain() buffer.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reapLocked()
	return p.buffer.Drain()
}

// Close stops any active session and releases every thread handle.
func (p *Profiler) Close() error {
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.records {
		r.pendingDelete = true
	}
	p.reapLocked()
	return nil
}

// reapLocked releases and drops pending-delete records. While a session is
// active this is only safe under the lock, which excludes a running pass.
func (p *Profiler) reapLocked() {
	kept := p.records[:0]
	for _, r := range p.records {
		if !r.pendingDelete {
			kept = append(kept, r)
			continue
		}
		if r.handle != nil {
			if err := r.handle.Release(); err != nil {
				p.logger.Warn().Err(err).Int("tid", r.id).Msg("Failed to release thread handle")
			}
		}
		// A later thread may reuse the id.
		p.buffer.ForgetThread(r.id)
	}
	for i := len(kept); i < len(p.records); i++ {
		p.records[i] = nil
	}
	p.records = kept
	p.rebuildThreadsLocked()
}

func (p *Profiler) registeredLocked(tid int) bool {
	for _, r := range p.records {
		if r.id == tid && !r.pendingDelete {
			return true
		}
	}
	return false
}

func (p *Profiler) rebuildThreadsLocked() {
	p.threads = make([]sampler.ThreadInfo, len(p.records))
	for i, r := range p.records {
		p.threads[i] = r
	}
}

func (p *Profiler) matchesFilter(name string) bool {
	if len(p.filter) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, f := range p.filter {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// lockedView is the sampler's view of the profiler while p.mu is held.
type lockedView struct {
	p *Profiler
}

func (v lockedView) ActivityGeneration() uint32 { return v.p.generation }
func (v lockedView) Paused() bool { return v.p.paused }
func (v lockedView) Threads() []sampler.ThreadInfo { return v.p.threads }
func (v lockedView) Buffer() sampler.Buffer { return v.p.buffer }
func (v lockedView) MemoryEnabled() bool { return v.p.features.Memory }

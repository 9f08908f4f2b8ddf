package sampler

import (
	"time"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

// State is the shared profiler state the scheduler reads on every pass.
// Do runs fn while holding the state lock and releases it on return.
type State interface {
	Do(fn func(Locked))
}

// Locked exposes profiler state that may only be read while the state lock
// is held. Implementations must not be retained beyond the Do callback.
type Locked interface {
	ActivityGeneration() uint32
	Paused() bool
	Threads() []ThreadInfo
	Buffer() Buffer
	MemoryEnabled() bool
}

// Buffer receives captured samples.
type Buffer interface {
	// DeleteExpiredStoredMarkers drops out-of-band records that fell out of
	// the buffer window.
	DeleteExpiredStoredMarkers()

	// DuplicateLastSample re-records the most recent sample of threadID at
	// ts. It reports false when the thread has no prior sample to copy.
	DuplicateLastSample(threadID int, ts time.Time) bool

	// AddSample records a fresh sample. The sample and its Context are only
	// valid for the duration of the call.
	AddSample(s *Sample)
}

// ThreadInfo is a registered thread as seen by the scheduler.
type ThreadInfo interface {
	ID() int
	HasProfile() bool
	IsPendingDelete() bool
	Handle() ThreadHandle
	UpdateResponsiveness(now time.Time)
	CanDuplicateLastSampleDueToSleep() bool
}

// ThreadHandle suspends, inspects and resumes one OS thread.
type ThreadHandle interface {
	Empty() bool
	Suspend() error
	GetContext() (regs.Snapshot, error)
	Resume() error
}

// MemoryReporter measures process resident memory on demand.
type MemoryReporter interface {
	ResidentFast() (uint64, error)
}

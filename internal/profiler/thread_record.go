package profiler

import (
	"sync/atomic"
	"time"

	"github.com/coral-mesh/stacksampler/internal/sampler"
)

// Sleep states of a registered thread.
const (
	awake int32 = iota
	sleepingNotObserved
	sleepingObserved
)

// OwnedHandle is a thread handle the registration record releases when the
// thread is unregistered.
type OwnedHandle interface {
	sampler.ThreadHandle
	Release() error
}

// ThreadRecord is the registration of one thread with the profiler.
type ThreadRecord struct {
	id       int
	name     string
	profiled bool
	handle   OwnedHandle

	// Guarded by the profiler lock.
	pendingDelete bool

	// Unix nanoseconds, zero until the first visit.
	lastResponsive atomic.Int64
	sleep          atomic.Int32
}

var _ sampler.ThreadInfo = (*ThreadRecord)(nil)

// ID returns the OS thread id.
func (r *ThreadRecord) ID() int {
	return r.id
}

// Name returns the thread name captured at registration.
func (r *ThreadRecord) Name() string {
	return r.name
}

// HasProfile reports whether the thread matched the profiler's thread
// filter.
func (r *ThreadRecord) HasProfile() bool {
	return r.profiled
}

// IsPendingDelete reports whether the thread was unregistered and is
// waiting to be reaped.
func (r *ThreadRecord) IsPendingDelete() bool {
	return r.pendingDelete
}

// Handle returns the thread handle, or nil when none was acquired.
func (r *ThreadRecord) Handle() sampler.ThreadHandle {
	if r.handle == nil {
		return nil
	}
	return r.handle
}

// UpdateResponsiveness records the time the sampler last visited the thread.
func (r *ThreadRecord) UpdateResponsiveness(now time.Time) {
	r.lastResponsive.Store(now.UnixNano())
}

// LastResponsive returns the time recorded by UpdateResponsiveness, or the
// zero time before the first visit. It is safe to call without the profiler
// lock.
func (r *ThreadRecord) LastResponsive() time.Time {
	ns := r.lastResponsive.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetSleeping marks the thread as blocked or running. It may be called
// without the profiler lock.
func (r *ThreadRecord) SetSleeping(sleeping bool) {
	if !sleeping {
		r.sleep.Store(awake)
		return
	}
	r.sleep.CompareAndSwap(awake, sleepingNotObserved)
}

// CanDuplicateLastSampleDueToSleep reports whether the thread has been
// asleep since a sample was last taken. The first call after the thread
// falls asleep returns false so one real sample captures the sleeping
// stack.
func (r *ThreadRecord) CanDuplicateLastSampleDueToSleep() bool {
	if r.sleep.Load() == awake {
		return false
	}
	if r.sleep.CompareAndSwap(sleepingNotObserved, sleepingObserved) {
		return false
	}
	return true
}

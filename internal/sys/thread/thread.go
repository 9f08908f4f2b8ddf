// Package thread owns operating system thread handles used for sampling.
//
// A Handle is acquired once per registered thread. It can suspend the thread,
// read its register context while suspended and resume it. Releasing a
// Handle is idempotent and leaves it empty.
package thread

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

var (
	// ErrEmptyHandle is returned when operating on a handle that was never
	// opened or has already been released.
	ErrEmptyHandle = errors.New("thread handle is empty")

	// ErrUnsupported is returned on platforms without a thread suspension
	// mechanism.
	ErrUnsupported = errors.New("thread suspension is not supported on this platform")
)

// Handle is an owned reference to an operating system thread.
type Handle struct {
	tid int
	os  atomic.Pointer[osHandle]
}

// Acquire opens a handle to the thread identified by tid. When the platform
// refuses the handle, the failure is logged and an empty Handle is returned;
// the sampler skips threads with empty handles.
func Acquire(tid int, logger zerolog.Logger) *Handle {
	h := &Handle{tid: tid}

	oh, err := openThread(tid)
	if err != nil {
		logger.Debug().
			Err(err).
			Int("tid", tid).
			Msg("Failed to acquire thread handle")
		return h
	}

	h.os.Store(oh)
	return h
}

// ID returns the operating system thread ID.
func (h *Handle) ID() int {
	return h.tid
}

// Empty reports whether the handle can no longer be used to sample.
func (h *Handle) Empty() bool {
	return h == nil || h.os.Load() == nil
}

// Suspend stops the thread. A successful Suspend must be paired with Resume.
func (h *Handle) Suspend() error {
	oh := h.load()
	if oh == nil {
		return ErrEmptyHandle
	}
	if err := oh.suspend(); err != nil {
		return fmt.Errorf("suspend thread %d: %w", h.tid, err)
	}
	return nil
}

// GetContext reads the register context of the suspended thread. The
// returned snapshot is owned by the handle and overwritten by the next call.
func (h *Handle) GetContext() (regs.Snapshot, error) {
	oh := h.load()
	if oh == nil {
		return nil, ErrEmptyHandle
	}
	ctx, err := oh.context()
	if err != nil {
		return nil, fmt.Errorf("read context of thread %d: %w", h.tid, err)
	}
	return ctx, nil
}

// Resume restarts a thread stopped by Suspend.
func (h *Handle) Resume() error {
	oh := h.load()
	if oh == nil {
		return ErrEmptyHandle
	}
	if err := oh.resume(); err != nil {
		return fmt.Errorf("resume thread %d: %w", h.tid, err)
	}
	return nil
}

// Release closes the underlying handle. Only the first call has an effect.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	oh := h.os.Swap(nil)
	if oh == nil {
		return nil
	}
	if err := oh.close(); err != nil {
		return fmt.Errorf("release thread %d: %w", h.tid, err)
	}
	return nil
}

func (h *Handle) load() *osHandle {
	if h == nil {
		return nil
	}
	return h.os.Load()
}

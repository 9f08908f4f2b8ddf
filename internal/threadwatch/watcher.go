// Package threadwatch keeps the profiler's registered threads in step with
// the threads of a target process, and feeds their sleep state from procfs.
package threadwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/internal/profiler"
	"github.com/coral-mesh/stacksampler/internal/sys/proc"
)

// ErrProcessExited is returned by Run when the target process is gone.
var ErrProcessExited = errors.New("target process exited")

// Registry is the part of the profiler the watcher drives.
type Registry interface {
	RegisterThread(tid int, name string) (*profiler.ThreadRecord, error)
	UnregisterThread(tid int) error
	Thread(tid int) (*profiler.ThreadRecord, bool)
	ThreadIDs() []int
}

// ScanResult counts the changes made by one scan.
type ScanResult struct {
	Added    int
	Removed  int
	Sleeping int
}

// Watcher mirrors the threads of one process into a Registry.
type Watcher struct {
	reg    Registry
	pid    int
	logger zerolog.Logger

	// CPU time seen for each thread at the previous scan.
	lastCPU map[int]uint64
}

// New creates a watcher for pid.
func New(reg Registry, pid int, logger zerolog.Logger) *Watcher {
	return &Watcher{
		reg:     reg,
		pid:     pid,
		logger:  logger.With().Str("component", "thread_watcher").Int("pid", pid).Logger(),
		lastCPU: make(map[int]uint64),
	}
}

// Scan registers new threads, unregisters vanished ones and updates the
// sleep state of the rest. A thread counts as sleeping when it is blocked
// and has used no CPU since the previous scan.
func (w *Watcher) Scan() (ScanResult, error) {
	var res ScanResult

	tids, err := proc.ListThreads(w.pid)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, ErrProcessExited
		}
		return res, err
	}

	live := make(map[int]struct{}, len(tids))
	for _, tid := range tids {
		live[tid] = struct{}{}
	}

	registered := make(map[int]struct{})
	for _, tid := range w.reg.ThreadIDs() {
		if _, ok := live[tid]; !ok {
			if err := w.reg.UnregisterThread(tid); err != nil && !errors.Is(err, profiler.ErrThreadNotFound) {
				w.logger.Warn().Err(err).Int("tid", tid).Msg("Failed to unregister thread")
			}
			delete(w.lastCPU, tid)
			res.Removed++
			continue
		}
		registered[tid] = struct{}{}
	}

	for _, tid := range tids {
		stat, err := proc.ReadThreadStat(w.pid, tid)
		if err != nil {
			// Exited between the listing and now; the next scan drops it.
			continue
		}

		if _, ok := registered[tid]; !ok {
			name := proc.ThreadName(w.pid, tid)
			if name == "" {
				name = stat.Comm
			}
			if _, err := w.reg.RegisterThread(tid, name); err != nil && !errors.Is(err, profiler.ErrThreadRegistered) {
				w.logger.Warn().Err(err).Int("tid", tid).Msg("Failed to register thread")
				continue
			}
			res.Added++
		}

		record, ok := w.reg.Thread(tid)
		if !ok {
			continue
		}
		prev, seen := w.lastCPU[tid]
		cpu := stat.CPUTime()
		sleeping := seen && stat.Sleeping() && cpu == prev
		record.SetSleeping(sleeping)
		if sleeping {
			res.Sleeping++
		}
		w.lastCPU[tid] = cpu
	}

	return res, nil
}

// Run scans every interval until ctx is cancelled or the process exits.
// It returns nil on cancellation and ErrProcessExited when the process is
// gone.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid scan interval %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := w.Scan()
		if err != nil {
			if errors.Is(err, ErrProcessExited) {
				w.logger.Info().Msg("Target process exited")
			}
			return err
		}
		if res.Added > 0 || res.Removed > 0 {
			w.logger.Debug().
				Int("added", res.Added).
				Int("removed", res.Removed).
				Int("sleeping", res.Sleeping).
				Msg("Thread list changed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

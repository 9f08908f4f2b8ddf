// Package memory reports the resident memory of a profiled process.
package memory

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/stacksampler/internal/safe"
)

// Reporter reads the resident set size of one process.
type Reporter struct {
	pid  int
	proc *process.Process
}

// NewReporter creates a Reporter for pid. A pid of zero means the current
// process.
func NewReporter(pid int) (*Reporter, error) {
	if pid == 0 {
		pid = os.Getpid()
	}

	pid32, clamped := safe.IntToInt32(pid)
	if clamped || pid32 < 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}

	p, err := process.NewProcess(pid32)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	return &Reporter{pid: pid, proc: p}, nil
}

// PID returns the process the reporter measures.
func (r *Reporter) PID() int {
	return r.pid
}

// ResidentFast returns the current resident set size in bytes.
func (r *Reporter) ResidentFast() (uint64, error) {
	info, err := r.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	return info.RSS, nil
}

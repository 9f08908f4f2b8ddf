// Package proc reads process and thread information from the Linux /proc
// filesystem.
package proc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Root is the mount point of procfs. Tests point it at a fixture tree.
var Root = "/proc"

// ThreadStat is the subset of /proc/<pid>/task/<tid>/stat the sampler uses.
type ThreadStat struct {
	TID   int
	Comm  string
	State byte
	// UTime and STime are in clock ticks.
	UTime uint64
	STime uint64
}

// CPUTime returns the thread's user plus system time in clock ticks.
func (s ThreadStat) CPUTime() uint64 {
	return s.UTime + s.STime
}

// Sleeping reports whether the thread is blocked rather than runnable.
func (s ThreadStat) Sleeping() bool {
	switch s.State {
	case 'S', 'D', 'I':
		return true
	default:
		return false
	}
}

// ListThreads returns the thread IDs of pid in ascending order.
func ListThreads(pid int) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(Root, strconv.Itoa(pid), "task"))
	if err != nil {
		return nil, fmt.Errorf("failed to list threads of %d: %w", pid, err)
	}

	tids := make([]int, 0, len(entries))
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a numeric directory.
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)

	return tids, nil
}

// ThreadName returns the comm of a thread, or an empty string if the thread
// is gone.
func ThreadName(pid, tid int) string {
	data, err := os.ReadFile(filepath.Join(Root, strconv.Itoa(pid), "task", strconv.Itoa(tid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadThreadStat reads and parses the stat file of one thread.
func ReadThreadStat(pid, tid int) (ThreadStat, error) {
	data, err := os.ReadFile(filepath.Join(Root, strconv.Itoa(pid), "task", strconv.Itoa(tid), "stat"))
	if err != nil {
		return ThreadStat{}, err
	}
	return ParseStat(data)
}

// ParseStat parses the contents of a stat file. The comm field may contain
// spaces and parentheses, so fields are located from the last ')'.
func ParseStat(data []byte) (ThreadStat, error) {
	open := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if open < 0 || end < open {
		return ThreadStat{}, fmt.Errorf("malformed stat line")
	}

	tid, err := strconv.Atoi(strings.TrimSpace(string(data[:open])))
	if err != nil {
		return ThreadStat{}, fmt.Errorf("malformed stat pid: %w", err)
	}

	// Fields after comm start at field 3 (state); utime and stime are
	// fields 14 and 15.
	fields := strings.Fields(string(data[end+1:]))
	if len(fields) < 13 {
		return ThreadStat{}, fmt.Errorf("stat line has %d fields after comm", len(fields))
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return ThreadStat{}, fmt.Errorf("malformed utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return ThreadStat{}, fmt.Errorf("malformed stime: %w", err)
	}

	return ThreadStat{
		TID:   tid,
		Comm:  string(data[open+1 : end]),
		State: fields[0][0],
		UTime: utime,
		STime: stime,
	}, nil
}

// GetKernelVersion reads the kernel version from /proc/version.
func GetKernelVersion() string {
	data, err := os.ReadFile(filepath.Join(Root, "version"))
	if err != nil {
		return "unknown"
	}

	// Parse version from output like "Linux version 5.15.0-xxx...".
	version := string(data)
	if idx := strings.Index(version, "Linux version "); idx >= 0 {
		version = version[idx+14:]
		if idx := strings.Index(version, " "); idx >= 0 {
			version = version[:idx]
		}
		return version
	}

	return "unknown"
}

// GetBinaryPath returns the path to the executable for the given PID.
func GetBinaryPath(pid int) (string, error) {
	return os.Readlink(filepath.Join(Root, strconv.Itoa(pid), "exe"))
}

package privilege

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CapSysPtrace is the CAP_SYS_PTRACE bit (include/uapi/linux/capability.h).
const CapSysPtrace = 19

// ErrPtraceDenied is returned by CheckPtrace when attaching will fail.
var ErrPtraceDenied = errors.New("ptrace attach is not permitted")

// Yama ptrace_scope values (Documentation/admin-guide/LSM/Yama.rst).
const (
	ScopeUnknown    = -1
	ScopeClassic    = 0
	ScopeRestricted = 1
	ScopeAdminOnly  = 2
	ScopeNoAttach   = 3
)

// ProcRoot is the procfs mount point. Tests point it at a fixture tree.
var ProcRoot = "/proc"

// HasCapability reports whether the effective capability set of the current
// process contains bit.
func HasCapability(bit int) (bool, error) {
	capEff, err := readCapabilityBitmask(filepath.Join(ProcRoot, "self", "status"), "CapEff")
	if err != nil {
		return false, err
	}
	return capEff&(1<<uint(bit)) != 0, nil
}

// PtraceScope returns the Yama ptrace_scope, or ScopeUnknown when Yama is
// not enabled.
func PtraceScope() int {
	data, err := os.ReadFile(filepath.Join(ProcRoot, "sys", "kernel", "yama", "ptrace_scope"))
	if err != nil {
		return ScopeUnknown
	}
	scope, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ScopeUnknown
	}
	return scope
}

// CheckPtrace predicts whether this process may attach to the threads of
// another process. descendant is true when the target was started by this
// process. A nil result does not guarantee success; the owner of the target
// is not checked.
func CheckPtrace(descendant bool) error {
	privileged := IsRoot()
	if !privileged {
		if ok, err := HasCapability(CapSysPtrace); err == nil && ok {
			privileged = true
		}
	}

	switch scope := PtraceScope(); scope {
	case ScopeNoAttach:
		return fmt.Errorf("%w: kernel.yama.ptrace_scope is 3", ErrPtraceDenied)
	case ScopeAdminOnly:
		if !privileged {
			return fmt.Errorf("%w: kernel.yama.ptrace_scope is 2 and CAP_SYS_PTRACE is missing", ErrPtraceDenied)
		}
	case ScopeRestricted:
		if !privileged && !descendant {
			return fmt.Errorf("%w: kernel.yama.ptrace_scope is 1; run the target under stacksampler or grant CAP_SYS_PTRACE", ErrPtraceDenied)
		}
	}

	return nil
}

// readCapabilityBitmask reads a hex capability mask line such as
// "CapEff:\t00000000a80435fb" from a status file.
func readCapabilityBitmask(procStatusPath, capName string) (uint64, error) {
	file, err := os.Open(procStatusPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", procStatusPath, err)
	}
	defer file.Close() // nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, capName+":") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, fmt.Errorf("invalid %s format: %s", capName, line)
		}

		bitmask, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s bitmask: %w", capName, err)
		}
		return bitmask, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", procStatusPath, err)
	}

	return 0, fmt.Errorf("%s not found in %s", capName, procStatusPath)
}

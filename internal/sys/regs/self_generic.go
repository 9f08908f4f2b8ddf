//go:build !amd64 && !arm64

package regs

import (
	"runtime"
	"unsafe"
)

// captureRegs approximates the caller's registers without assembly. The
// frame pointer is not observable here and is reported as zero.
//
//go:noinline
func captureRegs() (pc, sp, fp uintptr) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	var marker byte
	return pcs[0], uintptr(unsafe.Pointer(&marker)), 0
}

// Package regs extracts the program counter, stack pointer and frame pointer
// from a captured thread register context.
//
// The layout of a captured context depends on the operating system and the
// CPU architecture, so every supported GOOS/GOARCH pair provides its own
// Context type in a build-tagged file. All of them implement Snapshot.
package regs

// Registers holds the registers the sampler records for a thread.
type Registers struct {
	PC uintptr
	SP uintptr
	FP uintptr
}

// Snapshot is a register context captured from a stopped thread.
type Snapshot interface {
	Registers() Registers
}

// CaptureSelf returns the registers of the calling thread as of the capture
// point inside CaptureSelf.
//
//go:noinline
func CaptureSelf() Registers {
	pc, sp, fp := captureRegs()
	return Registers{PC: pc, SP: sp, FP: fp}
}

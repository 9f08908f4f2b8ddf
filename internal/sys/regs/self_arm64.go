package regs

// captureRegs returns the link register, the caller's stack pointer and the
// caller's frame pointer.
func captureRegs() (pc, sp, fp uintptr)

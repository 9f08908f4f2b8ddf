package regs

// captureRegs returns its return address, the caller's stack pointer and the
// caller's frame pointer.
func captureRegs() (pc, sp, fp uintptr)

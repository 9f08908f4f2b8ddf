//go:build windows

package regs

const (
	contextARM64   = 0x00400000
	contextControl = contextARM64 | 0x1
	contextInteger = contextARM64 | 0x2

	contextFlags = contextControl | contextInteger
)

type neon128 struct {
	low  uint64
	high int64
}

// Context mirrors the Win32 CONTEXT structure on arm64.
type Context struct {
	ContextFlags uint32
	cpsr         uint32
	x            [31]uint64 // fp is x29, lr is x30
	xsp          uint64
	pc           uint64
	v            [32]neon128
	fpcr         uint32
	fpsr         uint32
	bcr          [8]uint32
	bvr          [8]uint64
	wcr          [2]uint32
	wvr          [2]uint64
}

// Registers implements Snapshot.
func (c *Context) Registers() Registers {
	return Registers{PC: uintptr(c.pc), SP: uintptr(c.xsp), FP: uintptr(c.x[29])}
}

//go:build windows

package regs

const (
	contextAMD64         = 0x00100000
	contextControl       = contextAMD64 | 0x1
	contextInteger       = contextAMD64 | 0x2
	contextFloatingPoint = contextAMD64 | 0x8

	// Control registers alone make RtlVirtualUnwind crash on x64, so the
	// full context is requested.
	contextFlags = contextControl | contextInteger | contextFloatingPoint
)

type m128a struct {
	low  uint64
	high int64
}

// Context mirrors the Win32 CONTEXT structure on x64.
type Context struct {
	p1home uint64
	p2home uint64
	p3home uint64
	p4home uint64
	p5home uint64
	p6home uint64

	ContextFlags uint32
	mxcsr        uint32

	segcs  uint16
	segds  uint16
	seges  uint16
	segfs  uint16
	seggs  uint16
	segss  uint16
	eflags uint32

	dr0 uint64
	dr1 uint64
	dr2 uint64
	dr3 uint64
	dr6 uint64
	dr7 uint64

	rax uint64
	rcx uint64
	rdx uint64
	rbx uint64
	rsp uint64
	rbp uint64
	rsi uint64
	rdi uint64
	r8  uint64
	r9  uint64
	r10 uint64
	r11 uint64
	r12 uint64
	r13 uint64
	r14 uint64
	r15 uint64

	rip uint64

	fltsave [512]byte

	vectorregister [26]m128a
	vectorcontrol  uint64

	debugcontrol         uint64
	lastbranchtorip      uint64
	lastbranchfromrip    uint64
	lastexceptiontorip   uint64
	lastexceptionfromrip uint64
}

// Registers implements Snapshot.
func (c *Context) Registers() Registers {
	return Registers{PC: uintptr(c.rip), SP: uintptr(c.rsp), FP: uintptr(c.rbp)}
}
